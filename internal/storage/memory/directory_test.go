package memory

import (
	"context"
	"testing"

	"github.com/madkernel/server/framework/module"
)

func TestCreateAndQueryCredentials(t *testing.T) {
	d := NewDirectory()

	id, err := d.CreateAccount("testuser@example.com", "password123", module.PrincipalIndividual)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	p, err := d.QueryCredentials(context.Background(), module.PlainCredentials{Username: "testuser@example.com", Secret: "password123"}, false)
	if err != nil {
		t.Fatalf("QueryCredentials with correct password failed: %v", err)
	}
	if p == nil || p.ID != id {
		t.Errorf("expected principal#%d, got %+v", id, p)
	}

	p, err = d.QueryCredentials(context.Background(), module.PlainCredentials{Username: "testuser@example.com", Secret: "wrongpassword"}, false)
	if err != nil {
		t.Errorf("QueryCredentials with wrong password returned error: %v", err)
	}
	if p != nil {
		t.Errorf("QueryCredentials with wrong password should miss, got %+v", p)
	}

	p, err = d.QueryCredentials(context.Background(), module.PlainCredentials{Username: "nonexistent@example.com", Secret: "password"}, false)
	if err != nil {
		t.Errorf("QueryCredentials for unknown user returned error: %v", err)
	}
	if p != nil {
		t.Errorf("QueryCredentials for unknown user should miss, got %+v", p)
	}
}

func TestDuplicateAccountRejected(t *testing.T) {
	d := NewDirectory()
	if _, err := d.CreateAccount("duplicate@example.com", "password", module.PrincipalIndividual); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := d.CreateAccount("duplicate@example.com", "password", module.PrincipalIndividual); err != errAccountExists {
		t.Errorf("expected errAccountExists, got %v", err)
	}
}

func TestQueryByNameAndID(t *testing.T) {
	d := NewDirectory()
	id, err := d.CreateAccount("alice@example.com", "password", module.PrincipalIndividual)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	byName, err := d.Query(context.Background(), module.QueryByName, "alice@example.com", false)
	if err != nil || byName == nil || byName.ID != id {
		t.Errorf("Query by name failed: %+v, %v", byName, err)
	}

	byID, err := d.Query(context.Background(), module.QueryByID, "1", false)
	if err != nil || byID == nil || byID.ID != id {
		t.Errorf("Query by id failed: %+v, %v", byID, err)
	}

	miss, err := d.Query(context.Background(), module.QueryByName, "nobody@example.com", false)
	if err != nil {
		t.Errorf("Query for unknown name returned error: %v", err)
	}
	if miss != nil {
		t.Errorf("Query for unknown name should miss, got %+v", miss)
	}
}

func TestOAuthBearerCredentialsAlwaysMisses(t *testing.T) {
	d := NewDirectory()
	if _, err := d.CreateAccount("bob@example.com", "password", module.PrincipalIndividual); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	p, err := d.QueryCredentials(context.Background(), module.OAuthBearerCredentials{Token: "whatever"}, false)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("bearer credentials should never match a reference directory account, got %+v", p)
	}
}

func TestCountPrincipals(t *testing.T) {
	d := NewDirectory()
	for _, name := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if _, err := d.CreateAccount(name, "password", module.PrincipalIndividual); err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
	}
	n, err := d.CountPrincipals(context.Background(), module.PrincipalIndividual)
	if err != nil {
		t.Fatalf("CountPrincipals failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 principals, got %d", n)
	}
}

func TestPasswordHash(t *testing.T) {
	d := NewDirectory()
	id, err := d.CreateAccount("hashme@example.com", "password", module.PrincipalIndividual)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	hash, err := d.PasswordHash(context.Background(), id)
	if err != nil {
		t.Fatalf("PasswordHash failed: %v", err)
	}
	if hash == "" || hash == "password" {
		t.Errorf("expected a bcrypt hash, got %q", hash)
	}

	if _, err := d.PasswordHash(context.Background(), 12345); err == nil {
		t.Errorf("expected ErrAccountGone for unknown account")
	}
}

func TestPasswordHashRejectsFallbackAdminSentinel(t *testing.T) {
	d := NewDirectory()
	if _, err := d.PasswordHash(context.Background(), ^uint32(0)); err == nil {
		t.Errorf("expected ErrAccountGone for the fallback-admin sentinel id")
	}
}

func TestAuthPlain(t *testing.T) {
	d := NewDirectory()
	if _, err := d.CreateAccount("plain@example.com", "secret", module.PrincipalIndividual); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	if err := d.AuthPlain("plain@example.com", "secret"); err != nil {
		t.Errorf("expected success for correct password, got %v", err)
	}
	if err := d.AuthPlain("plain@example.com", "wrong"); err != module.ErrUnknownCredentials {
		t.Errorf("expected ErrUnknownCredentials, got %v", err)
	}
	if err := d.AuthPlain("nobody@example.com", "secret"); err != module.ErrUnknownCredentials {
		t.Errorf("expected ErrUnknownCredentials for unknown user, got %v", err)
	}
}
