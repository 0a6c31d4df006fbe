package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/madkernel/server/framework/log"
	"github.com/madkernel/server/framework/module"
)

type fakeDirectory struct {
	byCredentials map[string]*module.Principal
	byName        map[string]*module.Principal
	err           error
}

func (d *fakeDirectory) Query(ctx context.Context, by module.QueryBy, key string, _ bool) (*module.Principal, error) {
	if d.err != nil {
		return nil, d.err
	}
	switch by {
	case module.QueryByName:
		if p, ok := d.byName[key]; ok {
			return p, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func (d *fakeDirectory) QueryCredentials(ctx context.Context, creds module.Credentials, _ bool) (*module.Principal, error) {
	if d.err != nil {
		return nil, d.err
	}
	if p, ok := d.byCredentials[creds.Login()]; ok {
		return p, nil
	}
	return nil, nil
}

func (d *fakeDirectory) CountPrincipals(ctx context.Context, typ module.PrincipalType) (uint64, error) {
	return 0, nil
}

func hash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

// Fallback admin matches when the directory returns nothing.
func TestPipelineFallbackAdmin(t *testing.T) {
	p := &Pipeline{
		Log:           log.Logger{Name: "test"},
		FallbackAdmin: &AdminPrincipal{Name: "root", PasswordHash: hash(t, "pw")},
	}
	dir := &fakeDirectory{byCredentials: map[string]*module.Principal{}}

	principal, err := p.Authenticate(context.Background(), dir, 1, module.PlainCredentials{Username: "root", Secret: "pw"}, "1.2.3.4", false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if principal.ID != FallbackAdminAccountID || principal.Name != "root" {
		t.Errorf("unexpected principal: %+v", principal)
	}
}

// Master user suffix is stripped before re-querying the directory.
func TestPipelineMasterUserSuffixStrip(t *testing.T) {
	p := &Pipeline{
		Log:        log.Logger{Name: "test"},
		MasterUser: &MasterUser{Suffix: "@admin", PasswordHash: hash(t, "pw")},
	}
	alice := &module.Principal{ID: 7, Name: "alice"}
	dir := &fakeDirectory{
		byCredentials: map[string]*module.Principal{},
		byName:        map[string]*module.Principal{"alice": alice},
	}

	principal, err := p.Authenticate(context.Background(), dir, 1, module.PlainCredentials{Username: "alice%@admin", Secret: "pw"}, "1.2.3.4", false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if principal.ID != 7 {
		t.Errorf("expected principal#7, got %+v", principal)
	}
}

// MissingTOTP short-circuits the fallback-admin path.
func TestPipelineMissingTOTPShortCircuits(t *testing.T) {
	p := &Pipeline{
		Log:           log.Logger{Name: "test"},
		FallbackAdmin: &AdminPrincipal{Name: "root", PasswordHash: hash(t, "pw")},
	}
	dir := &fakeDirectory{err: module.ErrMissingTOTP}

	_, err := p.Authenticate(context.Background(), dir, 1, module.PlainCredentials{Username: "root", Secret: "pw"}, "1.2.3.4", false)
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Kind != MissingTOTP {
		t.Fatalf("expected MissingTOTP, got %v", err)
	}
}

func TestPipelineFailToBanTripsThreshold(t *testing.T) {
	p := &Pipeline{
		Log:      log.Logger{Name: "test"},
		Fail2Ban: NewFail2Ban(2, time.Minute),
	}
	defer p.Fail2Ban.Stop()
	dir := &fakeDirectory{byCredentials: map[string]*module.Principal{}}

	creds := module.PlainCredentials{Username: "bob", Secret: "wrong"}
	_, err1 := p.Authenticate(context.Background(), dir, 1, creds, "9.9.9.9", false)
	var authErr *Error
	if !errors.As(err1, &authErr) || authErr.Kind != Failed {
		t.Fatalf("expected first failure to be Failed, got %v", err1)
	}

	_, err2 := p.Authenticate(context.Background(), dir, 1, creds, "9.9.9.9", false)
	if !errors.As(err2, &authErr) || authErr.Kind != Banned {
		t.Fatalf("expected second failure to ban, got %v", err2)
	}
	if authErr.RemoteIP != "9.9.9.9" || authErr.AccountName != "bob" {
		t.Errorf("ban error missing context: %+v", authErr)
	}
}
