package directory

import (
	"context"
	"testing"

	"github.com/madkernel/server/framework/log"
	"github.com/madkernel/server/framework/module"
	"github.com/madkernel/server/internal/core"
	"github.com/madkernel/server/internal/storage/memory"
)

func newFacadeFixture(t *testing.T) (*Facade, *memory.Directory, *memory.Directory) {
	t.Helper()
	primary := memory.NewDirectory()
	named := memory.NewDirectory()
	snap := &core.Core{
		Storage: core.Storage{
			Primary:     primary,
			Directories: map[string]module.Directory{"internal": named},
		},
		Log: log.Logger{Name: "test"},
	}
	return New(snap, 42), primary, named
}

func TestFacadeNamedFallsBackToPrimary(t *testing.T) {
	f, primary, named := newFacadeFixture(t)

	if f.Named("internal") != module.Directory(named) {
		t.Errorf("expected the registered directory for its name")
	}
	if f.Named("unknown") != module.Directory(primary) {
		t.Errorf("expected fallback to primary for an unknown name")
	}
	if f.Primary() != module.Directory(primary) {
		t.Errorf("Primary must return the snapshot's primary directory")
	}
}

func TestFacadeQueryCredentials(t *testing.T) {
	f, primary, _ := newFacadeFixture(t)
	id, err := primary.CreateAccount("carol", "secret", module.PrincipalIndividual)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	p, err := f.QueryCredentials(context.Background(), "", module.PlainCredentials{Username: "carol", Secret: "secret"}, false)
	if err != nil || p == nil || p.ID != id {
		t.Fatalf("QueryCredentials = %+v, %v", p, err)
	}

	p, err = f.QueryCredentials(context.Background(), "", module.PlainCredentials{Username: "carol", Secret: "wrong"}, false)
	if err != nil || p != nil {
		t.Errorf("expected miss for wrong secret, got %+v, %v", p, err)
	}
}

func TestFacadeQueryNameAndID(t *testing.T) {
	f, primary, _ := newFacadeFixture(t)
	id, err := primary.CreateAccount("dave", "secret", module.PrincipalIndividual)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	p, err := f.QueryName(context.Background(), "", "dave", false)
	if err != nil || p == nil || p.ID != id {
		t.Fatalf("QueryName = %+v, %v", p, err)
	}

	p, err = f.QueryID(context.Background(), "", id, false)
	if err != nil || p == nil || p.Name != "dave" {
		t.Fatalf("QueryID = %+v, %v", p, err)
	}
}
