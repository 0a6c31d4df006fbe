package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/madkernel/server/framework/log"
	"github.com/madkernel/server/framework/module"
	"github.com/madkernel/server/internal/storage/memory"
)

func testCore(nodeID string) *Core {
	return &Core{
		Storage: Storage{
			Data:    memory.NewDataStore(),
			Lookup:  memory.NewLookupStore(),
			Primary: memory.NewDirectory(),
		},
		Network: Network{NodeID: nodeID},
		Log:     log.Logger{Name: "test"},
	}
}

// A reader that loads the snapshot once never observes fields from two
// different generations, no matter how often the writer swaps.
func TestSharedCoreSwapConsistency(t *testing.T) {
	a := testCore("node-a")
	b := testCore("node-b")
	sc := NewSharedCore(a)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				sc.Swap(b)
			} else {
				sc.Swap(a)
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		snap := sc.Load()
		id := snap.Network.NodeID
		// Re-reading through the same pointer must agree with itself.
		if snap.Network.NodeID != id {
			t.Fatalf("torn read: %q then %q", id, snap.Network.NodeID)
		}
		if id != "node-a" && id != "node-b" {
			t.Fatalf("unknown snapshot %q", id)
		}
	}
	close(stop)
	wg.Wait()
}

func TestGetDirectoryOrDefaultFallsBack(t *testing.T) {
	c := testCore("n")
	named := memory.NewDirectory()
	c.Storage.Directories = map[string]module.Directory{"internal": named}

	if got := c.GetDirectoryOrDefault("internal", 1); got != named {
		t.Errorf("expected exact match for registered name")
	}
	if got := c.GetDirectoryOrDefault("missing", 1); got != c.Storage.Primary {
		t.Errorf("expected fallback to primary for unknown name")
	}
	if got := c.GetDirectoryOrDefault("", 1); got != c.Storage.Primary {
		t.Errorf("expected empty name to resolve to primary")
	}
}

func TestGetLookupStoreFallsBack(t *testing.T) {
	c := testCore("n")
	named := memory.NewLookupStore()
	defer named.Stop()
	c.Storage.LookupStores = map[string]module.LookupStore{"sessions": named}

	if got := c.GetLookupStore("sessions", 1); got != named {
		t.Errorf("expected exact match for registered name")
	}
	if got := c.GetLookupStore("nope", 1); got != c.Storage.Lookup {
		t.Errorf("expected fallback to primary lookup store")
	}
}

type namedSealer string

func (s namedSealer) Name() string { return string(s) }

func TestNamedResourcesWithoutDefaultReturnNil(t *testing.T) {
	c := testCore("n")
	c.SMTP.ArcSealers = map[string]ArcSealer{"main": namedSealer("main")}

	if got := c.GetArcSealer("main", 1); got == nil || got.Name() != "main" {
		t.Errorf("expected registered sealer, got %v", got)
	}
	if got := c.GetArcSealer("other", 1); got != nil {
		t.Errorf("expected nil for unknown sealer, got %v", got)
	}
	if got := c.GetRelayHost("any", 1); got != nil {
		t.Errorf("expected nil for unknown relay host, got %v", got)
	}
	if got := c.GetTrustedSieveScript("any", 1); got != nil {
		t.Errorf("expected nil for unknown trusted script, got %v", got)
	}
}

func TestTotalQueuedMessagesCountsRange(t *testing.T) {
	c := testCore("n")
	data := c.Storage.Data.(*memory.DataStore)
	data.Put([]byte("queue/message/1"), []byte("x"))
	data.Put([]byte("queue/message/2"), []byte("y"))
	data.Put([]byte("blob/3"), []byte("z"))

	n, err := c.TotalQueuedMessages(context.Background())
	if err != nil {
		t.Fatalf("TotalQueuedMessages: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 queued messages, got %d", n)
	}
}

func TestSecurityCloneSharesTables(t *testing.T) {
	s := NewSecurity()
	defer s.Stop()

	s.PutAccessToken(7, AccessToken{AccountID: 7, Quota: 100}, time.Now().Add(time.Hour))
	clone := s.Clone()

	tok, ok := clone.AccessTokenFor(7)
	if !ok || tok.Quota != 100 {
		t.Fatalf("clone must see the original's access tokens, got %+v, %v", tok, ok)
	}

	clone.PutAccessToken(8, AccessToken{AccountID: 8}, time.Now().Add(time.Hour))
	if _, ok := s.AccessTokenFor(8); !ok {
		t.Errorf("writes through the clone must be visible to the original")
	}
}

func TestPermissionsStaleAfterVersionBump(t *testing.T) {
	s := NewSecurity()
	defer s.Stop()

	s.SetPermissions(3, map[string]bool{"mail.read": true})
	if _, fresh := s.Permissions(3); !fresh {
		t.Fatalf("just-stored permissions must be fresh")
	}

	s.BumpPermissionsVersion()
	if _, fresh := s.Permissions(3); fresh {
		t.Errorf("permissions stored under an older version must read stale")
	}

	s.SetPermissions(3, map[string]bool{"mail.read": true})
	if _, fresh := s.Permissions(3); !fresh {
		t.Errorf("re-derived permissions must be fresh again")
	}
}
