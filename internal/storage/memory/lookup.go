// Package memory implements the in-memory reference backend for the
// collaborator interfaces the kernel consumes (module.LookupStore,
// module.DataStore, module.Directory, module.BlobStore): plain maps
// guarded by RWMutexes, holding arbitrary byte values with TTL.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// LookupStore is an in-memory module.LookupStore with honored TTLs,
// suitable for OAuthCode records and access-token bookkeeping in tests
// and small deployments.
type LookupStore struct {
	mu sync.RWMutex
	m  map[string]entry

	stop chan struct{}
}

// NewLookupStore builds an empty store and starts its background sweep.
func NewLookupStore() *LookupStore {
	s := &LookupStore{m: make(map[string]entry), stop: make(chan struct{})}
	go s.sweepLoop()
	return s
}

func (s *LookupStore) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

func (s *LookupStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, e := range s.m {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(s.m, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Get implements module.LookupStore.
func (s *LookupStore) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.m[string(key)]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.m, string(key))
		s.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set implements module.LookupStore. ttl <= 0 means no expiry.
func (s *LookupStore) Set(_ context.Context, key, value []byte, ttl int64) error {
	v := make([]byte, len(value))
	copy(v, value)
	e := entry{value: v}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(time.Duration(ttl) * time.Second)
	}
	s.mu.Lock()
	s.m[string(key)] = e
	s.mu.Unlock()
	return nil
}

// Delete implements module.LookupStore.
func (s *LookupStore) Delete(_ context.Context, key []byte) error {
	s.mu.Lock()
	delete(s.m, string(key))
	s.mu.Unlock()
	return nil
}
