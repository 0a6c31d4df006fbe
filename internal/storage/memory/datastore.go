package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/madkernel/server/framework/module"
)

// DataStore is an in-memory module.DataStore, backing Core.TotalQueuedMessages
// and similar key-range scans over a sorted snapshot of its keys.
type DataStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewDataStore builds an empty store.
func NewDataStore() *DataStore {
	return &DataStore{m: make(map[string][]byte)}
}

// Put is a test/bootstrap helper; production callers reach the store only
// through Iterate/Put via higher layers (ingest, queue).
func (d *DataStore) Put(key, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[string(key)] = append([]byte(nil), value...)
}

func (d *DataStore) Delete(key []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, string(key))
}

// Iterate implements module.DataStore: it snapshots matching keys in
// sorted order, then invokes f until f returns false or an error.
func (d *DataStore) Iterate(_ context.Context, params module.IterateParams, f func(key, value []byte) (bool, error)) error {
	d.mu.RLock()
	keys := make([]string, 0, len(d.m))
	for k := range d.m {
		keys = append(keys, k)
	}
	d.mu.RUnlock()
	sort.Strings(keys)

	for _, k := range keys {
		kb := []byte(k)
		if len(params.Prefix) > 0 && !bytes.HasPrefix(kb, params.Prefix) {
			continue
		}
		if params.Begin != nil && bytes.Compare(kb, params.Begin) < 0 {
			continue
		}
		if params.End != nil && bytes.Compare(kb, params.End) >= 0 {
			continue
		}
		d.mu.RLock()
		v, ok := d.m[k]
		d.mu.RUnlock()
		if !ok {
			continue
		}
		cont, err := f(kb, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// BlobStore is an in-memory, content-addressed module.BlobStore: the
// address is the sha256 digest of the content, so identical messages
// share one blob.
type BlobStore struct {
	mu sync.RWMutex
	m  map[module.BlobHash][]byte
}

// NewBlobStore builds an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{m: make(map[module.BlobHash][]byte)}
}

func (b *BlobStore) Get(_ context.Context, hash module.BlobHash) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[hash]
	if !ok {
		return nil, errBlobNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b *BlobStore) Put(_ context.Context, data []byte) (module.BlobHash, error) {
	hash := module.BlobHash(sha256.Sum256(data))
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.m[hash]; !ok {
		b.m[hash] = append([]byte(nil), data...)
	}
	return hash, nil
}
