package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/madkernel/server/framework/module"
)

func TestDataStoreIteratePrefix(t *testing.T) {
	d := NewDataStore()
	d.Put([]byte("queue/message/1"), []byte("a"))
	d.Put([]byte("queue/message/2"), []byte("b"))
	d.Put([]byte("other/3"), []byte("c"))

	var got []string
	err := d.Iterate(context.Background(), module.IterateParams{Prefix: []byte("queue/message/")}, func(k, v []byte) (bool, error) {
		got = append(got, string(k))
		return true, nil
	})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 keys under prefix, got %v", got)
	}
}

func TestDataStoreIterateSortedAndStopsEarly(t *testing.T) {
	d := NewDataStore()
	d.Put([]byte("b"), []byte("2"))
	d.Put([]byte("a"), []byte("1"))
	d.Put([]byte("c"), []byte("3"))

	var got []string
	err := d.Iterate(context.Background(), module.IterateParams{}, func(k, v []byte) (bool, error) {
		got = append(got, string(k))
		return len(got) < 2, nil
	})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected sorted [a b], got %v", got)
	}
}

func TestDataStoreDelete(t *testing.T) {
	d := NewDataStore()
	d.Put([]byte("k"), []byte("v"))
	d.Delete([]byte("k"))

	var got []string
	d.Iterate(context.Background(), module.IterateParams{}, func(k, v []byte) (bool, error) {
		got = append(got, string(k))
		return true, nil
	})
	if len(got) != 0 {
		t.Errorf("expected empty store after delete, got %v", got)
	}
}

func TestBlobStorePutGetDedup(t *testing.T) {
	b := NewBlobStore()
	ctx := context.Background()

	h1, err := b.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	h2, err := b.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("Put (dup) failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected identical content to hash the same: %v != %v", h1, h2)
	}

	data, err := b.Get(ctx, h1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Errorf("expected %q, got %q", "hello", data)
	}
}

func TestBlobStoreGetMissing(t *testing.T) {
	b := NewBlobStore()
	_, err := b.Get(context.Background(), module.BlobHash{})
	if err != errBlobNotFound {
		t.Errorf("expected errBlobNotFound, got %v", err)
	}
}
