package delivery

import (
	"context"
	"sync"

	"github.com/madkernel/server/framework/log"
	"github.com/madkernel/server/framework/module"
)

// Broadcaster fans a module.StateChange out to every subscribed listener,
// in-process: a mutex-guarded registry plus per-listener buffered
// delivery. Cross-process propagation belongs to the protocol front-ends,
// not here.
type Broadcaster struct {
	Log log.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]chan module.StateChange
}

// NewBroadcaster builds an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[uint64]chan module.StateChange)}
}

// Subscribe registers a new listener with the given buffer depth and
// returns its id (for Unsubscribe) and receive-only channel.
func (b *Broadcaster) Subscribe(buffer int) (id uint64, ch <-chan module.StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id = b.nextID
	c := make(chan module.StateChange, buffer)
	b.listeners[id] = c
	return id, c
}

// Unsubscribe removes and closes a listener previously returned by
// Subscribe.
func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.listeners[id]; ok {
		delete(b.listeners, id)
		close(c)
	}
}

// BroadcastStateChange implements module.StateBroadcaster. Delivery to a
// slow listener is best-effort: a full listener channel is skipped rather
// than blocking the ingest transaction that triggered the broadcast, and
// the miss is logged the same way Core's named-resource misses are.
func (b *Broadcaster) BroadcastStateChange(_ context.Context, change module.StateChange) {
	module.IncrementBroadcastChanges()
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.listeners {
		select {
		case c <- change:
		default:
			b.Log.DebugMsg("dropped state change, listener not keeping up", "listener_id", id, "account_id", change.AccountID)
		}
	}
}

var _ module.StateBroadcaster = (*Broadcaster)(nil)
