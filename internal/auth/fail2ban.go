// Package auth implements the credential-verification pipeline:
// directory lookup, the fallback-admin and master-user escape hatches,
// and fail-to-ban coupling, in that tie-break order.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/madkernel/server/internal/metrics"
)

const shardCount = 16

// attemptRecord tracks one (remote_ip, login) pair's failure count within
// the current window.
type attemptRecord struct {
	count      int
	windowEnds time.Time
}

// Fail2Ban is a sharded, salted map from (remote_ip, login) to recent
// failure counts, queried once per failed authentication the way
// servertracker.Tracker is queried once per connection: a salted SHA-256
// digest is the map key so the table itself never holds cleartext IPs or
// account names, and a background sweep evicts expired windows instead of
// growing forever.
type Fail2Ban struct {
	Threshold int
	Window    time.Duration

	salt   [32]byte
	shards [shardCount]struct {
		mu sync.Mutex
		m  map[string]*attemptRecord
	}

	stop chan struct{}
}

// NewFail2Ban builds a tracker that bans after threshold failures within
// window for the same (remote_ip, login) pair.
func NewFail2Ban(threshold int, window time.Duration) *Fail2Ban {
	f := &Fail2Ban{Threshold: threshold, Window: window, stop: make(chan struct{})}
	if _, err := rand.Read(f.salt[:]); err != nil {
		// crypto/rand failing means the platform is unusable; prefer a
		// fixed-but-present salt over leaving the table keyed on nothing.
		copy(f.salt[:], []byte("fail2ban-fallback-salt-32-bytes!"))
	}
	for i := range f.shards {
		f.shards[i].m = make(map[string]*attemptRecord)
	}
	go f.sweepLoop()
	return f
}

func (f *Fail2Ban) Stop() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
}

func (f *Fail2Ban) key(remoteIP, login string) (shard int, digest string) {
	h := sha256.New()
	h.Write(f.salt[:])
	h.Write([]byte(remoteIP))
	h.Write([]byte{0})
	h.Write([]byte(login))
	sum := h.Sum(nil)
	digest = hex.EncodeToString(sum)
	shard = int(sum[0]) % shardCount
	return
}

// RecordFailure registers one failed attempt and reports whether the
// threshold has now been tripped.
func (f *Fail2Ban) RecordFailure(remoteIP, login string) (banned bool) {
	shard, digest := f.key(remoteIP, login)
	s := &f.shards[shard]
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec, ok := s.m[digest]
	if !ok || now.After(rec.windowEnds) {
		rec = &attemptRecord{count: 0, windowEnds: now.Add(f.Window)}
		s.m[digest] = rec
	}
	rec.count++
	banned = rec.count >= f.Threshold
	if banned {
		metrics.Fail2BanTrips.Inc()
	}
	return banned
}

func (f *Fail2Ban) sweepLoop() {
	ticker := time.NewTicker(f.Window)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case now := <-ticker.C:
			f.sweepExpired(now)
		}
	}
}

func (f *Fail2Ban) sweepExpired(now time.Time) {
	for i := range f.shards {
		s := &f.shards[i]
		s.mu.Lock()
		for k, rec := range s.m {
			if now.After(rec.windowEnds) {
				delete(s.m, k)
			}
		}
		s.mu.Unlock()
	}
}
