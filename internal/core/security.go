package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// AccessToken is the process-wide cache entry tracked per account for the
// lifetime of a validated bearer token: quota and role context that would
// otherwise require a directory round trip on every request.
type AccessToken struct {
	AccountID uint32
	ClientID  string
	Quota     int64
	ExpiresAt time.Time
}

// RolePermissions is the per-account permission bitset resolved from the
// directory; callers cache it keyed by PermissionsVersion and re-derive
// when that version no longer matches Security.PermissionsVersion.
type RolePermissions struct {
	Version uint8
	Allowed map[string]bool
}

// accessTokenEntry pairs a token with its own expiry so the background
// sweep can evict it without consulting the lookup store.
type accessTokenEntry struct {
	token     AccessToken
	expiresAt time.Time
}

// logoCache is the guarded name -> resource table shared between a
// Security and its clones.
type logoCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

// Security is the process-wide mutable state referenced by every snapshot:
// access-token cache, resolved permissions, the permissions-version
// counter caches compare against, and the logo resource cache. It is
// never rebuilt on reload (only Core is) so that in-flight tokens and
// cached permissions survive a config swap. The tables are held by
// pointer so a clone shares them rather than forking its own copies.
type Security struct {
	accessTokens *sync.Map // uint32 -> accessTokenEntry
	permissions  *sync.Map // uint32 -> RolePermissions

	// permissionsVersion is bumped on any permission change; readers
	// compare their cached RolePermissions.Version against it to decide
	// whether to re-derive. A reader that misses one increment simply
	// re-derives one request later.
	permissionsVersion *atomic.Uint32

	logos *logoCache

	stopSweep chan struct{}
}

// NewSecurity builds an empty Security with a fresh permissions-version
// counter and starts its background access-token sweep.
func NewSecurity() *Security {
	s := &Security{
		accessTokens:       new(sync.Map),
		permissions:        new(sync.Map),
		permissionsVersion: new(atomic.Uint32),
		logos:              &logoCache{m: make(map[string][]byte)},
		stopSweep:          make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Clone preserves the shared access-token and permission tables but resets
// permissionsVersion to a fresh atomic holding the current value. This is
// only safe under a single-clone discipline: Core publishes at most one
// live clone at a time, so the two counters never need to stay in sync
// with each other. Clone does not duplicate the sweep goroutine; the
// original Security's sweep keeps both snapshots' shared tables fresh.
func (s *Security) Clone() *Security {
	v := new(atomic.Uint32)
	v.Store(s.permissionsVersion.Load())
	return &Security{
		accessTokens:       s.accessTokens,
		permissions:        s.permissions,
		permissionsVersion: v,
		logos:              s.logos,
		stopSweep:          s.stopSweep,
	}
}

// Stop halts the background access-token sweep. Intended for the
// original Security only (clones share the same channel and goroutine).
func (s *Security) Stop() {
	select {
	case <-s.stopSweep:
	default:
		close(s.stopSweep)
	}
}

func (s *Security) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case now := <-ticker.C:
			s.sweepExpired(now)
		}
	}
}

func (s *Security) sweepExpired(now time.Time) {
	s.accessTokens.Range(func(k, v interface{}) bool {
		entry := v.(accessTokenEntry)
		if now.After(entry.expiresAt) {
			s.accessTokens.Delete(k)
		}
		return true
	})
}

// PutAccessToken caches tok for accountID until expiresAt.
func (s *Security) PutAccessToken(accountID uint32, tok AccessToken, expiresAt time.Time) {
	s.accessTokens.Store(accountID, accessTokenEntry{token: tok, expiresAt: expiresAt})
}

// AccessTokenFor returns the cached token for accountID, if present and
// not expired.
func (s *Security) AccessTokenFor(accountID uint32) (AccessToken, bool) {
	v, ok := s.accessTokens.Load(accountID)
	if !ok {
		return AccessToken{}, false
	}
	entry := v.(accessTokenEntry)
	if time.Now().After(entry.expiresAt) {
		s.accessTokens.Delete(accountID)
		return AccessToken{}, false
	}
	return entry.token, true
}

// PermissionsVersion returns the current counter value.
func (s *Security) PermissionsVersion() uint8 {
	return uint8(s.permissionsVersion.Load())
}

// BumpPermissionsVersion is called whenever a principal's permissions
// change, invalidating every cached RolePermissions.
func (s *Security) BumpPermissionsVersion() {
	s.permissionsVersion.Add(1)
}

// SetPermissions stores the resolved permissions for accountID stamped
// with the current version.
func (s *Security) SetPermissions(accountID uint32, allowed map[string]bool) {
	s.permissions.Store(accountID, RolePermissions{
		Version: s.PermissionsVersion(),
		Allowed: allowed,
	})
}

// Permissions returns the cached permissions for accountID plus whether
// they are still current (Version == PermissionsVersion()); a caller
// seeing fresh=false must re-derive before honoring them.
func (s *Security) Permissions(accountID uint32) (perms RolePermissions, fresh bool) {
	v, ok := s.permissions.Load(accountID)
	if !ok {
		return RolePermissions{}, false
	}
	perms = v.(RolePermissions)
	return perms, perms.Version == s.PermissionsVersion()
}

// Logo returns the cached resource bytes for name, if any.
func (s *Security) Logo(name string) ([]byte, bool) {
	s.logos.mu.Lock()
	defer s.logos.mu.Unlock()
	b, ok := s.logos.m[name]
	return b, ok
}

// SetLogo stores resource bytes for name.
func (s *Security) SetLogo(name string, data []byte) {
	s.logos.mu.Lock()
	defer s.logos.mu.Unlock()
	s.logos.m[name] = data
}
