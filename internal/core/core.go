// Package core implements the hot-swappable configuration snapshot: an
// immutable bundle of storage handles, protocol configs, and security
// state, published by atomic pointer swap and rebuilt wholesale on
// reload rather than mutated in place.
package core

import (
	"context"
	"sync/atomic"

	"github.com/madkernel/server/framework/log"
	"github.com/madkernel/server/framework/module"
)

// ArcSealer signs outgoing mail with ARC; it is an external collaborator.
// The kernel only ever resolves one by name and hands it back unopened.
type ArcSealer interface {
	Name() string
}

// DkimSigner signs outgoing mail with DKIM; same story as ArcSealer.
type DkimSigner interface {
	Name() string
}

// SieveScript is a compiled user or administrator Sieve script.
type SieveScript interface {
	Name() string
}

// RelayHost is a configured SMTP queue relay target.
type RelayHost interface {
	Name() string
}

// Storage bundles the data plane handles a snapshot publishes: the
// primary data/blob/lookup stores plus named secondary directories and
// lookup stores that get_directory/get_lookup_store resolve by name.
type Storage struct {
	Data    module.DataStore
	Blob    module.BlobStore
	Lookup  module.LookupStore
	Primary module.Directory

	Directories  map[string]module.Directory
	LookupStores map[string]module.LookupStore
}

// SMTPConfig bundles the named signer/sealer/relay tables SMTP submission
// and outbound delivery consult.
type SMTPConfig struct {
	ArcSealers  map[string]ArcSealer
	DkimSigners map[string]DkimSigner
	RelayHosts  map[string]RelayHost
}

// AdminPrincipal is a (name, password_hash) pair used for the
// fallback-admin and master-user escape hatches.
type AdminPrincipal struct {
	Name         string
	PasswordHash string
}

// MasterUser additionally carries the suffix stripped from the presented
// username before the directory is re-queried by the bare name.
type MasterUser struct {
	Suffix       string
	PasswordHash string
}

// JMAPConfig bundles the OAuth-relevant settings plus the fallback/master
// user escape hatches the authentication pipeline consults.
type JMAPConfig struct {
	FallbackAdmin *AdminPrincipal
	MasterUser    *MasterUser

	OAuthKey []byte

	OAuthExpiryAccessToken       int64
	OAuthExpiryRefreshToken      int64
	OAuthExpiryRefreshTokenRenew int64
	OAuthExpiryAuthCode          int64
}

// IMAPConfig bundles IMAP-side settings the kernel cares about; the wire
// grammar itself lives outside this module's scope.
type IMAPConfig struct {
	// MaxAppendMessageSize bounds a single APPEND literal.
	MaxAppendMessageSize int64
}

// Sieve bundles trusted (administrator-installed) and untrusted
// (user-installed) named scripts.
type Sieve struct {
	Trusted   map[string]SieveScript
	Untrusted map[string]SieveScript
}

// Network carries node identity and the IP allow/block lists HTTP and
// protocol front-ends consult before accepting a connection.
type Network struct {
	NodeID       string
	BlockedIPs   map[string]struct{}
	AllowedIPs   map[string]struct{}
	HTTPPolicies []string
}

// Enterprise is an opaque extension point for add-ons the kernel never
// inspects directly.
type Enterprise struct {
	Name string
	Data map[string]interface{}
}

// Core is the immutable, atomically-swappable configuration snapshot.
// Once published, none of its fields are ever
// mutated; a reload builds a brand new Core and swaps the pointer.
type Core struct {
	Storage Storage
	SMTP    SMTPConfig
	JMAP    JMAPConfig
	IMAP    IMAPConfig
	Sieve   Sieve
	TLS     TLSManager
	Network Network

	Security *Security

	Enterprise *Enterprise

	Log log.Logger
}

// TLSManager is the minimal surface the kernel needs from whatever
// terminates TLS; certificate sourcing is entirely out of scope.
type TLSManager interface {
	Name() string
}

// SharedCore is a pointer to an atomically swappable Core. Every protocol
// front-end holds one of these; a request loads it once and uses the same
// snapshot for its whole lifetime, so no request ever observes a torn mix
// of two generations.
type SharedCore struct {
	ptr atomic.Pointer[Core]
}

// NewSharedCore wraps an initial Core.
func NewSharedCore(initial *Core) *SharedCore {
	sc := &SharedCore{}
	sc.ptr.Store(initial)
	return sc
}

// Load returns the current snapshot. Safe to call from any number of
// concurrent goroutines without locking.
func (sc *SharedCore) Load() *Core {
	return sc.ptr.Load()
}

// Swap atomically publishes next as the current snapshot. Readers that
// already loaded the previous snapshot keep using it until they finish
// their request; nothing is mutated under them.
func (sc *SharedCore) Swap(next *Core) {
	sc.ptr.Store(next)
}

// missEvent is the structured log line emitted whenever a named-resource
// lookup falls through to its default (or to nothing, for resources with
// no default); every named-resource accessor in this file shares it.
func (c *Core) missEvent(kind, name string, sessionID uint64, hasDefault bool) {
	if name == "" && hasDefault {
		// Empty name requests the default silently; not a misconfiguration.
		return
	}
	if hasDefault {
		c.Log.DebugMsg("named resource miss, using default", "kind", kind, "name", name, "session_id", sessionID)
	} else {
		c.Log.Error("named resource not found", errNotFound, "kind", kind, "name", name, "session_id", sessionID)
	}
}

// GetDirectory resolves an exact match only; no default, no miss-event.
func (c *Core) GetDirectory(name string) (module.Directory, bool) {
	d, ok := c.Storage.Directories[name]
	return d, ok
}

// GetDirectoryOrDefault resolves name exactly, falling back to the
// primary directory and emitting a miss-event tagged with sessionID. An
// empty name is treated as "use the default" and never logs.
func (c *Core) GetDirectoryOrDefault(name string, sessionID uint64) module.Directory {
	if d, ok := c.Storage.Directories[name]; ok {
		return d
	}
	c.missEvent("directory", name, sessionID, true)
	return c.Storage.Primary
}

// GetLookupStore mirrors GetDirectoryOrDefault over named lookup stores,
// falling back to the snapshot's primary lookup store.
func (c *Core) GetLookupStore(name string, sessionID uint64) module.LookupStore {
	if s, ok := c.Storage.LookupStores[name]; ok {
		return s
	}
	c.missEvent("lookup_store", name, sessionID, true)
	return c.Storage.Lookup
}

// GetArcSealer resolves by exact name only; a miss is reported distinctly
// (no default exists for signers) and nil is returned.
func (c *Core) GetArcSealer(name string, sessionID uint64) ArcSealer {
	if s, ok := c.SMTP.ArcSealers[name]; ok {
		return s
	}
	c.missEvent("arc_sealer", name, sessionID, false)
	return nil
}

// GetDkimSigner resolves by exact name only.
func (c *Core) GetDkimSigner(name string, sessionID uint64) DkimSigner {
	if s, ok := c.SMTP.DkimSigners[name]; ok {
		return s
	}
	c.missEvent("dkim_signer", name, sessionID, false)
	return nil
}

// GetTrustedSieveScript resolves an administrator-installed script.
func (c *Core) GetTrustedSieveScript(name string, sessionID uint64) SieveScript {
	if s, ok := c.Sieve.Trusted[name]; ok {
		return s
	}
	c.missEvent("sieve_trusted", name, sessionID, false)
	return nil
}

// GetUntrustedSieveScript resolves a user-installed script.
func (c *Core) GetUntrustedSieveScript(name string, sessionID uint64) SieveScript {
	if s, ok := c.Sieve.Untrusted[name]; ok {
		return s
	}
	c.missEvent("sieve_untrusted", name, sessionID, false)
	return nil
}

// GetRelayHost resolves a configured queue relay target by name.
func (c *Core) GetRelayHost(name string, sessionID uint64) RelayHost {
	if r, ok := c.SMTP.RelayHosts[name]; ok {
		return r
	}
	c.missEvent("relay_host", name, sessionID, false)
	return nil
}

// queueMessagePrefix is the key-range prefix total_queued_messages scans.
// Keys are shaped "queue/message/<id>"; the iterator only needs to count
// them so it is given a values-skipped callback.
var queueMessagePrefix = []byte("queue/message/")

// TotalQueuedMessages counts keys in the queue-message range via a
// values-skipped iterator rather than a separate counter that could
// drift out of sync with the store.
func (c *Core) TotalQueuedMessages(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.Storage.Data.Iterate(ctx, module.IterateParams{Prefix: queueMessagePrefix}, func(key, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// TotalAccounts counts directory principals of type Individual.
func (c *Core) TotalAccounts(ctx context.Context) (uint64, error) {
	return c.Storage.Primary.CountPrincipals(ctx, module.PrincipalIndividual)
}

// TotalDomains counts directory principals of type Domain.
func (c *Core) TotalDomains(ctx context.Context) (uint64, error) {
	return c.Storage.Primary.CountPrincipals(ctx, module.PrincipalDomain)
}
