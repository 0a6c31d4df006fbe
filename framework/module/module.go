// Package module contains the interfaces implemented by kernel modules and
// the registry that wires them together: each collaborator (directory,
// lookup store, data store, ingest port, broadcaster, ...) is referenced
// only through an interface here, never a concrete type, so internal/core
// can swap implementations without import cycles.
package module

import (
	"context"
	"errors"

	"github.com/madkernel/server/framework/config"
)

// Module is the interface implemented by every kernel module instance.
type Module interface {
	// Init performs actual initialization using the supplied config.Map.
	// Done separately from the factory function so all instances are
	// registered before any of them initialize, letting modules
	// reference each other regardless of configuration-block order.
	Init(*config.Map) error

	// Name reports the module's registered type name.
	Name() string

	// InstanceName reports this instance's unique configuration name.
	InstanceName() string
}

// FuncNewModule constructs a new, uninitialized module instance.
// aliases/inlineArgs follow the directive-inline-argument convention
// (`modtype instname arg1 arg2 { ... }`).
type FuncNewModule func(modName, instName string, aliases, inlineArgs []string) (Module, error)

// ErrUnknownCredentials is returned by directories/auth providers when a
// principal cannot be authenticated with the given credentials.
var ErrUnknownCredentials = errors.New("module: unknown credentials")

// Table is a read-only string->string lookup, implemented by every
// LookupStore-backed configuration table (alias maps, domain lists, ...).
type Table interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// MutableTable extends Table with write access.
type MutableTable interface {
	Table
	SetKey(ctx context.Context, key, value string) error
	RemoveKey(ctx context.Context, key string) error
}

// PlainUserDB is implemented by modules that can verify username/password
// pairs directly (in-memory, SQL-backed, ...).
type PlainUserDB interface {
	AuthPlain(username, password string) error
}

// PrincipalType enumerates the kinds of principal a Directory can hold.
type PrincipalType int

const (
	PrincipalIndividual PrincipalType = iota
	PrincipalGroup
	PrincipalList
	PrincipalDomain
)

// Principal is an authenticated account record, as surfaced by a Directory
// query. Only the portion the kernel consumes is modeled here; the rest
// lives behind the Directory implementation.
type Principal struct {
	ID      uint32
	Type    PrincipalType
	Name    string
	Secrets []string
	Member  []string
}

// QueryBy selects how a Directory.Query call resolves a principal.
type QueryBy int

const (
	QueryByCredentials QueryBy = iota
	QueryByName
	QueryByID
)

// Credentials is implemented by the three credential kinds the
// authentication pipeline accepts.
type Credentials interface {
	// Login returns the username for Plain/XOauth2 credentials, or the
	// raw token string for OAuthBearer.
	Login() string
	isCredentials()
}

// PlainCredentials is a username/secret pair delivered in the clear (or
// over an already-encrypted channel).
type PlainCredentials struct {
	Username string
	Secret   string
}

func (c PlainCredentials) Login() string { return c.Username }
func (PlainCredentials) isCredentials()  {}

// XOAuth2Credentials is the SASL XOAUTH2 username/token pair.
type XOAuth2Credentials struct {
	Username string
	Secret   string
}

func (c XOAuth2Credentials) Login() string { return c.Username }
func (XOAuth2Credentials) isCredentials()  {}

// OAuthBearerCredentials is a bare bearer token presented via SASL
// OAUTHBEARER.
type OAuthBearerCredentials struct {
	Token string
}

func (c OAuthBearerCredentials) Login() string { return c.Token }
func (OAuthBearerCredentials) isCredentials()  {}

// ErrMissingTOTP signals that the directory requires a second factor the
// caller did not present; callers must not fall through to fallback/master
// users when they see this.
var ErrMissingTOTP = errors.New("module: missing totp")

// Directory is the query contract the core consumes; the backend (LDAP,
// SQL, internal) lives entirely outside this kernel's scope.
//
// Query resolves QueryByName/QueryByID against a plain string key.
// QueryByCredentials carries more than a single string (a username plus
// a secret, or a bare bearer token), so it is a separate method rather
// than overloading key's shape per QueryBy value.
type Directory interface {
	Query(ctx context.Context, by QueryBy, key string, returnMemberOf bool) (*Principal, error)
	QueryCredentials(ctx context.Context, creds Credentials, returnMemberOf bool) (*Principal, error)
	CountPrincipals(ctx context.Context, typ PrincipalType) (uint64, error)
}

// LookupStore is a generic key/value store with implicit backend-honored
// TTL, used for OAuthCode records, access-token bookkeeping, and any other
// short-lived keyed state.
type LookupStore interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Set(ctx context.Context, key, value []byte, ttl int64) error
	Delete(ctx context.Context, key []byte) error
}

// IterateParams configures a DataStore.Iterate scan.
type IterateParams struct {
	Prefix []byte
	Begin  []byte
	End    []byte
}

// DataStore supports the raw keyed iteration the queue/quota counters in
// Core rely on (e.g. total_queued_messages's key-range scan).
type DataStore interface {
	Iterate(ctx context.Context, params IterateParams, f func(key, value []byte) (bool, error)) error
}

// BlobHash identifies a blob by its content address.
type BlobHash [32]byte

// BlobStore is the content-addressed blob backend consumed by ingest.
type BlobStore interface {
	Get(ctx context.Context, hash BlobHash) ([]byte, error)
	Put(ctx context.Context, data []byte) (BlobHash, error)
}

// Keyword is an IMAP/JMAP message flag/keyword.
type Keyword string

// IngestEmail is the request shape email_ingest consumes.
type IngestEmail struct {
	Raw            []byte
	AccountID      uint32
	AccountQuota   int64
	MailboxIDs     []uint32
	Keywords       []Keyword
	ReceivedAt     int64
	SkipDuplicates bool
}

// IngestOutcome is the (document_id, change_id) pair returned on success.
type IngestOutcome struct {
	DocumentID uint32
	ChangeID   uint64
}

// IngestErrorKind distinguishes retryable, quota, and permanent ingest
// failures.
type IngestErrorKind int

const (
	IngestTemporary IngestErrorKind = iota
	IngestOverQuota
	IngestPermanent
)

// IngestError wraps an ingest failure with its kind and, for Permanent,
// the caller-facing reason.
type IngestError struct {
	Kind   IngestErrorKind
	Reason string
	Err    error
}

func (e *IngestError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "ingest error"
}

func (e *IngestError) Unwrap() error { return e.Err }

// IngestPort is the JMAP-side collaborator the APPEND ingest loop calls
// once per message.
type IngestPort interface {
	EmailIngest(ctx context.Context, email IngestEmail) (IngestOutcome, error)
}

// ChangeType enumerates the object kinds a StateChange can carry.
type ChangeType int

const (
	ChangeEmail ChangeType = iota
	ChangeMailbox
	ChangeThread
)

// StateChange is the cross-protocol notification an APPEND emits exactly
// once when at least one message lands.
type StateChange struct {
	AccountID uint32
	Changes   map[ChangeType]uint64
}

// StateBroadcaster fans a StateChange out to other protocol front-ends.
type StateBroadcaster interface {
	BroadcastStateChange(ctx context.Context, change StateChange)
}
