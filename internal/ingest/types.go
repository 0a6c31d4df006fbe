// Package ingest implements the APPEND ingest transaction: the bridge
// between an IMAP APPEND command and the JMAP ingest port, wiring
// together mailbox resolution, ACL, quota, per-message ingest, a single
// change-broadcast, and IMAP UID assembly.
package ingest

import (
	"context"
	"fmt"

	"github.com/madkernel/server/framework/module"
)

// Message is a single message submitted as part of an APPEND.
type Message struct {
	Raw        []byte
	Flags      []module.Keyword
	ReceivedAt *int64 // nil means "use the server's current time"
}

// Request is the APPEND transaction's input.
type Request struct {
	Tag               string
	AccountID         uint32
	Quota             int64
	MailboxName       string
	SelectedMailboxID *uint32 // the caller's currently-selected mailbox, if any
	Messages          []Message
	SessionID         uint64
}

// Response is the successful "OK ... APPENDUID" assembly.
type Response struct {
	Tag         string
	UIDValidity uint32
	UIDs        []uint32
}

// ErrorCode is the bracketed IMAP response code a TaggedError carries, or
// "" when the error has none (a plain "NO reason").
type ErrorCode string

const (
	CodeTryCreate ErrorCode = "TRYCREATE"
	CodeCannot    ErrorCode = "CANNOT"
	CodeNoPerm    ErrorCode = "NOPERM"
	CodeOverQuota ErrorCode = "OVERQUOTA"
)

// TaggedError is every failure mode the transaction can short-circuit
// with; all of them carry the request's tag.
type TaggedError struct {
	Tag     string
	Code    ErrorCode // "" for a plain NO with no bracketed code
	Message string
	Err     error
}

func (e *TaggedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s NO [%s] %s", e.Tag, e.Code, e.Message)
	}
	return fmt.Sprintf("%s NO %s", e.Tag, e.Message)
}

func (e *TaggedError) Unwrap() error { return e.Err }

// Mailboxes is the mailbox-list collaborator the transaction consumes:
// refresh, name resolution, and ACL. It is intentionally narrow; the
// transaction never needs more than this before the ingest loop.
type Mailboxes interface {
	// Refresh synchronizes the account's mailbox list before resolution.
	Refresh(ctx context.Context, accountID uint32) error

	// ResolveByName looks up a mailbox by name. found=false means no such
	// mailbox; found=true with mailboxID=nil means a virtual/pseudo
	// mailbox that cannot receive APPENDs.
	ResolveByName(ctx context.Context, accountID uint32, name string) (mailboxID *uint32, found bool, err error)

	// CanAddItems reports whether the authenticated principal holds the
	// AddItems ACL right on the given mailbox.
	CanAddItems(ctx context.Context, accountID, mailboxID uint32) (bool, error)
}

// UIDTranslator resolves document ids into IMAP UIDs for a given mailbox,
// under whatever mutex the selected-mailbox state owner holds internally.
type UIDTranslator interface {
	// TranslateUIDs refreshes the mailbox's message list against the
	// store and returns the UIDs for the given document ids, in the
	// order requested, dropping any id without a mapping (a race with a
	// concurrent expunge), plus the mailbox's current uid_validity.
	TranslateUIDs(ctx context.Context, accountID, mailboxID uint32, docIDs []uint32) (uids []uint32, uidValidity uint32, err error)
}
