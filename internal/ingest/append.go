package ingest

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/madkernel/server/framework/log"
	"github.com/madkernel/server/framework/module"
)

// Transaction runs the APPEND ingest pipeline. It is spawned
// detached from the connection's read loop by the caller; the Transaction
// itself does no session I/O, it only returns a Response, a TaggedError,
// or both (a partial success that broke early) for the caller's writer to
// serialize.
type Transaction struct {
	Mailboxes   Mailboxes
	UIDs        UIDTranslator
	Ingest      module.IngestPort
	Broadcaster module.StateBroadcaster
	Log         log.Logger
}

// Outcome is the result of a detached Append run, delivered once on the
// channel RunDetached returns.
type Outcome struct {
	Response *Response
	Err      error
}

// RunDetached spawns Append on its own goroutine, off the connection's
// read loop, and hands its single result back on the returned channel.
// errgroup.Group supplies the goroutine's lifecycle bookkeeping (Wait,
// run on its own goroutine, reaps it; ctx-scoped cancellation through the
// derived group context).
func (t *Transaction) RunDetached(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := t.Append(gctx, req)
		out <- Outcome{Response: resp, Err: err}
		return err
	})
	go func() {
		_ = g.Wait()
	}()
	return out
}

// Append executes phases 1-7 of the APPEND transaction in order, short
// circuiting on the first failure per phase.
func (t *Transaction) Append(ctx context.Context, req Request) (*Response, error) {
	// Phase 1: refresh.
	if err := t.Mailboxes.Refresh(ctx, req.AccountID); err != nil {
		return nil, &TaggedError{Tag: req.Tag, Message: "database_failure", Err: err}
	}

	// Phase 2: resolve target.
	mailboxID, found, err := t.Mailboxes.ResolveByName(ctx, req.AccountID, req.MailboxName)
	if err != nil {
		return nil, &TaggedError{Tag: req.Tag, Message: "database_failure", Err: err}
	}
	if !found {
		return nil, &TaggedError{Tag: req.Tag, Code: CodeTryCreate, Message: "Mailbox does not exist."}
	}
	if mailboxID == nil {
		return nil, &TaggedError{Tag: req.Tag, Code: CodeCannot, Message: "Cannot APPEND to this mailbox."}
	}

	// Phase 3: ACL.
	canAdd, err := t.Mailboxes.CanAddItems(ctx, req.AccountID, *mailboxID)
	if err != nil {
		return nil, &TaggedError{Tag: req.Tag, Message: "database_failure", Err: err}
	}
	if !canAdd {
		return nil, &TaggedError{Tag: req.Tag, Code: CodeNoPerm, Message: "Permission denied."}
	}

	// Phase 4: quota is carried on the request (from access_token.quota).
	quota := req.Quota
	targetMailboxID := *mailboxID

	// Phase 5: ingest loop.
	var outcomes []module.IngestOutcome
	var docIDs []uint32
	var lastChangeID uint64
	for _, msg := range req.Messages {
		receivedAt := int64(0)
		if msg.ReceivedAt != nil {
			receivedAt = *msg.ReceivedAt
		}
		outcome, ingestErr := t.Ingest.EmailIngest(ctx, module.IngestEmail{
			Raw:            msg.Raw,
			AccountID:      req.AccountID,
			AccountQuota:   quota,
			MailboxIDs:     []uint32{*mailboxID},
			Keywords:       msg.Flags,
			ReceivedAt:     receivedAt,
			SkipDuplicates: false,
		})
		if ingestErr != nil {
			var ie *module.IngestError
			if errors.As(ingestErr, &ie) {
				switch ie.Kind {
				case module.IngestOverQuota:
					return t.finish(ctx, req, targetMailboxID, outcomes, docIDs, lastChangeID, &TaggedError{Tag: req.Tag, Code: CodeOverQuota, Message: "Disk quota exceeded.", Err: ingestErr})
				case module.IngestPermanent:
					return t.finish(ctx, req, targetMailboxID, outcomes, docIDs, lastChangeID, &TaggedError{Tag: req.Tag, Message: ie.Reason, Err: ingestErr})
				default:
					return t.finish(ctx, req, targetMailboxID, outcomes, docIDs, lastChangeID, &TaggedError{Tag: req.Tag, Message: "database_failure", Err: ingestErr})
				}
			}
			return t.finish(ctx, req, targetMailboxID, outcomes, docIDs, lastChangeID, &TaggedError{Tag: req.Tag, Message: "database_failure", Err: ingestErr})
		}
		module.IncrementIngestedMessages()
		outcomes = append(outcomes, outcome)
		docIDs = append(docIDs, outcome.DocumentID)
		lastChangeID = outcome.ChangeID
	}

	return t.finish(ctx, req, targetMailboxID, outcomes, docIDs, lastChangeID, nil)
}

// finish runs the broadcast and UID-assembly phases regardless of whether
// the ingest loop ran to completion or broke early on an error: a partial
// success still broadcasts and still returns UIDs for what succeeded,
// and the caller then also sees breakErr as the final tagged response.
// Whether UID assembly reads the selected-mailbox's mutex-guarded map or
// fetches a fresh mapping is UIDTranslator's concern, not this
// transaction's.
func (t *Transaction) finish(ctx context.Context, req Request, targetMailboxID uint32, outcomes []module.IngestOutcome, docIDs []uint32, lastChangeID uint64, breakErr error) (*Response, error) {
	// Phase 6: broadcast exactly once iff at least one message was ingested.
	if len(outcomes) > 0 {
		t.Broadcaster.BroadcastStateChange(ctx, module.StateChange{
			AccountID: req.AccountID,
			Changes: map[module.ChangeType]uint64{
				module.ChangeEmail:   lastChangeID,
				module.ChangeMailbox: lastChangeID,
				module.ChangeThread:  lastChangeID,
			},
		})
	}

	if len(docIDs) == 0 {
		if breakErr != nil {
			return nil, breakErr
		}
		return &Response{Tag: req.Tag}, nil
	}

	// Phase 7: UID assembly.
	uids, uidValidity, err := t.UIDs.TranslateUIDs(ctx, req.AccountID, targetMailboxID, docIDs)
	if err != nil {
		return nil, &TaggedError{Tag: req.Tag, Message: "database_failure", Err: err}
	}

	return &Response{Tag: req.Tag, UIDValidity: uidValidity, UIDs: uids}, breakErr
}
