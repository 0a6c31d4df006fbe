package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/madkernel/server/framework/module"
)

// CodeStatus is the authorization/device code lifecycle state.
type CodeStatus int

const (
	Pending CodeStatus = iota
	Authorized
	TokenIssued
)

// Code is the record stored under "oauth:{code}" in the primary lookup
// store.
type Code struct {
	ClientID  string     `json:"client_id"`
	Params    string     `json:"params"`
	AccountID uint32     `json:"account_id"`
	Status    CodeStatus `json:"status"`
}

func codeKey(code string) []byte {
	return []byte("oauth:" + code)
}

// CodeStore persists and transitions Code records over a module.LookupStore.
type CodeStore struct {
	Store module.LookupStore
	// TTL is the record lifetime handed to the backing store; a Pending
	// code that is never acted on simply expires.
	TTL int64

	// redeemLocks serializes the check-Delete-Issue sequence per code so
	// that concurrent token requests against the same Authorized record
	// mint exactly one access token: the lookup store alone offers no
	// check-and-delete primitive, so the at-most-once guarantee has to
	// come from here instead.
	redeemLocks sync.Map // code string -> *sync.Mutex

	// lookupGroup collapses the concurrent Get calls that pile up on the
	// same code under a redemption thundering herd into a single round
	// trip to the backing store; every waiter still goes through its own
	// redeemLocks.Lock() before acting on the shared result, so this only
	// saves store reads and never lets two callers share a mint.
	lookupGroup singleflight.Group
}

func (cs *CodeStore) lockFor(code string) *sync.Mutex {
	v, _ := cs.redeemLocks.LoadOrStore(code, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Get fetches the record for code, if present.
func (cs *CodeStore) Get(ctx context.Context, code string) (*Code, error) {
	raw, ok, err := cs.Store.Get(ctx, codeKey(code))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var c Code
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("oauth: decode code record: %w", err)
	}
	return &c, nil
}

// getCoalesced is Get with concurrent duplicate lookups for the same code
// folded into one store round trip via singleflight.
func (cs *CodeStore) getCoalesced(ctx context.Context, code string) (*Code, error) {
	v, err, _ := cs.lookupGroup.Do(code, func() (interface{}, error) {
		return cs.Get(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Code), nil
}

// Put creates or overwrites the record for code.
func (cs *CodeStore) Put(ctx context.Context, code string, c Code) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return cs.Store.Set(ctx, codeKey(code), raw, cs.TTL)
}

// Delete removes the record for code.
func (cs *CodeStore) Delete(ctx context.Context, code string) error {
	return cs.Store.Delete(ctx, codeKey(code))
}

// Authorize transitions a Pending code to Authorized after the user
// approves.
func (cs *CodeStore) Authorize(ctx context.Context, code string) error {
	c, err := cs.Get(ctx, code)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrUnknownCode
	}
	c.Status = Authorized
	return cs.Put(ctx, code, *c)
}

// ErrUnknownCode is returned when a code key has no record (expired,
// denied, or never issued).
var ErrUnknownCode = errors.New("oauth: unknown code")

// GrantError enumerates the OAuth-wire error kinds the token endpoint
// returns.
type GrantError string

const (
	ErrInvalidGrant         GrantError = "invalid_grant"
	ErrInvalidClient        GrantError = "invalid_client"
	ErrInvalidRequest       GrantError = "invalid_request"
	ErrAccessDenied         GrantError = "access_denied"
	ErrExpiredToken         GrantError = "expired_token"
	ErrAuthorizationPending GrantError = "authorization_pending"
)

func (e GrantError) Error() string { return string(e) }

// GrantType identifiers the token endpoint dispatches on.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// RedeemAuthorizationCode handles the authorization_code grant: verify
// client_id and redirect_uri against the stored record, then
// delete-and-issue atomically with respect to repeat callers so a code
// never mints two tokens.
func (cs *CodeStore) RedeemAuthorizationCode(ctx context.Context, ts *TokenService, code, clientID, redirectURI string) (Response, error) {
	// Folds concurrent redeemers' initial lookups of the same code into
	// one store round trip before any of them contends for the per-code
	// mutex below.
	if _, err := cs.getCoalesced(ctx, code); err != nil {
		return Response{}, err
	}

	mu := cs.lockFor(code)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: the coalesced lookup above may have been
	// served from a concurrent call whose Delete has since run.
	c, err := cs.Get(ctx, code)
	if err != nil {
		return Response{}, err
	}
	if c == nil {
		return Response{}, ErrAccessDenied
	}
	if c.ClientID != clientID || c.Params != redirectURI {
		return Response{}, ErrInvalidClient
	}
	switch c.Status {
	case Pending:
		return Response{}, ErrInvalidGrant
	case TokenIssued:
		return Response{}, ErrInvalidGrant
	}

	// Delete first: only one concurrent redeemer can observe the record
	// still present and win the race to mint a token for it.
	if err := cs.Delete(ctx, code); err != nil {
		return Response{}, err
	}
	return ts.Issue(ctx, c.AccountID, clientID, true)
}

// RedeemDeviceCode handles the device_code grant.
func (cs *CodeStore) RedeemDeviceCode(ctx context.Context, ts *TokenService, deviceCode, clientID string) (Response, error) {
	if _, err := cs.getCoalesced(ctx, deviceCode); err != nil {
		return Response{}, err
	}

	mu := cs.lockFor(deviceCode)
	mu.Lock()
	defer mu.Unlock()

	c, err := cs.Get(ctx, deviceCode)
	if err != nil {
		return Response{}, err
	}
	if c == nil {
		return Response{}, ErrExpiredToken
	}
	if c.ClientID != clientID {
		return Response{}, ErrInvalidClient
	}
	switch c.Status {
	case Pending:
		return Response{}, ErrAuthorizationPending
	case TokenIssued:
		return Response{}, ErrExpiredToken
	}

	if err := cs.Delete(ctx, deviceCode); err != nil {
		return Response{}, err
	}
	return ts.Issue(ctx, c.AccountID, clientID, true)
}
