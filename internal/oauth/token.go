// Package oauth implements the bearer-token service and the
// authorization-code / device-code state machine behind the token
// endpoint: opaque, self-contained tokens whose AEAD context binds
// grant type, client id, account id, and password hash together so that
// rotating a password silently revokes every outstanding token.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/madkernel/server/internal/crypto"
	"github.com/madkernel/server/internal/leb128"
	"github.com/madkernel/server/internal/metrics"
)

// Epoch2000 is the offset subtracted from Unix seconds before an expiry
// is LEB128-encoded: token expiries are seconds since
// 2000-01-01T00:00:00Z.
const Epoch2000 = 946_684_800

// ClientIDMaxLen bounds the raw client_id bytes embedded in a token.
const ClientIDMaxLen = 255

// FallbackAdminAccountID is the sentinel account id the fallback-admin
// principal is issued tokens under (matches auth.FallbackAdminAccountID;
// the two constants are defined separately).
const FallbackAdminAccountID uint32 = ^uint32(0)

// GrantAccessToken / GrantRefreshToken are the two grant types a token's
// AEAD context binds: a token minted under one grant fails validation
// under the other.
const (
	GrantAccessToken  = "access_token"
	GrantRefreshToken = "refresh_token"
)

// ErrAccountGone is returned by a PasswordHashResolver when the account no
// longer exists.
var ErrAccountGone = errors.New("oauth: account no longer exists")

// ErrClientIDTooLong is returned by Issue when client_id exceeds
// ClientIDMaxLen bytes.
var ErrClientIDTooLong = errors.New("oauth: ClientId is too long")

// errTokenExpired and errTokenMalformed are the two distinct failure
// messages Validate returns; kept generic on purpose so a caller cannot
// use response shape as an oracle for which byte of the token was wrong.
var (
	errTokenExpired   = errors.New("Token expired")
	errTokenMalformed = errors.New("Failed to decode token")
)

// PasswordHashResolver resolves the password hash a token's AEAD context
// is bound to: the first entry of principal.Secrets for a real account,
// or the fallback-admin secret for FallbackAdminAccountID.
type PasswordHashResolver interface {
	PasswordHash(ctx context.Context, accountID uint32) (string, error)
}

// Response is the OAuth token endpoint's success body.
type Response struct {
	AccessToken  string  `json:"access_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int64   `json:"expires_in"`
	RefreshToken *string `json:"refresh_token,omitempty"`
	Scope        *string `json:"scope"`
}

// TokenService implements Issue/Validate/Refresh over the symmetric
// encryption envelope.
type TokenService struct {
	Key       []byte
	Passwords PasswordHashResolver

	AccessTokenExpiry          time.Duration
	RefreshTokenExpiry         time.Duration
	RefreshTokenRenewThreshold time.Duration

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func nowSince2000(t time.Time) int64 {
	v := t.Unix() - Epoch2000
	if v < 0 {
		return 0
	}
	return v
}

// saturatingAdd adds a and b without wrapping past math.MaxInt64.
func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > (1<<63-1)-b {
		return 1<<63 - 1
	}
	return a + b
}

func tokenContext(grantType, clientID string, accountID uint32, passwordHash string) string {
	return fmt.Sprintf("%s %s %d %s", grantType, clientID, accountID, passwordHash)
}

func tokenContextNonce(grantType, passwordHash string) string {
	return fmt.Sprintf("%s nonce %s", grantType, passwordHash)
}

// IssueCustom mints a single token of the given grant type, without
// assembling a full Response envelope. Used internally by Issue/Refresh
// and exposed for callers (e.g. Sieve "oauth" actions) that need a bare
// token of a specific grant.
func (s *TokenService) IssueCustom(ctx context.Context, accountID uint32, grantType, clientID string, expiryIn time.Duration) (token string, expiry int64, err error) {
	if len(clientID) > ClientIDMaxLen {
		return "", 0, ErrClientIDTooLong
	}

	passwordHash, err := s.Passwords.PasswordHash(ctx, accountID)
	if err != nil {
		return "", 0, err
	}

	expiry = saturatingAdd(nowSince2000(s.now()), int64(expiryIn/time.Second))

	ctxStr := tokenContext(grantType, clientID, accountID, passwordHash)
	cipher, err := crypto.New(s.Key, ctxStr)
	if err != nil {
		return "", 0, fmt.Errorf("oauth: build cipher: %w", err)
	}

	nonce := crypto.DeriveNonce(tokenContextNonce(grantType, passwordHash), uint64(expiry))

	random := make([]byte, crypto.RandomCodeLen)
	if _, err := rand.Read(random); err != nil {
		return "", 0, fmt.Errorf("oauth: read random seed: %w", err)
	}

	sealed, err := cipher.Encrypt(random, nonce)
	if err != nil {
		return "", 0, fmt.Errorf("oauth: seal token: %w", err)
	}

	buf := make([]byte, 0, len(sealed)+2*leb128.MaxLen+len(clientID))
	buf = append(buf, sealed...)
	buf = leb128.Append(buf, uint64(accountID))
	buf = leb128.Append(buf, uint64(expiry))
	buf = append(buf, clientID...)

	metrics.TokensIssued.WithLabelValues(grantType).Inc()
	return base64.RawStdEncoding.EncodeToString(buf), expiry, nil
}

// Issue mints an access token, and optionally a companion refresh token,
// for accountID/clientID.
func (s *TokenService) Issue(ctx context.Context, accountID uint32, clientID string, withRefresh bool) (Response, error) {
	accessTok, expiry, err := s.IssueCustom(ctx, accountID, GrantAccessToken, clientID, s.AccessTokenExpiry)
	if err != nil {
		return Response{}, err
	}

	resp := Response{
		AccessToken: accessTok,
		TokenType:   "bearer",
		ExpiresIn:   expiry - nowSince2000(s.now()),
	}

	if withRefresh {
		refreshTok, _, err := s.IssueCustom(ctx, accountID, GrantRefreshToken, clientID, s.RefreshTokenExpiry)
		if err != nil {
			return Response{}, err
		}
		resp.RefreshToken = &refreshTok
	}

	return resp, nil
}

// decodedToken is the parsed-but-unverified shape Validate works from.
type decodedToken struct {
	sealed    []byte
	accountID uint32
	expiry    int64
	clientID  string
}

func decodeToken(tokenB64 string) (decodedToken, error) {
	// Accept unpadded input: strip any padding before decoding
	// with the unpadded decoder, which also happily accepts a
	// already-unpadded string.
	trimmed := tokenB64
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '=' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	raw, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return decodedToken{}, errTokenMalformed
	}

	const prefixLen = crypto.RandomCodeLen + crypto.EncryptTagLen
	if len(raw) < prefixLen {
		return decodedToken{}, errTokenMalformed
	}

	sealed := raw[:prefixLen]
	rest := raw[prefixLen:]

	accountID, n, ok := leb128.Decode(rest)
	if !ok {
		return decodedToken{}, errTokenMalformed
	}
	rest = rest[n:]

	expiry, n, ok := leb128.Decode(rest)
	if !ok {
		return decodedToken{}, errTokenMalformed
	}
	rest = rest[n:]

	return decodedToken{
		sealed:    sealed,
		accountID: uint32(accountID),
		expiry:    int64(expiry),
		clientID:  string(rest),
	}, nil
}

// Validate decrypts and verifies tokenB64 under grantType, returning the
// embedded account id, client id, and remaining lifetime in seconds.
func (s *TokenService) Validate(ctx context.Context, grantType, tokenB64 string) (accountID uint32, clientID string, remaining int64, err error) {
	dec, err := decodeToken(tokenB64)
	if err != nil {
		metrics.TokenValidations.WithLabelValues("malformed").Inc()
		return 0, "", 0, err
	}

	nowSec := nowSince2000(s.now())
	if dec.expiry <= nowSec {
		metrics.TokenValidations.WithLabelValues("expired").Inc()
		return 0, "", 0, errTokenExpired
	}

	passwordHash, err := s.Passwords.PasswordHash(ctx, dec.accountID)
	if err != nil {
		// Looking up a gone account must fail the same generic way as a
		// bad ciphertext, not leak which accounts exist.
		metrics.TokenValidations.WithLabelValues("malformed").Inc()
		return 0, "", 0, errTokenMalformed
	}

	ctxStr := tokenContext(grantType, dec.clientID, dec.accountID, passwordHash)
	cipher, err := crypto.New(s.Key, ctxStr)
	if err != nil {
		metrics.TokenValidations.WithLabelValues("malformed").Inc()
		return 0, "", 0, errTokenMalformed
	}
	nonce := crypto.DeriveNonce(tokenContextNonce(grantType, passwordHash), uint64(dec.expiry))

	if _, err := cipher.Decrypt(dec.sealed, nonce); err != nil {
		metrics.TokenValidations.WithLabelValues("malformed").Inc()
		return 0, "", 0, errTokenMalformed
	}

	metrics.TokenValidations.WithLabelValues("ok").Inc()
	return dec.accountID, dec.clientID, dec.expiry - nowSec, nil
}

// Refresh validates a refresh_token and reissues; if the remaining
// lifetime is at or below RefreshTokenRenewThreshold, the response
// includes a freshly-minted refresh token.
func (s *TokenService) Refresh(ctx context.Context, refreshTokenB64 string) (Response, error) {
	accountID, clientID, remaining, err := s.Validate(ctx, GrantRefreshToken, refreshTokenB64)
	if err != nil {
		return Response{}, err
	}

	renew := remaining <= int64(s.RefreshTokenRenewThreshold/time.Second)
	return s.Issue(ctx, accountID, clientID, renew)
}
