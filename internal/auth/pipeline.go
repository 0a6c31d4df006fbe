package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/madkernel/server/framework/log"
	"github.com/madkernel/server/framework/module"
)

// Kind classifies an authentication outcome.
type Kind int

const (
	Success Kind = iota
	Failed
	MissingTOTP
	Banned
	InternalError
)

// Error is the failure shape every non-success path returns, always
// carrying remote_ip and account_name so operators can correlate.
type Error struct {
	Kind        Kind
	RemoteIP    string
	AccountName string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	switch e.Kind {
	case Failed:
		return "authentication failed"
	case MissingTOTP:
		return "missing totp"
	case Banned:
		return "authentication banned"
	default:
		return "authentication error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// AdminPrincipal is a (name, password_hash) escape-hatch credential, the
// same shape as core.AdminPrincipal (duplicated here instead of imported
// to avoid a core<->auth import cycle; core holds the canonical config).
type AdminPrincipal struct {
	Name         string
	PasswordHash string
}

// MasterUser is the suffix-stripping escape hatch.
type MasterUser struct {
	Suffix       string
	PasswordHash string
}

// FallbackAdminAccountID is the synthetic account id returned for a
// fallback-admin match; it never collides with a real directory id
// because directories assign ids starting from 1 and this is the
// reserved sentinel the OAuth token service also special-cases.
const FallbackAdminAccountID uint32 = ^uint32(0)

// Pipeline is the credential-verification path shared by every protocol
// front-end.
type Pipeline struct {
	Log           log.Logger
	FallbackAdmin *AdminPrincipal
	MasterUser    *MasterUser
	Fail2Ban      *Fail2Ban
}

// Authenticate runs the directory query, fallback-admin, master-user, and
// fail-to-ban steps in that tie-break order.
func (p *Pipeline) Authenticate(ctx context.Context, dir module.Directory, sessionID uint64, creds module.Credentials, remoteIP string, returnMemberOf bool) (*module.Principal, error) {
	login := creds.Login()

	// Step 1: directory query.
	principal, dirErr := dir.QueryCredentials(ctx, creds, returnMemberOf)
	if dirErr == nil && principal != nil {
		p.Log.DebugMsg("auth success", "login", login, "remote_ip", remoteIP)
		return principal, nil
	}
	if errors.Is(dirErr, module.ErrMissingTOTP) {
		// TOTP enforcement must not be bypassed by any fallback.
		return nil, &Error{Kind: MissingTOTP, RemoteIP: remoteIP, AccountName: login, Err: dirErr}
	}

	plain, isPlain := creds.(module.PlainCredentials)

	// Step 2: fallback admin.
	if isPlain && p.FallbackAdmin != nil && plain.Username == p.FallbackAdmin.Name {
		if bcrypt.CompareHashAndPassword([]byte(p.FallbackAdmin.PasswordHash), []byte(plain.Secret)) == nil {
			return &module.Principal{
				ID:   FallbackAdminAccountID,
				Type: module.PrincipalIndividual,
				Name: p.FallbackAdmin.Name,
			}, nil
		}
	}

	// Step 3: master user.
	if isPlain && p.MasterUser != nil && strings.HasSuffix(plain.Username, p.MasterUser.Suffix) {
		if bcrypt.CompareHashAndPassword([]byte(p.MasterUser.PasswordHash), []byte(plain.Secret)) == nil {
			bare := strings.TrimSuffix(plain.Username, p.MasterUser.Suffix)
			bare = strings.TrimSuffix(bare, "%")
			if bare != "" {
				masterPrincipal, err := dir.Query(ctx, module.QueryByName, bare, returnMemberOf)
				if err == nil && masterPrincipal != nil {
					return masterPrincipal, nil
				}
			}
		}
	}

	// Step 4: surface a deferred directory error, if any.
	if dirErr != nil {
		return nil, &Error{Kind: InternalError, RemoteIP: remoteIP, AccountName: login, Err: dirErr}
	}

	// Step 5: fail-to-ban.
	if p.Fail2Ban != nil {
		if p.Fail2Ban.RecordFailure(remoteIP, login) {
			return nil, &Error{Kind: Banned, RemoteIP: remoteIP, AccountName: login}
		}
	}
	return nil, &Error{Kind: Failed, RemoteIP: remoteIP, AccountName: login}
}
