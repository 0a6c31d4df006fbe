package memory

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/secure/precis"

	"github.com/madkernel/server/framework/module"
	"github.com/madkernel/server/internal/auth"
	"github.com/madkernel/server/internal/oauth"
)

// account is one in-memory principal record: a bcrypt-hashed secret plus
// the directory metadata a Query response needs.
type account struct {
	id       uint32
	typ      module.PrincipalType
	name     string
	secret   string // bcrypt hash, precis-normalized name -> secret
	memberOf []string
}

// Directory is an in-memory module.Directory: usernames are
// precis-normalized, secrets are bcrypt hashes, and accounts carry a
// stable numeric id so OAuth tokens and ACL checks have something to
// key on.
type Directory struct {
	mu     sync.RWMutex
	byName map[string]*account
	byID   map[uint32]*account
	nextID uint32
}

// NewDirectory builds an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byName: make(map[string]*account),
		byID:   make(map[uint32]*account),
		nextID: 1,
	}
}

func normalize(username string) (string, error) {
	return precis.UsernameCaseMapped.CompareKey(username)
}

// CreateAccount registers a new principal with a bcrypt-hashed password,
// returning its assigned id.
func (d *Directory) CreateAccount(username, password string, typ module.PrincipalType) (uint32, error) {
	key, err := normalize(username)
	if err != nil {
		return 0, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byName[key]; ok {
		return 0, errAccountExists
	}
	id := d.nextID
	d.nextID++
	acc := &account{id: id, typ: typ, name: key, secret: string(hash)}
	d.byName[key] = acc
	d.byID[id] = acc
	return id, nil
}

func principalOf(a *account, returnMemberOf bool) *module.Principal {
	p := &module.Principal{ID: a.id, Type: a.typ, Name: a.name, Secrets: []string{a.secret}}
	if returnMemberOf {
		p.Member = append([]string(nil), a.memberOf...)
	}
	return p
}

// Query implements module.Directory.
func (d *Directory) Query(_ context.Context, by module.QueryBy, key string, returnMemberOf bool) (*module.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch by {
	case module.QueryByName:
		norm, err := normalize(key)
		if err != nil {
			return nil, err
		}
		acc, ok := d.byName[norm]
		if !ok {
			return nil, nil
		}
		return principalOf(acc, returnMemberOf), nil

	case module.QueryByID:
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, err
		}
		acc, ok := d.byID[uint32(id)]
		if !ok {
			return nil, nil
		}
		return principalOf(acc, returnMemberOf), nil
	}
	return nil, nil
}

// QueryCredentials implements module.Directory. Only PlainCredentials and
// XOAuth2Credentials carry a username/secret pair this directory can check
// directly; a bare OAuthBearerCredentials token is the OAuth token
// service's job to validate, not this directory's, so it always misses
// here and falls through to the pipeline's other steps.
func (d *Directory) QueryCredentials(_ context.Context, creds module.Credentials, returnMemberOf bool) (*module.Principal, error) {
	var username, secret string
	switch c := creds.(type) {
	case module.PlainCredentials:
		username, secret = c.Username, c.Secret
	case module.XOAuth2Credentials:
		username, secret = c.Username, c.Secret
	default:
		return nil, nil
	}

	norm, err := normalize(username)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	acc, ok := d.byName[norm]
	d.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.secret), []byte(secret)) != nil {
		return nil, nil
	}
	return principalOf(acc, returnMemberOf), nil
}

// AuthPlain implements module.PlainUserDB for front-ends that only need
// a yes/no password check without the full principal record.
func (d *Directory) AuthPlain(username, password string) error {
	p, err := d.QueryCredentials(context.Background(), module.PlainCredentials{Username: username, Secret: password}, false)
	if err != nil {
		return err
	}
	if p == nil {
		return module.ErrUnknownCredentials
	}
	return nil
}

// CountPrincipals implements module.Directory.
func (d *Directory) CountPrincipals(_ context.Context, typ module.PrincipalType) (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n uint64
	for _, a := range d.byID {
		if a.typ == typ {
			n++
		}
	}
	return n, nil
}

// PasswordHash implements oauth.PasswordHashResolver.
func (d *Directory) PasswordHash(_ context.Context, accountID uint32) (string, error) {
	if accountID == auth.FallbackAdminAccountID || accountID == oauth.FallbackAdminAccountID {
		return "", oauth.ErrAccountGone
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.byID[accountID]
	if !ok {
		return "", oauth.ErrAccountGone
	}
	return acc.secret, nil
}

var _ module.Directory = (*Directory)(nil)
var _ module.PlainUserDB = (*Directory)(nil)
var _ oauth.PasswordHashResolver = (*Directory)(nil)
