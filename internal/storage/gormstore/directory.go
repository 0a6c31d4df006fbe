package gormstore

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/secure/precis"
	"gorm.io/gorm"

	"github.com/madkernel/server/framework/module"
	"github.com/madkernel/server/internal/auth"
	"github.com/madkernel/server/internal/oauth"
)

// GormDirectory is a module.Directory backed by a SQL table, the durable
// counterpart to memory.Directory: same precis-normalized, bcrypt-hashed
// semantics, persisted instead of held only in process memory.
type GormDirectory struct {
	db *gorm.DB
}

// NewDirectory opens/migrates the accounts table on the given connection.
func NewDirectory(db *gorm.DB) (*GormDirectory, error) {
	if err := db.AutoMigrate(&accountEntry{}); err != nil {
		return nil, err
	}
	return &GormDirectory{db: db}, nil
}

func normalizeName(username string) (string, error) {
	return precis.UsernameCaseMapped.CompareKey(username)
}

// CreateAccount registers a new principal with a bcrypt-hashed password.
func (d *GormDirectory) CreateAccount(ctx context.Context, username, password string, typ module.PrincipalType) (uint32, error) {
	name, err := normalizeName(username)
	if err != nil {
		return 0, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	var existing accountEntry
	err = d.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error
	if err == nil {
		return 0, errAccountExists
	}
	if err != gorm.ErrRecordNotFound {
		return 0, err
	}

	row := accountEntry{Name: name, Type: int(typ), SecretHash: string(hash)}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

func principalOfRow(row *accountEntry, returnMemberOf bool) *module.Principal {
	p := &module.Principal{
		ID:      row.ID,
		Type:    module.PrincipalType(row.Type),
		Name:    row.Name,
		Secrets: []string{row.SecretHash},
	}
	if returnMemberOf && row.MemberOf != "" {
		p.Member = strings.Split(row.MemberOf, ",")
	}
	return p
}

// Query implements module.Directory.
func (d *GormDirectory) Query(ctx context.Context, by module.QueryBy, key string, returnMemberOf bool) (*module.Principal, error) {
	var row accountEntry
	switch by {
	case module.QueryByName:
		name, err := normalizeName(key)
		if err != nil {
			return nil, err
		}
		err = d.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return principalOfRow(&row, returnMemberOf), nil

	case module.QueryByID:
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, err
		}
		err = d.db.WithContext(ctx).Where("id = ?", uint32(id)).First(&row).Error
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return principalOfRow(&row, returnMemberOf), nil
	}
	return nil, nil
}

// QueryCredentials implements module.Directory; see memory.Directory's
// method of the same name for why OAuthBearerCredentials always misses.
func (d *GormDirectory) QueryCredentials(ctx context.Context, creds module.Credentials, returnMemberOf bool) (*module.Principal, error) {
	var username, secret string
	switch c := creds.(type) {
	case module.PlainCredentials:
		username, secret = c.Username, c.Secret
	case module.XOAuth2Credentials:
		username, secret = c.Username, c.Secret
	default:
		return nil, nil
	}

	name, err := normalizeName(username)
	if err != nil {
		return nil, err
	}

	var row accountEntry
	err = d.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(row.SecretHash), []byte(secret)) != nil {
		return nil, nil
	}
	return principalOfRow(&row, returnMemberOf), nil
}

// CountPrincipals implements module.Directory.
func (d *GormDirectory) CountPrincipals(ctx context.Context, typ module.PrincipalType) (uint64, error) {
	var n int64
	if err := d.db.WithContext(ctx).Model(&accountEntry{}).Where("type = ?", int(typ)).Count(&n).Error; err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// PasswordHash implements oauth.PasswordHashResolver.
func (d *GormDirectory) PasswordHash(ctx context.Context, accountID uint32) (string, error) {
	if accountID == auth.FallbackAdminAccountID || accountID == oauth.FallbackAdminAccountID {
		return "", oauth.ErrAccountGone
	}
	var row accountEntry
	err := d.db.WithContext(ctx).Where("id = ?", accountID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", oauth.ErrAccountGone
	}
	if err != nil {
		return "", err
	}
	return row.SecretHash, nil
}

var _ module.Directory = (*GormDirectory)(nil)
var _ oauth.PasswordHashResolver = (*GormDirectory)(nil)
