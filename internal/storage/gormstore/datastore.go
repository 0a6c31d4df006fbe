package gormstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"

	"gorm.io/gorm"

	"github.com/madkernel/server/framework/module"
)

// GormDataStore is a module.DataStore backed by a SQL table, ordered scan
// by primary key standing in for the in-memory store's sorted snapshot.
type GormDataStore struct {
	db *gorm.DB
}

// NewDataStore opens/migrates the data table on the given connection.
func NewDataStore(db *gorm.DB) (*GormDataStore, error) {
	if err := db.AutoMigrate(&dataEntry{}); err != nil {
		return nil, err
	}
	return &GormDataStore{db: db}, nil
}

// Put is a bootstrap/admin helper; production writers populate this store
// through whichever higher layer owns the queue/quota counters.
func (d *GormDataStore) Put(ctx context.Context, key, value []byte) error {
	row := dataEntry{Key: string(key), Value: append([]byte(nil), value...)}
	return d.db.WithContext(ctx).Save(&row).Error
}

func (d *GormDataStore) Delete(ctx context.Context, key []byte) error {
	return d.db.WithContext(ctx).Delete(&dataEntry{}, "key = ?", string(key)).Error
}

// Iterate implements module.DataStore: rows are scanned in primary-key
// (lexicographic) order and filtered in Go, since Prefix/Begin/End are
// byte-range semantics that don't map cleanly onto every SQL driver's
// string comparison collation.
func (d *GormDataStore) Iterate(ctx context.Context, params module.IterateParams, f func(key, value []byte) (bool, error)) error {
	var rows []dataEntry
	if err := d.db.WithContext(ctx).Order("key ASC").Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		kb := []byte(row.Key)
		if len(params.Prefix) > 0 && !bytes.HasPrefix(kb, params.Prefix) {
			continue
		}
		if params.Begin != nil && bytes.Compare(kb, params.Begin) < 0 {
			continue
		}
		if params.End != nil && bytes.Compare(kb, params.End) >= 0 {
			continue
		}
		cont, err := f(kb, row.Value)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// GormBlobStore is a module.BlobStore backed by a SQL table, content
// addressed the same way memory.BlobStore is (sha256 of the content).
type GormBlobStore struct {
	db *gorm.DB
}

// NewBlobStore opens/migrates the blob table on the given connection.
func NewBlobStore(db *gorm.DB) (*GormBlobStore, error) {
	if err := db.AutoMigrate(&blobEntry{}); err != nil {
		return nil, err
	}
	return &GormBlobStore{db: db}, nil
}

func (b *GormBlobStore) Get(ctx context.Context, hash module.BlobHash) ([]byte, error) {
	var row blobEntry
	err := b.db.WithContext(ctx).Where("hash = ?", hex.EncodeToString(hash[:])).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

func (b *GormBlobStore) Put(ctx context.Context, data []byte) (module.BlobHash, error) {
	hash := module.BlobHash(sha256.Sum256(data))
	hexHash := hex.EncodeToString(hash[:])

	var existing blobEntry
	err := b.db.WithContext(ctx).Where("hash = ?", hexHash).First(&existing).Error
	if err == nil {
		return hash, nil
	}
	if err != gorm.ErrRecordNotFound {
		return module.BlobHash{}, err
	}

	row := blobEntry{Hash: hexHash, Data: append([]byte(nil), data...)}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return module.BlobHash{}, err
	}
	return hash, nil
}
