package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// GormLookupStore is a module.LookupStore backed by a SQL table, the
// durable counterpart to memory.LookupStore: same TTL semantics, but rows
// survive a restart.
type GormLookupStore struct {
	db *gorm.DB
}

// NewLookupStore opens/migrates the lookup table on the given connection.
func NewLookupStore(db *gorm.DB) (*GormLookupStore, error) {
	if err := db.AutoMigrate(&lookupEntry{}); err != nil {
		return nil, err
	}
	return &GormLookupStore{db: db}, nil
}

// Get implements module.LookupStore.
func (s *GormLookupStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var row lookupEntry
	err := s.db.WithContext(ctx).Where("key = ?", string(key)).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if row.ExpiresAtUnix != 0 && time.Now().Unix() >= row.ExpiresAtUnix {
		s.db.WithContext(ctx).Delete(&lookupEntry{}, "key = ?", string(key))
		return nil, false, nil
	}
	return row.Value, true, nil
}

// Set implements module.LookupStore. ttl <= 0 means no expiry.
func (s *GormLookupStore) Set(ctx context.Context, key, value []byte, ttl int64) error {
	row := lookupEntry{Key: string(key), Value: append([]byte(nil), value...)}
	if ttl > 0 {
		row.ExpiresAtUnix = time.Now().Add(time.Duration(ttl) * time.Second).Unix()
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// Delete implements module.LookupStore.
func (s *GormLookupStore) Delete(ctx context.Context, key []byte) error {
	return s.db.WithContext(ctx).Delete(&lookupEntry{}, "key = ?", string(key)).Error
}
