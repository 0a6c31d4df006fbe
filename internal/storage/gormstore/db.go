// Package gormstore implements GORM-backed module.LookupStore,
// module.DataStore, module.BlobStore, and module.Directory. Each store
// gets its own GORM model (table). DataStore.Iterate reads rows in key
// order and applies the prefix/range filter in Go, and LookupStore
// checks TTL expiry in Go when a row is read.
package gormstore

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/madkernel/server/framework/log"
)

// Config selects the backing SQL driver and connection string. For
// sqlite, InMemory moves the working set into a shared in-memory
// database seeded from the file named by DSN (its elements joined with
// spaces) at open and flushed back on every
// SyncInterval tick, trading durability granularity for not touching
// disk on the hot path.
type Config struct {
	Driver       string
	DSN          []string
	Debug        bool
	InMemory     bool
	SyncInterval time.Duration
}

// syncLockPlugin takes a read lock around every GORM operation so that
// syncLoop, which holds the write lock around flushToDisk, only ever
// snapshots a quiescent connection.
type syncLockPlugin struct {
	mu *sync.RWMutex
}

func (p *syncLockPlugin) Name() string { return "sync_lock" }

func (p *syncLockPlugin) acquire(*gorm.DB) { p.mu.RLock() }
func (p *syncLockPlugin) release(*gorm.DB) { p.mu.RUnlock() }

func (p *syncLockPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	before := []func(name string, fn func(*gorm.DB)) error{
		cb.Create().Before("*").Register,
		cb.Query().Before("*").Register,
		cb.Update().Before("*").Register,
		cb.Delete().Before("*").Register,
		cb.Row().Before("*").Register,
		cb.Raw().Before("*").Register,
	}
	for _, register := range before {
		if err := register("sync_lock:acquire", p.acquire); err != nil {
			return err
		}
	}
	after := []func(name string, fn func(*gorm.DB)) error{
		cb.Create().After("*").Register,
		cb.Query().After("*").Register,
		cb.Update().After("*").Register,
		cb.Delete().After("*").Register,
		cb.Row().After("*").Register,
		cb.Raw().After("*").Register,
	}
	for _, register := range after {
		if err := register("sync_lock:release", p.release); err != nil {
			return err
		}
	}
	return nil
}

// Open initializes a GORM connection for the configured driver. With
// sqlite and InMemory set, the connection points at a shared in-memory
// database seeded from the on-disk file named by the DSN (when one
// exists) and flushed back to it on every SyncInterval tick.
func Open(cfg Config) (*gorm.DB, error) {
	diskPath := strings.Join(cfg.DSN, " ")
	dsn := diskPath

	isSqlite := cfg.Driver == "sqlite3" || cfg.Driver == "sqlite"
	inMemory := isSqlite && cfg.InMemory
	if inMemory {
		dsn = "file::memory:?cache=shared"
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite3", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unsupported database driver %q", cfg.Driver)
	}

	gormCfg := &gorm.Config{}
	if !cfg.Debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}

	if inMemory {
		mu := &sync.RWMutex{}
		if err := db.Use(&syncLockPlugin{mu: mu}); err != nil {
			return nil, fmt.Errorf("gormstore: sync lock plugin: %w", err)
		}

		persisted := diskPath != "" && diskPath != ":memory:"
		if persisted {
			if _, err := os.Stat(diskPath); err == nil {
				if err := restoreFromDisk(db, diskPath); err != nil {
					return nil, fmt.Errorf("gormstore: restore from disk: %w", err)
				}
			}
			if cfg.SyncInterval > 0 {
				go syncLoop(db, diskPath, cfg.SyncInterval, mu)
			}
		}
	}

	return db, nil
}

// restoreFromDisk replaces every table in the in-memory database with
// its on-disk counterpart, by attaching the disk file and copying table
// contents across.
func restoreFromDisk(db *gorm.DB, path string) error {
	return db.Connection(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("ATTACH DATABASE '%s' AS disk", path)).Error; err != nil {
			return err
		}
		defer tx.Exec("DETACH DATABASE disk")

		var tables []string
		if err := tx.Raw("SELECT name FROM disk.sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables).Error; err != nil {
			return err
		}
		for _, name := range tables {
			if err := tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS main.%s", name)).Error; err != nil {
				return err
			}
			if err := tx.Exec(fmt.Sprintf("CREATE TABLE main.%s AS SELECT * FROM disk.%s", name, name)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// flushToDisk snapshots the in-memory database into path, writing to a
// temp file first so a crash mid-flush never truncates the previous
// snapshot. Callers serialize flushes against live queries via the sync
// lock; this function itself takes no lock. The VACUUM runs on the
// underlying *sql.DB, outside GORM's callbacks, so it never waits on the
// sync lock's read side while syncLoop holds the write side.
func flushToDisk(db *gorm.DB, path string) error {
	tmpPath := path + ".tmp"
	os.Remove(tmpPath)

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if _, err := sqlDB.Exec(fmt.Sprintf("VACUUM INTO '%s'", tmpPath)); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func syncLoop(db *gorm.DB, path string, interval time.Duration, mu *sync.RWMutex) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		mu.Lock()
		err := flushToDisk(db, path)
		mu.Unlock()
		if err != nil {
			log.DefaultLogger.Error("gormstore: disk sync failed", err, "path", path)
		}
	}
}
