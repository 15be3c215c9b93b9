package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// DBConfig configures the SQLite connection backing the catalog store.
type DBConfig struct {
	// Path is the file path to the SQLite database. Use ":memory:" for tests.
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// BusyTimeout controls how long to wait when the database is locked.
	BusyTimeout time.Duration

	// JournalMode: DELETE, TRUNCATE, PERSIST, MEMORY, WAL, OFF.
	JournalMode string

	// Synchronous: OFF, NORMAL, FULL, EXTRA.
	Synchronous string

	// AutoMigrate runs pending migrations immediately after Open.
	AutoMigrate bool
}

// DefaultDBConfig returns sensible defaults for the catalog database.
func DefaultDBConfig(path string) *DBConfig {
	return &DBConfig{
		Path:            path,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		BusyTimeout:     5 * time.Second,
		JournalMode:     "WAL",
		Synchronous:     "NORMAL",
	}
}

func dsn(cfg *DBConfig) string {
	return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=%s&_synchronous=%s&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds(), cfg.JournalMode, cfg.Synchronous)
}

func openConn(cfg *DBConfig) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping catalog database: %w", err)
	}
	return conn, nil
}

// Open creates a connection pool to the catalog database, optionally running
// pending migrations first.
func Open(cfg *DBConfig) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("catalog db config cannot be nil")
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create catalog database directory: %w", err)
			}
		}
	}

	if cfg.AutoMigrate {
		mgr, err := NewMigrationManager(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("create migration manager: %w", err)
		}
		if err := mgr.Up(); err != nil {
			_ = mgr.Close()
			return nil, fmt.Errorf("run catalog migrations: %w", err)
		}
		if err := mgr.Close(); err != nil {
			return nil, fmt.Errorf("close migration manager: %w", err)
		}
	}

	return openConn(cfg)
}
