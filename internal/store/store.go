// Package store persists rubric goals, progress records, sessions and
// audit events. SQLite (pure Go) is the default backend; a postgres:// DSN
// selects Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic update lost a race with a
	// concurrent writer. Callers re-read and re-apply.
	ErrConflict = errors.New("concurrent update conflict")
)

// Store holds the database handle and hands out repositories. A Store
// obtained inside Transaction is bound to that transaction.
type Store struct {
	sqlDB   *sql.DB
	gdb     *gorm.DB
	dialect string
	flight  *singleflight.Group
}

// Open connects to dsn, applies pragmas (SQLite) and runs auto-migration.
func Open(dsn string) (*Store, error) {
	cfg := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		gdb     *gorm.DB
		sqlDB   *sql.DB
		dialect string
		err     error
	)
	if isPostgresDSN(dsn) {
		dialect = "postgres"
		gdb, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		sqlDB, err = gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	} else {
		dialect = "sqlite"
		sqlDB, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		// One connection: pragmas stick, in-memory databases survive and
		// writers are serialized instead of failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)

		if err := applyPragmas(sqlDB); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
		gdb, err = gorm.Open(sqlite.New(sqlite.Config{Conn: sqlDB}), cfg)
		if err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("open database: %w", err)
		}
	}

	if err := gdb.AutoMigrate(allModels()...); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Store{sqlDB: sqlDB, gdb: gdb, dialect: dialect, flight: &singleflight.Group{}}, nil
}

// Dialect reports "sqlite" or "postgres".
func (s *Store) Dialect() string {
	return s.dialect
}

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.sqlDB
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Transaction runs fn inside a database transaction. Repositories obtained
// from the Store passed to fn share the transaction; returning an error
// rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.gdb.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(&Store{sqlDB: s.sqlDB, gdb: g, dialect: s.dialect})
	})
}

// ProgressRepo returns a ProgressRepo backed by this store.
func (s *Store) ProgressRepo() ProgressRepo {
	return &progressRepo{db: s.gdb, flight: s.flight}
}

// SessionRepo returns a SessionRepo backed by this store.
func (s *Store) SessionRepo() SessionRepo {
	return &sessionRepo{db: s.gdb}
}

// MessageRepo returns a MessageRepo backed by this store.
func (s *Store) MessageRepo() MessageRepo {
	return &messageRepo{db: s.gdb}
}

// GoalRepo returns a GoalRepo backed by this store.
func (s *Store) GoalRepo() GoalRepo {
	return &goalRepo{db: s.gdb}
}

// HandoffRepo returns a HandoffRepo backed by this store.
func (s *Store) HandoffRepo() HandoffRepo {
	return &handoffRepo{db: s.gdb}
}

// EventRepo returns an EventRepo backed by this store.
func (s *Store) EventRepo() EventRepo {
	return &eventRepo{db: s.gdb}
}

// applyPragmas configures SQLite for a single-node server.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func isPostgresDSN(dsn string) bool {
	d := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(d, "postgres://") ||
		strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// DefaultDBPath resolves the database file path in priority order:
// 1. SENSEI_DB environment variable
// 2. $XDG_DATA_HOME/sensei/sensei.db
// 3. ~/.local/share/sensei/sensei.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("SENSEI_DB"); p != "" {
		return p, EnsureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "sensei", "sensei.db")
	return p, EnsureDir(p)
}

// EnsureDir creates the parent directory of a SQLite path. DSNs that are
// not plain file paths are left alone.
func EnsureDir(path string) error {
	if isPostgresDSN(path) || strings.HasPrefix(path, "file:") || path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
