package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBusyTimeout = 5 * time.Second

	// SQLite WAL mode allows many readers alongside a single writer.
	defaultSQLiteReaderConns = 4
)

// openSQLiteWriter opens a single-connection SQLite handle for writes.
// A single writer connection serializes appends and avoids SQLITE_BUSY.
func openSQLiteWriter(dbPath string) (*sqlx.DB, error) {
	normalized := normalizeSQLitePath(dbPath)
	if err := ensureSQLiteDir(normalized); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}
	if err := ensureSQLiteFile(normalized); err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared",
		normalized,
		int(defaultBusyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// openSQLiteReader opens a read-only pool. journal_mode and synchronous
// are database-level settings established by the writer.
func openSQLiteReader(dbPath string) (*sqlx.DB, error) {
	normalized := normalizeSQLitePath(dbPath)

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared",
		normalized,
		int(defaultBusyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	db.SetMaxOpenConns(defaultSQLiteReaderConns)
	db.SetMaxIdleConns(defaultSQLiteReaderConns)
	return db, nil
}

// openPostgres opens a PostgreSQL pool via pgx's database/sql driver.
func openPostgres(dsn string, maxConns, minConns int) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return db, nil
}

func ensureSQLiteDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func ensureSQLiteFile(dbPath string) error {
	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

func normalizeSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	// filepath.Abs does not expand "~"; without this a default config
	// would create a literal "./~" directory.
	if dbPath == "~" || strings.HasPrefix(dbPath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dbPath = filepath.Join(home, strings.TrimPrefix(dbPath, "~"))
		}
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}
