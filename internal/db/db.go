// Package db owns the SQLite file behind the settings record.
//
// Every process that opens the same base directory shares one database.
// WAL lets the daemon's change watcher read while a CLI or MCP process
// commits.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smartcopy-pro/smartcopy/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the user_version Init migrates to.
const CurrentSchemaVersion = 1

// FileName is the database file inside the base directory.
const FileName = "smartcopy.db"

// Init opens baseDir/smartcopy.db, creating the directory and the settings
// table on first use.
func Init(baseDir string) (*sql.DB, error) {
	// Copied text lands in the history, so the directory is private.
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies the configured pool limits. Zero leaves the
// database/sql default. Store.Watch pins one connection for its whole life,
// so a max of one open connection starves writers.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// 1: one row per settings field, value stored as JSON
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS settings (
		  key         TEXT PRIMARY KEY,
		  value_json  TEXT NOT NULL,
		  updated_at  INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode fails Init if the journal_mode pragma did not take, since
// data_version polling relies on readers not blocking the writer.
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the schema version.
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion records the schema version.
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
