package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/notally/notally/internal/config"
	_ "modernc.org/sqlite"
)

const (
	// FileName is the database file inside the data directory.
	FileName = "notally.db"

	// ExportsDir is the default backup directory inside the data directory.
	ExportsDir = "exports"
)

// pragmas apply to every pooled connection. Transactions begin IMMEDIATE so a
// writer takes the write lock up front and waits on busy_timeout instead of
// failing with SQLITE_BUSY when it upgrades from a read.
const pragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

// schema holds one entry per schema version; entry i upgrades version i to i+1.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS notes (
	   id          INTEGER PRIMARY KEY AUTOINCREMENT,
	   type        TEXT NOT NULL CHECK (type IN ('NOTE', 'LIST')),
	   folder      TEXT NOT NULL CHECK (folder IN ('NOTES', 'DELETED', 'ARCHIVED')),
	   title       TEXT NOT NULL DEFAULT '',
	   pinned      INTEGER NOT NULL DEFAULT 0,
	   timestamp   INTEGER NOT NULL,
	   labels_json TEXT NOT NULL DEFAULT '[]',
	   body        TEXT NOT NULL DEFAULT '',
	   spans_json  TEXT NOT NULL DEFAULT '[]',
	   items_json  TEXT NOT NULL DEFAULT '[]'
	 );
	 CREATE INDEX IF NOT EXISTS idx_notes_folder_order
	 ON notes(folder, pinned DESC, timestamp DESC);
	 CREATE TABLE IF NOT EXISTS labels (
	   value TEXT PRIMARY KEY CHECK (length(trim(value)) > 0)
	 );`,
}

// CurrentSchemaVersion is the version Init upgrades to.
var CurrentSchemaVersion = len(schema)

// Init opens baseDir/notally.db, creating the data and exports directories
// (mode 0700) and upgrading the schema as needed.
func Init(baseDir string) (*sql.DB, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, ExportsDir)} {
		if err := privateDir(dir); err != nil {
			return nil, err
		}
	}

	dbPath := filepath.Join(baseDir, FileName)
	db, err := sql.Open("sqlite", dbPath+pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := upgrade(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)
	return db, nil
}

// privateDir creates dir readable only by the owner. The chmod is best-effort.
func privateDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	_ = os.Chmod(dir, 0700)
	return nil
}

// ConfigurePool applies the non-zero connection limits from cfg.
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

// upgrade runs every schema step above the stored user_version, each in its
// own transaction together with the version bump.
func upgrade(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}
	if version > len(schema) {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, len(schema))
	}

	for v := version; v < len(schema); v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(schema[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: failed to set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
	}
	return nil
}

func verifyWALMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", mode)
	}
	return nil
}

// GetUserVersion returns the stored schema version.
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion overwrites the stored schema version.
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
