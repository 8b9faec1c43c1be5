package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/notally/notally/internal/config"
)

func TestInit_Layout(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", ".notally")

	db, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	for _, p := range []string{baseDir, filepath.Join(baseDir, ExportsDir)} {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			t.Errorf("%s is not a directory: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(baseDir, FileName)); err != nil {
		t.Errorf("database file missing: %v", err)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %s, want wal", mode)
	}
}

func TestInit_Schema(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	objects := []struct{ kind, name string }{
		{"table", "notes"},
		{"table", "labels"},
		{"index", "idx_notes_folder_order"},
	}
	for _, o := range objects {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type=? AND name=?", o.kind, o.name).Scan(&name)
		if err != nil {
			t.Errorf("%s %s not found: %v", o.kind, o.name, err)
		}
	}

	version, err := GetUserVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestInit_Reopen(t *testing.T) {
	dir := t.TempDir()

	first, err := Init(dir)
	if err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	if _, err := first.Exec(`INSERT INTO labels (value) VALUES ('kept')`); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Init(dir)
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	defer second.Close()

	var n int
	if err := second.QueryRow(`SELECT COUNT(*) FROM labels`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("labels after reopen = %d, want 1", n)
	}
}

func TestInit_NewerSchemaRejected(t *testing.T) {
	dir := t.TempDir()
	db, err := Init(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := SetUserVersion(db, CurrentSchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	db.Close()

	_, err = Init(dir)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Errorf("Init() error = %v, want newer schema error", err)
	}
}

func TestUpgrade_FromEmpty(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "raw.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := upgrade(db); err != nil {
		t.Fatalf("upgrade() error = %v", err)
	}
	if v, _ := GetUserVersion(db); v != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", v, CurrentSchemaVersion)
	}
	// Running again is a no-op.
	if err := upgrade(db); err != nil {
		t.Errorf("second upgrade() error = %v", err)
	}
}

func TestInit_Constraints(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	tests := []struct {
		name string
		stmt string
	}{
		{"blank label", `INSERT INTO labels (value) VALUES ('   ')`},
		{"unknown type", `INSERT INTO notes (type, folder, timestamp) VALUES ('MEMO', 'NOTES', 1)`},
		{"unknown folder", `INSERT INTO notes (type, folder, timestamp) VALUES ('NOTE', 'TRASH', 1)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.Exec(tt.stmt); err == nil {
				t.Error("expected CHECK constraint violation")
			}
		})
	}
}

func TestConfigurePool(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ConfigurePool(db, nil)
	ConfigurePool(db, &config.Config{DBMaxOpenConns: 3})
	if got := db.Stats().MaxOpenConnections; got != 3 {
		t.Errorf("MaxOpenConnections = %d, want 3", got)
	}
}
