package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/notally/notally/internal/app"
	"github.com/notally/notally/internal/config"
	"github.com/notally/notally/internal/note"
)

// setupTestModel opens a session over a temporary data directory.
func setupTestModel(t *testing.T) *app.Model {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	m, err := app.Open(app.Options{
		DataDir:       t.TempDir(),
		Config:        cfg,
		Logger:        zerolog.Nop(),
		SkipMigration: true,
	})
	if err != nil {
		t.Fatalf("failed to open test session: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// runCLI runs args against m with stdin set to input and returns stdout.
func runCLI(t *testing.T, m *app.Model, input string, args ...string) (string, error) {
	t.Helper()

	if input != "" {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(input)
			w.Close()
		}()
		oldStdin := os.Stdin
		os.Stdin = r
		defer func() { os.Stdin = oldStdin }()
	}

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := newCLIApp(m).Run(append([]string{"notally"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), err
}

func mustRun(t *testing.T, m *app.Model, input string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, m, input, args...)
	if err != nil {
		t.Fatalf("%s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeRecord(t *testing.T, out string) note.Record {
	t.Helper()
	var r note.Record
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("failed to parse output %q: %v", out, err)
	}
	return r
}

func decodeList(t *testing.T, out string) listOutput {
	t.Helper()
	var l listOutput
	if err := json.Unmarshal([]byte(out), &l); err != nil {
		t.Fatalf("failed to parse output %q: %v", out, err)
	}
	return l
}

func addTestNote(t *testing.T, m *app.Model, body string, args ...string) note.Record {
	t.Helper()
	return decodeRecord(t, mustRun(t, m, body, append([]string{"add"}, args...)...))
}

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single label", "foo", []string{"foo"}},
		{"multiple labels", "foo,bar,baz", []string{"foo", "bar", "baz"}},
		{"labels with spaces", " foo , bar ", []string{"foo", "bar"}},
		{"empty labels filtered", "foo,,bar,", []string{"foo", "bar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLabels(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d labels, got %d", len(tt.expected), len(result))
			}
			for i, l := range result {
				if l != tt.expected[i] {
					t.Errorf("expected label[%d]=%q, got %q", i, tt.expected[i], l)
				}
			}
		})
	}
}

func TestParseItems(t *testing.T) {
	got := parseItems("[x] eggs\r\n[ ] milk\n\nbread\n[X] jam")
	want := []note.ListItem{
		{Body: "eggs", Checked: true},
		{Body: "milk"},
		{Body: "bread"},
		{Body: "jam", Checked: true},
	}
	if len(got) != len(want) {
		t.Fatalf("parseItems() returned %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if items := parseItems(""); items != nil {
		t.Errorf("parseItems(\"\") = %v, want nil", items)
	}
}

func TestCLIAddAndShow(t *testing.T) {
	m := setupTestModel(t)

	added := addTestNote(t, m, "hello there\n", "--title=greeting", "--labels=a, b")
	if added.ID == 0 {
		t.Fatal("expected an id")
	}
	if added.Body != "hello there" {
		t.Errorf("body = %q", added.Body)
	}
	if strings.Join(added.Labels, ",") != "a,b" {
		t.Errorf("labels = %v", added.Labels)
	}

	list := addTestNote(t, m, "[x] eggs\nmilk\n", "--type=list")
	if list.Type != note.TypeList || len(list.Items) != 2 || !list.Items[0].Checked {
		t.Errorf("checklist = %+v", list)
	}

	shown := decodeRecord(t, mustRun(t, m, "", "show", "1"))
	if shown.Title != "greeting" || shown.Folder != note.FolderNotes {
		t.Errorf("show = %+v", shown)
	}
}

func TestCLIListAndMove(t *testing.T) {
	m := setupTestModel(t)

	first := addTestNote(t, m, "one")
	addTestNote(t, m, "two", "--pinned")
	addTestNote(t, m, "three", "--labels=work")

	l := decodeList(t, mustRun(t, m, "", "list"))
	if l.Count != 3 {
		t.Fatalf("expected 3 notes, got %d", l.Count)
	}
	if l.Notes[0].Body != "two" {
		t.Errorf("pinned note should be first, got %q", l.Notes[0].Body)
	}

	mustRun(t, m, "", "move", "--to=archived", "1")

	l = decodeList(t, mustRun(t, m, "", "list", "--folder=ARCHIVED"))
	if l.Count != 1 || l.Notes[0].ID != first.ID {
		t.Errorf("archived = %+v", l.Notes)
	}

	l = decodeList(t, mustRun(t, m, "", "list", "--label=work"))
	if l.Count != 1 || l.Notes[0].Body != "three" {
		t.Errorf("by label = %+v", l.Notes)
	}
}

func TestCLIDeleteForever(t *testing.T) {
	m := setupTestModel(t)
	addTestNote(t, m, "gone soon")

	if _, err := runCLI(t, m, "", "delete-forever", "1"); err == nil {
		t.Error("expected error deleting a note outside DELETED")
	}

	mustRun(t, m, "", "move", "--to=DELETED", "1")
	mustRun(t, m, "", "delete-forever", "1")

	if _, err := runCLI(t, m, "", "show", "1"); err == nil {
		t.Error("expected not found after delete-forever")
	}
}

func TestCLISearch(t *testing.T) {
	m := setupTestModel(t)
	addTestNote(t, m, "apples and pears")
	addTestNote(t, m, "only pears")

	l := decodeList(t, mustRun(t, m, "", "search", "apples"))
	if l.Count != 1 {
		t.Errorf("expected 1 match, got %d", l.Count)
	}

	l = decodeList(t, mustRun(t, m, "", "search", "pears"))
	if l.Count != 2 {
		t.Errorf("expected 2 matches, got %d", l.Count)
	}
}

func TestCLILabels(t *testing.T) {
	m := setupTestModel(t)
	addTestNote(t, m, "x")

	mustRun(t, m, "", "labels", "add", "todo")
	if _, err := runCLI(t, m, "", "labels", "add", "todo"); err == nil {
		t.Error("expected error adding an existing label")
	}

	mustRun(t, m, "", "tag", "--labels=todo", "1")
	mustRun(t, m, "", "labels", "rename", "todo", "done")

	shown := decodeRecord(t, mustRun(t, m, "", "show", "1"))
	if len(shown.Labels) != 1 || shown.Labels[0] != "done" {
		t.Errorf("labels after rename = %v", shown.Labels)
	}

	var labels struct {
		Labels []string `json:"labels"`
		Count  int      `json:"count"`
	}
	if err := json.Unmarshal([]byte(mustRun(t, m, "", "labels", "list")), &labels); err != nil {
		t.Fatal(err)
	}
	if labels.Count != 1 || labels.Labels[0] != "done" {
		t.Errorf("labels list = %+v", labels)
	}

	mustRun(t, m, "", "labels", "delete", "done")
	shown = decodeRecord(t, mustRun(t, m, "", "show", "1"))
	if len(shown.Labels) != 0 {
		t.Errorf("labels after delete = %v", shown.Labels)
	}

	if _, err := runCLI(t, m, "", "labels", "rename", "only-one"); err == nil {
		t.Error("expected error for rename with one argument")
	}
}

func TestCLIExportImport(t *testing.T) {
	m := setupTestModel(t)
	addTestNote(t, m, "kept", "--labels=a")
	mustRun(t, m, "", "labels", "add", "a")

	exportPath := filepath.Join(t.TempDir(), "backup.jsonl")
	mustRun(t, m, "", "export", "--path="+exportPath)
	if _, err := os.Stat(exportPath); err != nil {
		t.Fatalf("export file not created: %v", err)
	}

	m2 := setupTestModel(t)
	var result app.ImportResult
	if err := json.Unmarshal([]byte(mustRun(t, m2, "", "import", "--path="+exportPath)), &result); err != nil {
		t.Fatal(err)
	}
	if result.Notes != 1 || result.Labels != 1 || result.Mode != "append" {
		t.Errorf("import = %+v", result)
	}

	if _, err := runCLI(t, m2, "", "import", "--path="+exportPath, "--mode=merge"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestCLIRender(t *testing.T) {
	m := setupTestModel(t)
	addTestNote(t, m, "Hello world foo")

	var out struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(mustRun(t, m, "", "render", "--format=txt", "1")), &out); err != nil {
		t.Fatal(err)
	}
	if filepath.Base(out.Path) != "Hello world .txt" {
		t.Errorf("path = %q", out.Path)
	}

	dest := filepath.Join(t.TempDir(), "copy.html")
	if err := json.Unmarshal([]byte(mustRun(t, m, "", "render", "--out="+dest, "1")), &out); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("copy not written: %v", err)
	}
	if !strings.Contains(string(data), "Hello world foo") {
		t.Errorf("copy = %q", data)
	}

	if _, err := runCLI(t, m, "", "render", "--format=docx", "1"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestCLIMigrate(t *testing.T) {
	m := setupTestModel(t)

	var result struct {
		Notes int `json:"notes"`
	}
	if err := json.Unmarshal([]byte(mustRun(t, m, "", "migrate")), &result); err != nil {
		t.Fatal(err)
	}
	if result.Notes != 0 {
		t.Errorf("notes = %d, want 0", result.Notes)
	}
}

func TestCLIListWaitsForStartupImport(t *testing.T) {
	dir := t.TempDir()
	legacyNote := `<note>
  <date-created>1600000000000</date-created>
  <title>From the old app</title>
  <body>kept</body>
</note>`
	if err := os.MkdirAll(filepath.Join(dir, "notes"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes", "1.xml"), []byte(legacyNote), 0600); err != nil {
		t.Fatal(err)
	}

	m, err := app.Open(app.Options{DataDir: dir, Config: config.DefaultConfig(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	list := decodeList(t, mustRun(t, m, "", "list"))
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}
	if list.Notes[0].Title != "From the old app" {
		t.Errorf("title = %q", list.Notes[0].Title)
	}
}

func TestCLIErrorHandling(t *testing.T) {
	m := setupTestModel(t)

	tests := []struct {
		name string
		args []string
	}{
		{"show without id", []string{"show"}},
		{"show bad id", []string{"show", "abc"}},
		{"show not found", []string{"show", "99"}},
		{"move to unknown folder", []string{"move", "--to=trash", "1"}},
		{"list unknown folder", []string{"list", "--folder=trash"}},
		{"search without keyword", []string{"search"}},
		{"add bad type", []string{"add", "--type=drawing", "--title=x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, m, "", tt.args...); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCLIAdd_EmptyBody(t *testing.T) {
	m := setupTestModel(t)
	if _, err := runCLI(t, m, "\n", "add"); err == nil {
		t.Error("expected error for a note without title or body")
	}
}

func TestOutputError_Format(t *testing.T) {
	m := setupTestModel(t)
	_, err := runCLI(t, m, "", "show", "99")
	if err == nil || !strings.HasPrefix(err.Error(), "[NOT_FOUND] ") {
		t.Errorf("error = %v, want [NOT_FOUND] prefix", err)
	}
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"notally"}, false},
		{"add command", []string{"notally", "add"}, true},
		{"delete-forever command", []string{"notally", "delete-forever"}, true},
		{"labels command", []string{"notally", "labels"}, true},
		{"help flag", []string{"notally", "--help"}, true},
		{"version flag", []string{"notally", "--version"}, true},
		{"short help flag", []string{"notally", "-h"}, true},
		{"short version flag", []string{"notally", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"notally", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"notally"}, false},
		{"help flag", []string{"notally", "--help"}, true},
		{"version flag", []string{"notally", "--version"}, true},
		{"help subcommand", []string{"notally", "help"}, true},
		{"add command is not help", []string{"notally", "add"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("NOTALLY_HOME", "/tmp/notally-test-home")
	dir, err := dataDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/tmp/notally-test-home" {
		t.Errorf("dataDir() = %q", dir)
	}
}

func TestReadStdinWithLimit(t *testing.T) {
	withStdin := func(t *testing.T, content string) {
		t.Helper()
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(content)
			w.Close()
		}()
		oldStdin := os.Stdin
		os.Stdin = r
		t.Cleanup(func() { os.Stdin = oldStdin })
	}

	t.Run("within limit", func(t *testing.T) {
		withStdin(t, "small content\n")
		result, err := readStdin(1000)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != "small content" {
			t.Errorf("expected %q, got %q", "small content", result)
		}
	})

	t.Run("exceeds limit", func(t *testing.T) {
		withStdin(t, strings.Repeat("x", 100))
		if _, err := readStdin(50); err == nil {
			t.Error("expected error for content exceeding limit, got nil")
		}
	})
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.DebugLevel)
	n := logNotifier(l)
	n.Notify(app.Event{Op: "insert_label"})
	n.Notify(app.Event{Op: "rename_label", Err: context.Canceled})

	out := buf.String()
	if !strings.Contains(out, `"op":"insert_label"`) || !strings.Contains(out, `"component":"events"`) {
		t.Errorf("log output = %s", out)
	}
	if !strings.Contains(out, "operation failed") {
		t.Errorf("failure not logged: %s", out)
	}
}
