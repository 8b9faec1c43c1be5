// Package app is the session layer: it owns the store, the worker pool and
// the live queries a front end binds to, and runs every mutation off the
// caller's goroutine.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/notally/notally/internal/backup"
	"github.com/notally/notally/internal/cache"
	"github.com/notally/notally/internal/config"
	"github.com/notally/notally/internal/db"
	"github.com/notally/notally/internal/legacy"
	"github.com/notally/notally/internal/logging"
	"github.com/notally/notally/internal/note"
	"github.com/notally/notally/internal/render"
	"github.com/notally/notally/internal/store"
	"github.com/notally/notally/internal/worker"
)

// Event reports the completion of a background operation.
type Event struct {
	Op  string
	Err error
}

// Notifier receives completion events. It is called from worker goroutines.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(e Event) { f(e) }

// Options configures a session.
type Options struct {
	DataDir string
	Config  *config.Config
	Logger  zerolog.Logger

	// Notifier is optional.
	Notifier Notifier

	// PDF overrides the generator built from Config.PDFCommand.
	PDF render.PDFGenerator

	// SkipMigration disables the legacy import at startup.
	SkipMigration bool
}

// Model is one user session over a data directory.
type Model struct {
	dataDir  string
	cfg      *config.Config
	log      zerolog.Logger
	notifier Notifier

	store    *store.Store
	pool     *worker.Pool
	labels   *cache.LabelCache
	exporter *render.Exporter
	policy   backup.Policy
	pdf      render.PDFGenerator

	// exportMu serializes use of the shared render scratch directory.
	exportMu sync.Mutex

	migration *worker.Future[*legacy.Result]

	baseNotes     *store.Query[*note.Note]
	deletedNotes  *store.Query[*note.Note]
	archivedNotes *store.Query[*note.Note]
	allLabels     *store.Query[string]

	mu     sync.Mutex
	closed bool
}

// Open starts a session. Legacy migration is submitted to the worker pool
// immediately; Migration returns its future.
func Open(opts Options) (*Model, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	settings, err := render.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(opts.DataDir, logging.Component(opts.Logger, "store"))
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(s.DB(), cfg)

	pdf := opts.PDF
	if pdf == nil {
		pdf = render.NewCommandPDF(cfg.PDFCommand, logging.Component(opts.Logger, "pdf"))
	}

	m := &Model{
		dataDir:  opts.DataDir,
		cfg:      cfg,
		log:      logging.Component(opts.Logger, "app"),
		notifier: opts.Notifier,
		store:    s,
		pool:     worker.NewPool(cfg.Workers, logging.Component(opts.Logger, "worker")),
		labels:   cache.NewLabelCache(s),
		exporter: render.NewExporter(opts.DataDir, settings),
		policy:   backup.NewPolicy(filepath.Join(opts.DataDir, db.ExportsDir), cfg),
		pdf:      pdf,
	}

	m.baseNotes = s.NotesIn(note.FolderNotes)
	m.deletedNotes = s.NotesIn(note.FolderDeleted)
	m.archivedNotes = s.NotesIn(note.FolderArchived)
	m.allLabels = s.Labels()

	if opts.SkipMigration {
		m.migration = worker.Resolved(&legacy.Result{}, nil)
	} else {
		migrateLog := logging.Component(opts.Logger, "legacy")
		m.migration = submit(m, context.Background(), "migrate", func(ctx context.Context) (*legacy.Result, error) {
			return legacy.Migrate(ctx, s, legacy.DefaultPaths(opts.DataDir), migrateLog)
		})
	}
	return m, nil
}

// Migration returns the future of the startup legacy migration.
func (m *Model) Migration() *worker.Future[*legacy.Result] {
	return m.migration
}

// Store exposes the underlying store.
func (m *Model) Store() *store.Store {
	return m.store
}

// Config returns the session configuration.
func (m *Model) Config() *config.Config {
	return m.cfg
}

// BackupPolicy returns the path policy for backup files.
func (m *Model) BackupPolicy() backup.Policy {
	return m.policy
}

// Close stops accepting work, waits for running jobs and releases the
// store. Completion notifications for jobs still running are dropped.
func (m *Model) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.pool.Close()
	m.labels.Close()
	return m.store.Close()
}

func (m *Model) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Model) notify(op string, err error) {
	if m.notifier == nil {
		return
	}
	if m.isClosed() {
		m.log.Debug().Str("op", op).Msg("session closed, notification dropped")
		return
	}
	m.notifier.Notify(Event{Op: op, Err: err})
}

// submit runs fn on the pool. Storage work must finish once started, so fn
// gets a context that keeps ctx's values but not its cancellation.
func submit[T any](m *Model, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) *worker.Future[T] {
	detached := context.WithoutCancel(ctx)
	return worker.Go(m.pool, func() (T, error) {
		v, err := fn(detached)
		if err != nil {
			m.log.Warn().Err(err).Str("op", op).Msg("operation failed")
		}
		m.notify(op, err)
		return v, err
	})
}

// =============================================================================
// Queries
// =============================================================================

// BaseNotes is the live NOTES folder.
func (m *Model) BaseNotes() *store.Query[*note.Note] { return m.baseNotes }

// DeletedNotes is the live DELETED folder.
func (m *Model) DeletedNotes() *store.Query[*note.Note] { return m.deletedNotes }

// ArchivedNotes is the live ARCHIVED folder.
func (m *Model) ArchivedNotes() *store.Query[*note.Note] { return m.archivedNotes }

// Labels is the live label list.
func (m *Model) Labels() *store.Query[string] { return m.allLabels }

// NotesByLabel returns the cached live query for label.
func (m *Model) NotesByLabel(label string) *store.Query[*note.Note] {
	return m.labels.Get(label)
}

// Search returns a new live query for keyword. The caller closes it.
func (m *Model) Search(keyword string) *store.Query[*note.Note] {
	return m.store.Search(keyword)
}

// Note reads a single note.
func (m *Model) Note(ctx context.Context, id int64) (*note.Note, error) {
	return m.store.Note(ctx, id)
}

// Folder returns the live query for folder.
func (m *Model) Folder(folder note.Folder) (*store.Query[*note.Note], error) {
	switch folder {
	case note.FolderNotes:
		return m.baseNotes, nil
	case note.FolderDeleted:
		return m.deletedNotes, nil
	case note.FolderArchived:
		return m.archivedNotes, nil
	}
	return nil, fmt.Errorf("unknown folder %q", folder)
}
