package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/notally/notally/internal/app"
	"github.com/notally/notally/internal/config"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var idParam = mcp.WithNumber("id",
	mcp.Required(),
	mcp.Description("Note id"),
)

var (
	noteAddToolDef = mcp.NewTool("note_add",
		mcp.WithDescription("Create a note. Plain notes take a body; checklists take items."),
		mcp.WithString("type",
			mcp.Description("NOTE (plain text, default) or LIST (checklist)"),
			mcp.Enum("NOTE", "LIST"),
		),
		mcp.WithString("title", mcp.Description("Optional title")),
		mcp.WithString("body", mcp.Description("Text of a plain note")),
		mcp.WithArray("items",
			mcp.Description("Checklist items, in order"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"body":    map[string]any{"type": "string"},
					"checked": map[string]any{"type": "boolean"},
				},
				"required": []string{"body"},
			}),
		),
		mcp.WithArray("labels", mcp.Description("Labels to attach"), mcp.WithStringItems()),
		mcp.WithBoolean("pinned", mcp.Description("Pin the note")),
		mcp.WithString("folder",
			mcp.Description("Folder to create the note in (default NOTES)"),
			mcp.Enum("NOTES", "ARCHIVED", "DELETED"),
		),
	)

	noteListToolDef = mcp.NewTool("note_list",
		mcp.WithDescription("List notes in a folder, pinned first then newest first. With label, lists active notes carrying that label."),
		mcp.WithString("folder",
			mcp.Description("NOTES (default), ARCHIVED or DELETED"),
			mcp.Enum("NOTES", "ARCHIVED", "DELETED"),
		),
		mcp.WithString("label", mcp.Description("Only notes with this label")),
	)

	noteGetToolDef = mcp.NewTool("note_get",
		mcp.WithDescription("Get one note by id."),
		idParam,
	)

	noteSearchToolDef = mcp.NewTool("note_search",
		mcp.WithDescription("Search active notes by keyword in title, body and checklist items."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Keyword")),
	)

	noteMoveToolDef = mcp.NewTool("note_move",
		mcp.WithDescription("Move a note to another folder. Missing ids are ignored."),
		idParam,
		mcp.WithString("folder",
			mcp.Required(),
			mcp.Description("Target folder"),
			mcp.Enum("NOTES", "ARCHIVED", "DELETED"),
		),
	)

	noteDeleteForeverToolDef = mcp.NewTool("note_delete_forever",
		mcp.WithDescription("Permanently remove a note. The note must be in DELETED."),
		idParam,
	)

	noteSetLabelsToolDef = mcp.NewTool("note_set_labels",
		mcp.WithDescription("Replace the labels of a note."),
		idParam,
		mcp.WithArray("labels", mcp.Required(), mcp.Description("The full label set"), mcp.WithStringItems()),
	)

	noteRenderToolDef = mcp.NewTool("note_render",
		mcp.WithDescription("Render a note to a file and return its path."),
		idParam,
		mcp.WithString("format",
			mcp.Description("html (default), txt or pdf"),
			mcp.Enum("html", "txt", "pdf"),
		),
	)

	labelListToolDef = mcp.NewTool("label_list",
		mcp.WithDescription("List all labels alphabetically."),
	)

	labelAddToolDef = mcp.NewTool("label_add",
		mcp.WithDescription("Create a label. Fails if it already exists."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Label value")),
	)

	labelRenameToolDef = mcp.NewTool("label_rename",
		mcp.WithDescription("Rename a label on every note. Renaming onto an existing label merges them."),
		mcp.WithString("old", mcp.Required(), mcp.Description("Current label")),
		mcp.WithString("new", mcp.Required(), mcp.Description("New label")),
	)

	labelDeleteToolDef = mcp.NewTool("label_delete",
		mcp.WithDescription("Delete a label and remove it from every note."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Label value")),
	)

	backupExportToolDef = mcp.NewTool("backup_export",
		mcp.WithDescription("Write every note and label to a .jsonl backup file."),
		mcp.WithString("path", mcp.Description("Destination (default: a timestamped file in the exports directory)")),
	)

	backupImportToolDef = mcp.NewTool("backup_import",
		mcp.WithDescription("Import a .jsonl backup. A corrupt file imports nothing."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Backup file")),
		mcp.WithString("mode",
			mcp.Description("append (default, new ids) or replace (keep ids, overwrite)"),
			mcp.Enum("append", "replace"),
		),
	)
)

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"note_add": {
		def:     noteAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteAdd },
	},
	"note_list": {
		def:     noteListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteList },
	},
	"note_get": {
		def:     noteGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteGet },
	},
	"note_search": {
		def:     noteSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteSearch },
	},
	"note_move": {
		def:     noteMoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteMove },
	},
	"note_delete_forever": {
		def:     noteDeleteForeverToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteDeleteForever },
	},
	"note_set_labels": {
		def:     noteSetLabelsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteSetLabels },
	},
	"note_render": {
		def:     noteRenderToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteRender },
	},
	"label_list": {
		def:     labelListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLabelList },
	},
	"label_add": {
		def:     labelAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLabelAdd },
	},
	"label_rename": {
		def:     labelRenameToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLabelRename },
	},
	"label_delete": {
		def:     labelDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLabelDelete },
	},
	"backup_export": {
		def:     backupExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackupExport },
	},
	"backup_import": {
		def:     backupImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackupImport },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server over the session m. Tools listed in
// cfg.DisabledTools are not registered.
func NewServer(m *app.Model, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"notally",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(m)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the tools over stdio until the client disconnects. Serving starts
// once the startup legacy import has finished; its failure is logged by the
// model and does not stop the server.
func Run(m *app.Model, cfg *config.Config, version string) error {
	_, _ = m.Migration().Wait(context.Background())
	return server.ServeStdio(NewServer(m, cfg, version))
}
