package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/notally/notally/internal/app"
	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
	"github.com/notally/notally/internal/worker"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	model *app.Model
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(m *app.Model) *Handlers {
	return &Handlers{model: m}
}

// Request types for each tool

// NoteAddRequest represents the arguments for note_add.
type NoteAddRequest struct {
	Type   string          `json:"type,omitempty"`
	Title  string          `json:"title,omitempty"`
	Body   string          `json:"body,omitempty"`
	Items  []note.ListItem `json:"items,omitempty"`
	Labels []string        `json:"labels,omitempty"`
	Pinned bool            `json:"pinned,omitempty"`
	Folder string          `json:"folder,omitempty"`
}

// NoteListRequest represents the arguments for note_list.
type NoteListRequest struct {
	Folder string `json:"folder,omitempty"`
	Label  string `json:"label,omitempty"`
}

// NoteIDRequest is used by tools addressing a single note.
type NoteIDRequest struct {
	ID int64 `json:"id"`
}

// NoteSearchRequest represents the arguments for note_search.
type NoteSearchRequest struct {
	Query string `json:"query"`
}

// NoteMoveRequest represents the arguments for note_move.
type NoteMoveRequest struct {
	ID     int64  `json:"id"`
	Folder string `json:"folder"`
}

// NoteSetLabelsRequest represents the arguments for note_set_labels.
type NoteSetLabelsRequest struct {
	ID     int64    `json:"id"`
	Labels []string `json:"labels"`
}

// NoteRenderRequest represents the arguments for note_render.
type NoteRenderRequest struct {
	ID     int64  `json:"id"`
	Format string `json:"format,omitempty"`
}

// LabelRequest is used by tools addressing a single label.
type LabelRequest struct {
	Label string `json:"label"`
}

// LabelRenameRequest represents the arguments for label_rename.
type LabelRenameRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// BackupExportRequest represents the arguments for backup_export.
type BackupExportRequest struct {
	Path string `json:"path,omitempty"`
}

// BackupImportRequest represents the arguments for backup_import.
type BackupImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// NotesOutput is returned by listing tools.
type NotesOutput struct {
	Notes []*note.Record `json:"notes"`
	Count int            `json:"count"`
}

func notesOutput(notes []*note.Note) NotesOutput {
	return NotesOutput{Notes: note.ToRecords(notes), Count: len(notes)}
}

// Handler implementations

// HandleNoteAdd handles the note_add tool call.
func (h *Handlers) HandleNoteAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteAddRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	typ := note.TypeNote
	if input.Type != "" {
		if typ, err = note.ParseType(input.Type); err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}
	}
	folder := note.FolderNotes
	if input.Folder != "" {
		if folder, err = note.ParseFolder(input.Folder); err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}
	}

	n, err := h.model.AddNote(ctx, &note.Note{
		Type:   typ,
		Folder: folder,
		Title:  input.Title,
		Pinned: input.Pinned,
		Labels: input.Labels,
		Body:   input.Body,
		Items:  input.Items,
	}).Wait(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(note.ToRecord(n))
}

// HandleNoteList handles the note_list tool call.
func (h *Handlers) HandleNoteList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	var notes []*note.Note
	if input.Label != "" {
		notes, err = h.model.NotesByLabel(note.NormalizeLabel(input.Label)).Snapshot(ctx)
	} else {
		folder := note.FolderNotes
		if input.Folder != "" {
			if folder, err = note.ParseFolder(input.Folder); err != nil {
				return errorResult(errors.NewInvalidRequest(err.Error())), nil
			}
		}
		q, qerr := h.model.Folder(folder)
		if qerr != nil {
			return errorResult(errors.NewInvalidRequest(qerr.Error())), nil
		}
		notes, err = q.Snapshot(ctx)
	}
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(notesOutput(notes))
}

// HandleNoteGet handles the note_get tool call.
func (h *Handlers) HandleNoteGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteIDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if err := requireID(input.ID); err != nil {
		return errorResult(err), nil
	}

	n, err := h.model.Note(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(note.ToRecord(n))
}

// HandleNoteSearch handles the note_search tool call.
func (h *Handlers) HandleNoteSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteSearchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.Query == "" {
		return errorResult(errors.NewInvalidRequest("query is required")), nil
	}

	q := h.model.Search(input.Query)
	defer q.Close()
	notes, err := q.Snapshot(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(notesOutput(notes))
}

// HandleNoteMove handles the note_move tool call.
func (h *Handlers) HandleNoteMove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteMoveRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if err := requireID(input.ID); err != nil {
		return errorResult(err), nil
	}
	folder, err := note.ParseFolder(input.Folder)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if _, err := h.model.MoveToFolder(ctx, input.ID, folder).Wait(ctx); err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"id": input.ID, "folder": folder})
}

// HandleNoteDeleteForever handles the note_delete_forever tool call.
func (h *Handlers) HandleNoteDeleteForever(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteIDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if err := requireID(input.ID); err != nil {
		return errorResult(err), nil
	}

	if _, err := h.model.DeleteForever(ctx, input.ID).Wait(ctx); err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"id": input.ID, "deleted": true})
}

// HandleNoteSetLabels handles the note_set_labels tool call.
func (h *Handlers) HandleNoteSetLabels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteSetLabelsRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if err := requireID(input.ID); err != nil {
		return errorResult(err), nil
	}

	labels := note.NormalizeLabels(input.Labels)
	if _, err := h.model.UpdateLabels(ctx, input.ID, labels).Wait(ctx); err != nil {
		return errorResult(err), nil
	}
	if labels == nil {
		labels = []string{}
	}

	return successResult(map[string]any{"id": input.ID, "labels": labels})
}

// HandleNoteRender handles the note_render tool call.
func (h *Handlers) HandleNoteRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteRenderRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if err := requireID(input.ID); err != nil {
		return errorResult(err), nil
	}

	var f *worker.Future[string]
	switch input.Format {
	case "", "html":
		f = h.model.HTMLFile(ctx, input.ID)
	case "txt":
		f = h.model.PlainTextFile(ctx, input.ID)
	case "pdf":
		f = h.model.PDFFile(ctx, input.ID)
	default:
		return errorResult(errors.NewInvalidRequest("format must be one of: html, txt, pdf")), nil
	}

	path, err := f.Wait(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"id": input.ID, "path": path})
}

// HandleLabelList handles the label_list tool call.
func (h *Handlers) HandleLabelList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	labels, err := h.model.Labels().Snapshot(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"labels": labels, "count": len(labels)})
}

// HandleLabelAdd handles the label_add tool call.
func (h *Handlers) HandleLabelAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LabelRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	if _, err := h.model.InsertLabel(ctx, input.Label).Wait(ctx); err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"label": note.NormalizeLabel(input.Label)})
}

// HandleLabelRename handles the label_rename tool call.
func (h *Handlers) HandleLabelRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LabelRenameRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	if _, err := h.model.RenameLabel(ctx, input.Old, input.New).Wait(ctx); err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{
		"old": note.NormalizeLabel(input.Old),
		"new": note.NormalizeLabel(input.New),
	})
}

// HandleLabelDelete handles the label_delete tool call.
func (h *Handlers) HandleLabelDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LabelRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	if _, err := h.model.DeleteLabel(ctx, input.Label).Wait(ctx); err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"label": note.NormalizeLabel(input.Label), "deleted": true})
}

// HandleBackupExport handles the backup_export tool call.
func (h *Handlers) HandleBackupExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BackupExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.model.ExportBackup(ctx, input.Path).Wait(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBackupImport handles the backup_import tool call.
func (h *Handlers) HandleBackupImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BackupImportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	mode, err := app.ParseImportMode(input.Mode)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.model.ImportBackup(ctx, input.Path, mode).Wait(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var nErr *errors.NotallyError
	if stderrors.As(err, &nErr) {
		errorObj := map[string]any{
			"code":    nErr.Code,
			"message": err.Error(),
			"status":  nErr.Status,
		}
		if nErr.Code != errors.ErrInternal && nErr.Details != nil {
			errorObj["details"] = nErr.Details
		}
		if nErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
