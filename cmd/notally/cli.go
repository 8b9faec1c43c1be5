package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/notally/notally/internal/app"
	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
	"github.com/notally/notally/internal/worker"
)

// maxStdinBytes bounds note bodies read from stdin.
const maxStdinBytes = 4 << 20

// newCLIApp creates the CLI application with all commands. m may be nil when
// only help or version output is needed.
func newCLIApp(m *app.Model) *cli.App {
	a := &cli.App{
		Name:    "notally",
		Usage:   "Local notes with labels, backups and exports",
		Version: Version,
		Commands: []*cli.Command{
			addCmd(m),
			listCmd(m),
			showCmd(m),
			searchCmd(m),
			moveCmd(m),
			deleteForeverCmd(m),
			tagCmd(m),
			labelsCmd(m),
			exportCmd(m),
			importCmd(m),
			migrateCmd(m),
			renderCmd(m),
		},
	}
	if m != nil {
		// Commands read the store, so let the startup import land first. A
		// failed import is already logged and is reported by `migrate`.
		a.Before = func(c *cli.Context) error {
			_, _ = m.Migration().Wait(c.Context)
			return nil
		}
	}
	// Disable default exit error handler to allow proper error return in tests
	a.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return a
}

// addCmd creates the add command.
func addCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add a note (reads the body from stdin; for lists, one item per line)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Note title"},
			&cli.StringFlag{Name: "type", Value: "NOTE", Usage: "Note type: NOTE|LIST"},
			&cli.StringFlag{Name: "labels", Aliases: []string{"l"}, Usage: "Comma-separated labels"},
			&cli.StringFlag{Name: "folder", Value: "NOTES", Usage: "Folder: NOTES|ARCHIVED|DELETED"},
			&cli.BoolFlag{Name: "pinned", Aliases: []string{"p"}, Usage: "Pin the note"},
		},
		Action: func(c *cli.Context) error {
			typ, err := note.ParseType(c.String("type"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			folder, err := note.ParseFolder(c.String("folder"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			var text string
			if stdinHasData() {
				if text, err = readStdin(maxStdinBytes); err != nil {
					return outputError(err)
				}
			}

			n := &note.Note{
				Type:   typ,
				Folder: folder,
				Title:  c.String("title"),
				Pinned: c.Bool("pinned"),
				Labels: parseLabels(c.String("labels")),
			}
			if typ == note.TypeList {
				n.Items = parseItems(text)
			} else {
				n.Body = text
			}
			if n.Title == "" && n.Body == "" && len(n.Items) == 0 {
				return outputError(errors.NewInvalidRequest("a title or a body is required"))
			}

			added, err := m.AddNote(c.Context, n).Wait(c.Context)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(note.ToRecord(added))
		},
	}
}

// listCmd creates the list command.
func listCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List notes in a folder, pinned first then newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Value: "NOTES", Usage: "Folder: NOTES|ARCHIVED|DELETED"},
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Only active notes with this label"},
		},
		Action: func(c *cli.Context) error {
			var notes []*note.Note
			if label := c.String("label"); label != "" {
				var err error
				if notes, err = m.NotesByLabel(note.NormalizeLabel(label)).Snapshot(c.Context); err != nil {
					return outputError(err)
				}
			} else {
				folder, err := note.ParseFolder(c.String("folder"))
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				q, err := m.Folder(folder)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				if notes, err = q.Snapshot(c.Context); err != nil {
					return outputError(err)
				}
			}

			return outputJSON(notesOutput(notes))
		},
	}
}

// showCmd creates the show command.
func showCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one note",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := parseID(c)
			if err != nil {
				return outputError(err)
			}
			n, err := m.Note(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(note.ToRecord(n))
		},
	}
}

// searchCmd creates the search command.
func searchCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search active notes by keyword",
		ArgsUsage: "<keyword>",
		Action: func(c *cli.Context) error {
			keyword := strings.Join(c.Args().Slice(), " ")
			if keyword == "" {
				return outputError(errors.NewInvalidRequest("keyword is required"))
			}
			q := m.Search(keyword)
			defer q.Close()
			notes, err := q.Snapshot(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(notesOutput(notes))
		},
	}
}

// moveCmd creates the move command.
func moveCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:      "move",
		Usage:     "Move a note to another folder",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Required: true, Usage: "Target folder: NOTES|ARCHIVED|DELETED"},
		},
		Action: func(c *cli.Context) error {
			id, err := parseID(c)
			if err != nil {
				return outputError(err)
			}
			folder, err := note.ParseFolder(c.String("to"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			if _, err := m.MoveToFolder(c.Context, id, folder).Wait(c.Context); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"id": id, "folder": folder})
		},
	}
}

// deleteForeverCmd creates the delete-forever command.
func deleteForeverCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:      "delete-forever",
		Usage:     "Permanently remove a note from the DELETED folder",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := parseID(c)
			if err != nil {
				return outputError(err)
			}
			if _, err := m.DeleteForever(c.Context, id).Wait(c.Context); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"id": id, "deleted": true})
		},
	}
}

// tagCmd creates the tag command.
func tagCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:      "tag",
		Usage:     "Replace the labels of a note",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "labels", Aliases: []string{"l"}, Usage: "Comma-separated labels (empty clears)"},
		},
		Action: func(c *cli.Context) error {
			id, err := parseID(c)
			if err != nil {
				return outputError(err)
			}
			labels := note.NormalizeLabels(parseLabels(c.String("labels")))
			if _, err := m.UpdateLabels(c.Context, id, labels).Wait(c.Context); err != nil {
				return outputError(err)
			}
			if labels == nil {
				labels = []string{}
			}
			return outputJSON(map[string]any{"id": id, "labels": labels})
		},
	}
}

// labelsCmd creates the labels command group.
func labelsCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:  "labels",
		Usage: "Manage labels",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List labels alphabetically",
				Action: func(c *cli.Context) error {
					labels, err := m.Labels().Snapshot(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"labels": labels, "count": len(labels)})
				},
			},
			{
				Name:      "add",
				Usage:     "Create a label",
				ArgsUsage: "<label>",
				Action: func(c *cli.Context) error {
					label := c.Args().First()
					if _, err := m.InsertLabel(c.Context, label).Wait(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"label": note.NormalizeLabel(label)})
				},
			},
			{
				Name:      "rename",
				Usage:     "Rename a label on every note",
				ArgsUsage: "<old> <new>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return outputError(errors.NewInvalidRequest("rename takes <old> <new>"))
					}
					oldValue, newValue := c.Args().Get(0), c.Args().Get(1)
					if _, err := m.RenameLabel(c.Context, oldValue, newValue).Wait(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{
						"old": note.NormalizeLabel(oldValue),
						"new": note.NormalizeLabel(newValue),
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a label and remove it from every note",
				ArgsUsage: "<label>",
				Action: func(c *cli.Context) error {
					label := c.Args().First()
					if _, err := m.DeleteLabel(c.Context, label).Wait(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"label": note.NormalizeLabel(label), "deleted": true})
				},
			},
		},
	}
}

// exportCmd creates the export command.
func exportCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write every note and label to a .jsonl backup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Output path (default: exports directory)"},
		},
		Action: func(c *cli.Context) error {
			result, err := m.ExportBackup(c.Context, c.String("path")).Wait(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(result)
		},
	}
}

// importCmd creates the import command.
func importCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import a .jsonl backup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Required: true, Usage: "Backup file"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "append", Usage: "Import mode: append|replace"},
		},
		Action: func(c *cli.Context) error {
			mode, err := app.ParseImportMode(c.String("mode"))
			if err != nil {
				return outputError(err)
			}
			result, err := m.ImportBackup(c.Context, c.String("path"), mode).Wait(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(result)
		},
	}
}

// migrateCmd creates the migrate command. Migration itself runs whenever the
// data directory is opened; this reports what it did.
func migrateCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Import notes left by the legacy file format and report the result",
		Action: func(c *cli.Context) error {
			result, err := m.Migration().Wait(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(result)
		},
	}
}

// renderCmd creates the render command.
func renderCmd(m *app.Model) *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Render a note as html, txt or pdf",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "html", Usage: "Output format: html|txt|pdf"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Copy the rendered file here"},
		},
		Action: func(c *cli.Context) error {
			id, err := parseID(c)
			if err != nil {
				return outputError(err)
			}

			var f *worker.Future[string]
			switch c.String("format") {
			case "html":
				f = m.HTMLFile(c.Context, id)
			case "txt":
				f = m.PlainTextFile(c.Context, id)
			case "pdf":
				f = m.PDFFile(c.Context, id)
			default:
				return outputError(errors.NewInvalidRequest("format must be one of: html, txt, pdf"))
			}

			path, err := f.Wait(c.Context)
			if err != nil {
				return outputError(err)
			}
			if out := c.String("out"); out != "" {
				if _, err := m.SaveFile(c.Context, path, out).Wait(c.Context); err != nil {
					return outputError(err)
				}
				path = out
			}
			return outputJSON(map[string]any{"id": id, "path": path})
		},
	}
}

// Helper functions

type listOutput struct {
	Notes []*note.Record `json:"notes"`
	Count int            `json:"count"`
}

func notesOutput(notes []*note.Note) listOutput {
	return listOutput{Notes: note.ToRecords(notes), Count: len(notes)}
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var nErr *errors.NotallyError
	if stderrors.As(err, &nErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", nErr.Code, nErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseID reads the first positional argument as a note id.
func parseID(c *cli.Context) (int64, error) {
	if c.NArg() == 0 {
		return 0, errors.NewInvalidRequest("note id is required")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("invalid note id %q", c.Args().First()))
	}
	return id, nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("input exceeds %d bytes", limit))
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// parseLabels splits a comma-separated string into labels.
func parseLabels(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		if l := strings.TrimSpace(p); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

// parseItems turns text into checklist items, one per non-blank line.
// A leading "[x] " marks the item checked and "[ ] " unchecked.
func parseItems(text string) []note.ListItem {
	var items []note.ListItem
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		item := note.ListItem{Body: line}
		switch {
		case strings.HasPrefix(line, "[x] "), strings.HasPrefix(line, "[X] "):
			item = note.ListItem{Body: line[4:], Checked: true}
		case strings.HasPrefix(line, "[ ] "):
			item.Body = line[4:]
		}
		items = append(items, item)
	}
	return items
}
