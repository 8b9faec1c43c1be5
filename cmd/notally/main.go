package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/notally/notally/internal/app"
	"github.com/notally/notally/internal/config"
	"github.com/notally/notally/internal/logging"
	"github.com/notally/notally/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"add": true, "list": true, "show": true, "search": true,
	"move": true, "delete-forever": true, "tag": true, "labels": true,
	"export": true, "import": true, "migrate": true, "render": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return isHelpOrVersion()
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// dataDir returns $NOTALLY_HOME, or ~/.notally.
func dataDir() (string, error) {
	if dir := os.Getenv("NOTALLY_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".notally"), nil
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		fmt.Println("notally: local notes with labels, backups and exports\n\n" +
			"Usage: notally <command> [options]\n" +
			"       notally --help\n\n" +
			"MCP server mode requires piped input.")
		return
	}

	// Help and version need no data directory.
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) >= 2 && !isCLIMode() && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'notally --help' for usage.\n")
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	baseDir, err := dataDir()
	if err != nil {
		return err
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stdout carries MCP traffic and CLI output; logs go to stderr.
	logger := logging.New(os.Stderr, cfg.LogLevel)
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn().Strs("tools", unknown).Msg("unknown tools in disabled_tools")
	}

	m, err := app.Open(app.Options{
		DataDir:  baseDir,
		Config:   cfg,
		Logger:   logger,
		Notifier: logNotifier(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	defer m.Close()

	if isCLIMode() {
		return newCLIApp(m).Run(os.Args)
	}

	return mcp.Run(m, cfg, Version)
}

// logNotifier reports background completions at debug level.
func logNotifier(l zerolog.Logger) app.Notifier {
	l = logging.Component(l, "events")
	return app.NotifierFunc(func(e app.Event) {
		if e.Err != nil {
			l.Debug().Err(e.Err).Str("op", e.Op).Msg("operation failed")
			return
		}
		l.Debug().Str("op", e.Op).Msg("operation done")
	})
}
