package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDateFormat renders dates like "Tue 3 Oct 2023".
const DefaultDateFormat = "Mon 2 Jan 2006"

// Config holds application configuration.
type Config struct {
	// ShowDateCreated adds the creation date to rendered notes.
	// A pointer so that an explicit false in a config file overrides the default.
	ShowDateCreated *bool `json:"show_date_created,omitempty" yaml:"show_date_created,omitempty"`

	// DateFormat is a Go time layout used for rendered dates
	DateFormat string `json:"date_format,omitempty" yaml:"date_format,omitempty"`

	// TimeZone is an IANA zone name used for rendered dates. Empty means local time.
	TimeZone string `json:"time_zone,omitempty" yaml:"time_zone,omitempty"`

	// AllowedPaths is an allowlist of directories for backup import/export.
	// Paths outside <data dir>/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty" yaml:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty" yaml:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" yaml:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" yaml:"db_max_idle_conns,omitempty"`

	// Workers is the size of the background worker pool.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// PDFCommand is an external HTML-to-PDF converter, e.g.
	// ["wkhtmltopdf", "{input}", "{output}"]. Empty disables PDF rendering.
	PDFCommand []string `json:"pdf_command,omitempty" yaml:"pdf_command,omitempty"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" yaml:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	show := true
	return &Config{
		ShowDateCreated: &show,
		DateFormat:      DefaultDateFormat,
		Workers:         4,
		LogLevel:        "info",
	}
}

// ShowDate reports whether rendered notes include the creation date.
func (c *Config) ShowDate() bool {
	return c.ShowDateCreated == nil || *c.ShowDateCreated
}

// Location resolves TimeZone. Unknown zones are an error.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Load loads configuration from baseDir/config.json, falling back to
// baseDir/config.yaml. Returns default config if neither exists.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.notally.
func Load(baseDir string) (*Config, error) {
	jsonPath := filepath.Join(baseDir, "config.json")
	if _, err := os.Stat(jsonPath); err == nil {
		return loadFile(jsonPath)
	}
	return loadFile(filepath.Join(baseDir, "config.yaml"))
}

// loadFileRaw loads configuration from a specific file path.
// The format is chosen by extension. Returns zero-valued config if the file
// doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	switch filepath.Ext(configPath) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.ShowDateCreated = overlay.ShowDateCreated
	if result.ShowDateCreated == nil {
		result.ShowDateCreated = base.ShowDateCreated
	}

	result.DateFormat = firstNonEmpty(overlay.DateFormat, base.DateFormat)
	result.TimeZone = firstNonEmpty(overlay.TimeZone, base.TimeZone)
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	result.Workers = overlay.Workers
	if result.Workers == 0 {
		result.Workers = base.Workers
	}

	// The PDF command is a single argv, not a set: overlay replaces base.
	result.PDFCommand = overlay.PDFCommand
	if len(result.PDFCommand) == 0 {
		result.PDFCommand = base.PDFCommand
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
