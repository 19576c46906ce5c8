// Package config holds the include/exclude configuration the index store is
// built from, plus the loader that reads it from the findex config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Include is one root folder the store indexes.
type Include struct {
	// Path is the absolute path of the root.
	Path string `mapstructure:"path"`

	// ID is the stable per-root identifier entries carry.
	ID uint32 `mapstructure:"id"`

	// OneFileSystem stops the scan at mount point boundaries.
	OneFileSystem bool `mapstructure:"one_file_system"`

	// Monitor enables live filesystem monitoring for this root.
	Monitor bool `mapstructure:"monitor"`

	// ScanAfterLaunch marks the root as eligible for the initial scan.
	// Roots with this unset only enter the store through a snapshot.
	ScanAfterLaunch bool `mapstructure:"scan_after_launch"`
}

// Equal reports whether two includes are configured identically.
func (in Include) Equal(other Include) bool {
	return in == other
}

// IncludeManager is the ordered set of roots the store indexes.
type IncludeManager struct {
	includes []Include
}

// NewIncludeManager creates an empty include manager.
func NewIncludeManager() *IncludeManager {
	return &IncludeManager{}
}

// Add appends an include. Order is preserved and significant for equality.
func (m *IncludeManager) Add(in Include) {
	m.includes = append(m.includes, in)
}

// Len returns the number of includes.
func (m *IncludeManager) Len() int { return len(m.includes) }

// Includes returns the includes in configuration order. Callers must not
// mutate the returned slice.
func (m *IncludeManager) Includes() []Include { return m.includes }

// Equal reports whether both managers hold the same includes in the same
// order. A nil manager equals another nil manager only.
func (m *IncludeManager) Equal(other *IncludeManager) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.includes) != len(other.includes) {
		return false
	}
	for i := range m.includes {
		if !m.includes[i].Equal(other.includes[i]) {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of the manager.
func (m *IncludeManager) Copy() *IncludeManager {
	if m == nil {
		return nil
	}
	dup := &IncludeManager{includes: make([]Include, len(m.includes))}
	copy(dup.includes, m.includes)
	return dup
}

// ExcludeManager decides which paths a scan skips.
type ExcludeManager struct {
	patterns   []string
	hideHidden bool
}

// NewExcludeManager creates an exclude manager from glob patterns.
// When hideHidden is set, dotfiles and dot-directories are skipped too.
func NewExcludeManager(patterns []string, hideHidden bool) *ExcludeManager {
	dup := make([]string, len(patterns))
	copy(dup, patterns)
	return &ExcludeManager{patterns: dup, hideHidden: hideHidden}
}

// Patterns returns the exclude patterns. Callers must not mutate the slice.
func (m *ExcludeManager) Patterns() []string { return m.patterns }

// HideHidden reports whether dotfiles are excluded.
func (m *ExcludeManager) HideHidden() bool { return m.hideHidden }

// Matches reports whether path is excluded from indexing. Patterns are
// matched against both the full path and the basename, so "/proc" and
// ".git" both work as written.
func (m *ExcludeManager) Matches(path string) bool {
	base := filepath.Base(path)
	if m.hideHidden && strings.HasPrefix(base, ".") && base != "." {
		return true
	}
	for _, p := range m.patterns {
		if ok, err := filepath.Match(p, path); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(p, base); err == nil && ok {
			return true
		}
	}
	return false
}

// Equal reports whether both managers exclude exactly the same paths.
func (m *ExcludeManager) Equal(other *ExcludeManager) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.hideHidden != other.hideHidden || len(m.patterns) != len(other.patterns) {
		return false
	}
	for i := range m.patterns {
		if m.patterns[i] != other.patterns[i] {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of the manager.
func (m *ExcludeManager) Copy() *ExcludeManager {
	if m == nil {
		return nil
	}
	return NewExcludeManager(m.patterns, m.hideHidden)
}

// File is the on-disk configuration schema.
type File struct {
	Includes   []Include `mapstructure:"includes"`
	Excludes   []string  `mapstructure:"excludes"`
	HideHidden bool      `mapstructure:"hide_hidden"`
	Database   string    `mapstructure:"database"`
	Logging    struct {
		Level      string            `mapstructure:"level"`
		Components map[string]string `mapstructure:"components"`
	} `mapstructure:"logging"`
}

// DefaultExcludes are the paths skipped when no config file exists.
var DefaultExcludes = []string{"/proc", "/sys", ".git"}

// Load reads the configuration from $XDG_CONFIG_HOME/findex/config.yaml,
// falling back to defaults when no file exists. Environment variables with a
// FINDEX_ prefix override file values.
func Load() (*File, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, "findex"))
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v.AddConfigPath(filepath.Join(homeDir, ".config", "findex"))

	v.SetEnvPrefix("FINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("excludes", DefaultExcludes)
	v.SetDefault("hide_hidden", false)
	v.SetDefault("database", DefaultDatabasePath())
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(f.Includes) == 0 {
		f.Includes = []Include{{
			Path:            homeDir,
			ID:              0,
			Monitor:         true,
			ScanAfterLaunch: true,
		}}
	}
	for i := range f.Includes {
		if strings.HasPrefix(f.Includes[i].Path, "~") {
			f.Includes[i].Path = filepath.Join(homeDir, f.Includes[i].Path[1:])
		}
	}

	return &f, nil
}

// IncludeManager builds an include manager from the loaded file.
func (f *File) IncludeManager() *IncludeManager {
	m := NewIncludeManager()
	for _, in := range f.Includes {
		m.Add(in)
	}
	return m
}

// ExcludeManager builds an exclude manager from the loaded file.
func (f *File) ExcludeManager() *ExcludeManager {
	return NewExcludeManager(f.Excludes, f.HideHidden)
}

// DefaultDatabasePath returns the default snapshot location under the XDG
// data directory.
func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, "findex", "findex.db")
}
