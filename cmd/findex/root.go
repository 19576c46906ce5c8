package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/findex/pkg/findex/config"
	"github.com/jamesainslie/findex/pkg/findex/engine"
	"github.com/jamesainslie/findex/pkg/findex/logging"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

var (
	flagDatabase string
	flagInclude  []string
	flagExclude  []string
	flagVerbose  bool

	rootCmd = &cobra.Command{
		Use:   "findex",
		Short: "Fast file search over a persistent filesystem index",
		Long: `Findex indexes configured folders and answers name queries instantly
from a snapshot kept on disk.

Examples:
  findex scan                  # Index the configured folders
  findex search report         # Find entries whose name contains "report"
  findex search '*.go' --sort size --desc
  findex info                  # Show database statistics`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "database", "", "database directory (default: XDG data dir)")
	rootCmd.PersistentFlags().StringSliceVarP(&flagInclude, "include", "i", nil, "folder to index (can be repeated)")
	rootCmd.PersistentFlags().StringSliceVarP(&flagExclude, "exclude", "e", nil, "exclude patterns (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug output")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// buildEngine assembles an engine from the config file plus flag overrides.
func buildEngine() (*engine.Engine, error) {
	cf, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cf.Logging.Level
	if flagVerbose {
		level = "debug"
	}
	if err := logging.Init(logging.Config{Level: level, Components: cf.Logging.Components}); err != nil {
		return nil, err
	}

	includes := cf.IncludeManager()
	if len(flagInclude) > 0 {
		includes = config.NewIncludeManager()
		for i, path := range flagInclude {
			abs, aerr := filepath.Abs(path)
			if aerr != nil {
				return nil, fmt.Errorf("failed to resolve path %q: %w", path, aerr)
			}
			includes.Add(config.Include{
				Path:            abs,
				ID:              uint32(i),
				Monitor:         true,
				ScanAfterLaunch: true,
			})
		}
	}

	excludes := cf.ExcludeManager()
	if len(flagExclude) > 0 {
		excludes = config.NewExcludeManager(flagExclude, cf.HideHidden)
	}

	dbDir := filepath.Dir(cf.Database)
	if flagDatabase != "" {
		dbDir = flagDatabase
	}

	return engine.New(engine.Config{
		DatabaseDir: dbDir,
		Includes:    includes,
		Excludes:    excludes,
		Flags:       types.DefaultPropertyFlags,
	}), nil
}
