// Package cmd provides the CLI commands for CodeScout.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codescout/internal/config"
	"github.com/Aman-CERP/codescout/internal/errors"
	"github.com/Aman-CERP/codescout/internal/logging"
	"github.com/Aman-CERP/codescout/pkg/version"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitStorage   = 1
	ExitConfig    = 2
	ExitMigration = 3
)

var (
	flagConfig string
	flagDebug  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codescout",
		Short: "Local-first code indexing and retrieval engine",
		Long: `CodeScout indexes a repository tree into symbols and chunks, and
answers exact symbol lookup, lexical BM25 search, and optional semantic
search over a line-delimited JSON protocol.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default: <repo>/.codescout.yaml)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig resolves configuration for a repository root.
func loadConfig(repoRoot string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load(repoRoot)
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfigInvalid, err)
	}
	if flagDebug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging installs the process logger.
func setupLogging(cfg *config.Config) error {
	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		WriteToStderr: cfg.Logging.Stderr,
	})
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	return nil
}

// Execute runs the CLI and maps failures to process exit codes:
// 1 unrecoverable storage error, 2 configuration error, 3 migration
// failure.
func Execute() int {
	defer func() {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}()

	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return ExitOK
}

func exitCode(err error) int {
	var se *errors.Error
	if !errors.AsError(err, &se) {
		return ExitStorage
	}
	switch {
	case se.Code == errors.CodeMigrationFailed:
		return ExitMigration
	case se.Category == errors.CategoryConfig:
		return ExitConfig
	default:
		return ExitStorage
	}
}
