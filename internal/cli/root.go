// Package cli implements the zakapp command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/slimatic/zakapp-sub004/internal/config"
	"github.com/slimatic/zakapp-sub004/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	EnvFile    string
	Driver     string
	DSN        string
	Namespace  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "zakapp",
		Short: "zakapp data portability",
		Long: `Export a user's zakat records to a portable .zakapp.json file and
import such files back, reconciling against existing records by stableId.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver (sqlite3|pgx)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "db", "", "database DSN or SQLite path")
	cmd.PersistentFlags().StringVar(&opts.Namespace, "namespace", "", "stableId namespace")

	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewStableIDCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes text logs to w, at Debug under --verbose.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig layers global flags over the file and environment settings.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigFile, o.EnvFile)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Driver != "" {
		cfg.Database.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Database.DSN = o.DSN
	}
	if o.Namespace != "" {
		cfg.Namespace = o.Namespace
	}
	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.SQLStore, func(), error) {
	logger.Debug("opening database", "driver", cfg.Database.Driver)
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	closeFn := func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}
	return st, closeFn, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
