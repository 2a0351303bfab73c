package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/balkashynov/celltrack/internal/blob"
	"github.com/balkashynov/celltrack/internal/config"
	"github.com/balkashynov/celltrack/internal/db"
	"github.com/balkashynov/celltrack/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
	store  *db.Store
	blobs  blob.Store
)

var rootCmd = &cobra.Command{
	Use:   "celltrack",
	Short: "Track Zn–Br battery cells on a multi-channel cycler",
	Long: `celltrack keeps a registry of which cell runs on which cycler channel,
numbers and records charge/discharge cycles, and exports per-cell reports.

Run 'celltrack dash' for the interactive channel dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeAll()
	},
}

// loadConfig reads the config file and builds the logger
func loadConfig() error {
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	loaded, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	cfg = loaded

	l, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// initStore opens the database and the attachment store once per process
func initStore(ctx context.Context) error {
	if store != nil {
		return nil
	}
	if cfg == nil {
		if err := loadConfig(); err != nil {
			return err
		}
	}

	s, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	b, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to open attachment store: %w", err)
	}
	store = s
	blobs = b
	logger.Debug("attachment store ready", zap.String("driver", string(blobs.Driver())))
	return nil
}

// withStore wraps a command function to open the store first
func withStore(fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := initStore(cmd.Context()); err != nil {
			return err
		}
		return fn(cmd, args)
	}
}

func closeAll() {
	if store != nil {
		if err := store.Close(); err != nil && logger != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
		store = nil
	}
	if logger != nil {
		_ = logger.Sync()
	}
}

// SetVersion sets the version information
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the root command. Errors are printed here; the caller only sets the exit code.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeAll()
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.celltrack/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(dashCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCycleCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.SetHelpCommand(helpCmd)
}
