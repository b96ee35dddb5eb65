package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"

	configPath string
	logLevel   string
)

func Execute(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:   "cdc-sync",
		Short: "Continuous change-stream replication between document databases",
		Long: `cdc-sync tails a source database's change stream and replays each
change onto a target database, persisting resume tokens so a restart
picks up where it left off instead of re-scanning collections.`,
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level from config (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(
		newRunCmd(),
		newResetCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}

func newLogger(configuredLevel string) *slog.Logger {
	level := slog.LevelInfo
	effective := configuredLevel
	if logLevel != "" {
		effective = logLevel
	}
	switch effective {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// stateDir returns the directory the state file lives in: the running
// executable's own directory, not the process's current working directory.
// The state file must be found by path regardless of where the daemon is
// launched from, or a restart from a different CWD silently resyncs from
// the current position instead of resuming.
func stateDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	return filepath.Dir(exe), nil
}
