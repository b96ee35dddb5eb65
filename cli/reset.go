package cli

import (
	"fmt"

	"github.com/dbaops/cdc-sync/clusterid"
	"github.com/dbaops/cdc-sync/config"
	"github.com/dbaops/cdc-sync/state"
	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard persisted resume tokens without starting a sync",
		Long: `Load the config just far enough to locate the state file for this
source/target pair, then delete its persisted resume tokens and stats.

Equivalent to "cdc-sync run --reset" except it exits immediately
instead of starting the replication loop -- useful when an operator
wants to force a clean resync without leaving a process running.`,
		Example: `  cdc-sync reset --config config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			log := newLogger(cfg.Logging.Level)

			dir, err := stateDir()
			if err != nil {
				return err
			}
			path := clusterid.StatePath(dir, cfg.Source.URI, cfg.Target.URI)

			store := state.New(path, log)
			if err := store.Load(); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			if err := store.Reset(); err != nil {
				return fmt.Errorf("reset: %w", err)
			}

			log.Info("state reset", "path", path)
			return nil
		},
	}
}
