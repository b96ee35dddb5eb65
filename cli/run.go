package cli

import (
	"fmt"

	"github.com/dbaops/cdc-sync/clusterid"
	"github.com/dbaops/cdc-sync/config"
	"github.com/dbaops/cdc-sync/supervisor"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the replication loop",
		Long: `Start tailing the source database's change stream and replaying
changes onto the target database.

The sync loop persists resume tokens to a state file and retries
connection failures with exponential backoff. Press Ctrl+C to shut
down cleanly; the final state is flushed before exit.`,
		Example: `  cdc-sync run --config config.yaml
  cdc-sync run -c config.yaml --reset`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			log := newLogger(cfg.Logging.Level)

			dir, err := stateDir()
			if err != nil {
				return err
			}

			sv := &supervisor.Supervisor{
				SourceURI:       cfg.Source.URI,
				TargetURI:       cfg.Target.URI,
				Targets:         cfg.Watch.Collections,
				PersistInterval: cfg.State.PersistInterval,
				StatePath:       clusterid.StatePath(dir, cfg.Source.URI, cfg.Target.URI),
				Reset:           reset,
				Log:             log,
			}

			if err := sv.Run(ctx); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Discard persisted resume tokens and resync from the current moment")

	return cmd
}
