package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/tally/internal/daemon"
	"github.com/harunnryd/tally/internal/daemon/components"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the mailbox poller, scheduled sweeps and the operator API",
	Long:  `Starts tally as a long-running service. Components start in dependency order and stop in reverse on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}

		for _, c := range buildComponents(daemonMgr) {
			daemonMgr.AddComponent(c)
		}

		slog.Info("Tally daemon starting up...", "port", cfg.Server.Port, "workspace", cfg.Daemon.WorkspacePath)
		err = daemonMgr.Start(context.Background())
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Tally daemon stopped gracefully")
		return nil
	},
}

func buildComponents(d *daemon.Daemon) []daemon.Component {
	workspaceComp := components.NewWorkspaceComponent(cfg)
	recordsComp := components.NewRecordsComponent(cfg.Records)
	engineComp := components.NewEngineComponent(cfg, recordsComp)
	pollerComp := components.NewPollerComponent(cfg, engineComp)
	schedulerComp := components.NewSchedulerComponent(cfg, engineComp, workspaceComp)
	httpComp := components.NewHTTPServerComponent(d, &cfg.Server, engineComp, pollerComp, schedulerComp)

	return []daemon.Component{workspaceComp, recordsComp, engineComp, pollerComp, schedulerComp, httpComp}
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
