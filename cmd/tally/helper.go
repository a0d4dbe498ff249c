package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/tally/internal/daemon/components"
	"github.com/harunnryd/tally/internal/formatter"
	"github.com/harunnryd/tally/internal/records"
	"github.com/harunnryd/tally/internal/workflow"

	"github.com/spf13/cobra"
)

// executeWithEngagement wires a one-shot engagement over the configured
// records store. With exclusive set the workspace lock is held for the
// duration of fn so the run cannot race a daemon on the same state.
func executeWithEngagement(cmd *cobra.Command, exclusive bool, fn func(context.Context, *workflow.Engagement) error) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if exclusive {
		ws := components.NewWorkspaceComponent(cfg)
		if err := ws.Init(ctx); err != nil {
			return err
		}
		defer ws.Stop(context.Background())
	}

	store, err := records.Open(cfg.Records)
	if err != nil {
		return fmt.Errorf("open records: %w", err)
	}
	defer store.Close()

	engagement, err := components.BuildEngagement(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to wire engagement: %w", err)
	}
	return fn(ctx, engagement)
}

func outputFormatter(cmd *cobra.Command) (formatter.Formatter, error) {
	raw, _ := cmd.Flags().GetString("output")
	format, err := formatter.ParseOutputFormat(raw)
	if err != nil {
		return nil, err
	}
	return formatter.New(format)
}

func printOutput(cmd *cobra.Command, out string) {
	fmt.Fprintln(cmd.OutOrStdout(), out)
}
