package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/tally/internal/tracker"
	"github.com/harunnryd/tally/internal/workflow"

	"github.com/spf13/cobra"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Inspect follow-up cases",
}

var casesListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List cases from the tracker snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormatter(cmd)
		if err != nil {
			return err
		}
		state, _ := cmd.Flags().GetString("state")

		return executeWithEngagement(cmd, false, func(ctx context.Context, e *workflow.Engagement) error {
			cases := filterCases(e.Tracker().List(), tracker.State(state))
			out, err := f.FormatCases(cases)
			if err != nil {
				return err
			}
			printOutput(cmd, out)
			return nil
		})
	},
}

var casesShowCmd = &cobra.Command{
	Use:   "show <contact> <date>",
	Short: "Show one case with its history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormatter(cmd)
		if err != nil {
			return err
		}
		key, err := tracker.NewKey(args[0], args[1])
		if err != nil {
			return err
		}

		return executeWithEngagement(cmd, false, func(ctx context.Context, e *workflow.Engagement) error {
			c, err := e.Tracker().Get(key)
			if err != nil {
				return fmt.Errorf("case %s: %w", key, err)
			}
			out, err := f.FormatCase(c)
			if err != nil {
				return err
			}
			printOutput(cmd, out)
			return nil
		})
	},
}

func filterCases(cases []tracker.Case, state tracker.State) []tracker.Case {
	if state == "" {
		return cases
	}
	out := make([]tracker.Case, 0, len(cases))
	for _, c := range cases {
		if c.State == state {
			out = append(out, c)
		}
	}
	return out
}

func init() {
	casesListCmd.Flags().String("state", "", "only list cases in this state")
	for _, c := range []*cobra.Command{casesListCmd, casesShowCmd} {
		c.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
		casesCmd.AddCommand(c)
	}
	rootCmd.AddCommand(casesCmd)
}
