package main

import (
	"fmt"

	"github.com/harunnryd/tally/internal/policy"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect thresholds and reason categories",
}

var policyListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List reason categories from the policy catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormatter(cmd)
		if err != nil {
			return err
		}
		pol, err := openPolicy()
		if err != nil {
			return err
		}

		categories := pol.All()
		if active, _ := cmd.Flags().GetBool("active"); active {
			categories = pol.Active()
		}
		out, err := f.FormatCategories(categories)
		if err != nil {
			return err
		}
		printOutput(cmd, out)
		return nil
	},
}

var policyThresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Show the effective detection thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		pol, err := openPolicy()
		if err != nil {
			return err
		}
		t := pol.Thresholds()
		fmt.Fprintf(cmd.OutOrStdout(), "min_hours: %s\nmax_hours: %s\nmax_followups: %d\n",
			t.MinHours.String(), t.MaxHours.String(), t.MaxFollowups)
		return nil
	},
}

func openPolicy() (*policy.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	thresholds, err := policy.ThresholdsFrom(cfg.Policy)
	if err != nil {
		return nil, err
	}
	return policy.Open(cfg.Policy.CatalogPath, thresholds)
}

func init() {
	policyListCmd.Flags().Bool("active", false, "only list active categories")
	policyListCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyThresholdsCmd)
	rootCmd.AddCommand(policyCmd)
}
