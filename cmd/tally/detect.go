package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/tally/internal/workflow"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Print anomalies in pending timesheet records",
	Long: `Runs anomaly detection once over pending records and prints the result.
Nothing is opened or sent unless --notify is given, which runs a full sweep.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		minHours, err := decimalFlag(cmd, "min")
		if err != nil {
			return err
		}
		maxHours, err := decimalFlag(cmd, "max")
		if err != nil {
			return err
		}
		notify, _ := cmd.Flags().GetBool("notify")

		f, err := outputFormatter(cmd)
		if err != nil {
			return err
		}

		return executeWithEngagement(cmd, notify, func(ctx context.Context, e *workflow.Engagement) error {
			if notify {
				res, err := e.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sweep %s: %d anomalies, %d cases opened, %d notified, %d send failures\n",
					res.RunID, res.Anomalies, res.CasesOpened, res.CasesNotified, res.SendFailures)
				return nil
			}

			anomalies, err := e.Detect(ctx, minHours, maxHours)
			if err != nil {
				return err
			}
			out, err := f.FormatAnomalies(anomalies)
			if err != nil {
				return err
			}
			printOutput(cmd, out)
			return nil
		})
	},
}

// decimalFlag is unset unless the flag was given a value.
func decimalFlag(cmd *cobra.Command, name string) (decimal.NullDecimal, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().String("min", "", "minimum hours (default from policy)")
	detectCmd.Flags().String("max", "", "maximum hours (default from policy)")
	detectCmd.Flags().Bool("notify", false, "open cases and email the employees concerned")
	detectCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
}
