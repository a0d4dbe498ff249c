package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/policy"
)

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the resolved configuration",
	Long:  `Check thresholds, schedules, durations and enabled integrations without touching the mailbox, records or workspace.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loadedCfg, err := loadConfigForCommand(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		problems := checkConfig(loadedCfg)
		out := cmd.OutOrStdout()
		if len(problems) == 0 {
			fmt.Fprintln(out, "Configuration OK")
			return nil
		}
		for _, p := range problems {
			fmt.Fprintf(out, "- %s\n", p)
		}
		return fmt.Errorf("%d configuration problem(s)", len(problems))
	},
}

// checkConfig lists every problem found; it never stops at the first.
func checkConfig(c *config.Config) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if _, err := policy.ThresholdsFrom(c.Policy); err != nil {
		add("policy: %v", err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Records.Driver)) {
	case "", "csv":
		if c.Records.CSVPath == "" {
			add("records: csv_path is required for the csv driver")
		}
	case "sqlite":
		if c.Records.SQLitePath == "" {
			add("records: sqlite_path is required for the sqlite driver")
		}
	default:
		add("records: unknown driver %q", c.Records.Driver)
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.SweepSchedule); err != nil {
			add("scheduler: sweep_schedule %q: %v", c.Scheduler.SweepSchedule, err)
		}
	}

	if c.Mailbox.Enabled {
		requireFields(add, "mailbox", map[string]string{"host": c.Mailbox.Host, "username": c.Mailbox.Username, "password": c.Mailbox.Password})
	}
	if c.Delivery.Enabled {
		requireFields(add, "delivery", map[string]string{"host": c.Delivery.Host, "from": c.Delivery.From})
	}
	if c.Notify.Slack.Enabled {
		requireFields(add, "notify.slack", map[string]string{"bot_token": c.Notify.Slack.BotToken, "channel": c.Notify.Slack.Channel})
	}
	if c.Notify.Telegram.Enabled {
		requireFields(add, "notify.telegram", map[string]string{"bot_token": c.Notify.Telegram.BotToken})
		if c.Notify.Telegram.ChatID == 0 {
			add("notify.telegram: chat_id is required")
		}
	}

	durations := map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"classifier.timeout":      c.Classifier.Timeout,
		"poller.interval":         c.Poller.Interval,
		"mailbox.dial_timeout":    c.Mailbox.DialTimeout,
		"delivery.timeout":        c.Delivery.Timeout,
		"scheduler.tick_interval": c.Scheduler.TickInterval,
		"daemon.shutdown_timeout": c.Daemon.ShutdownTimeout,
		"store.lock_timeout":      c.Store.LockTimeout,
	}
	for _, key := range sortedKeys(durations) {
		if _, err := config.DurationOrDefault(durations[key], "0s"); err != nil {
			add("%s: %v", key, err)
		}
	}

	if c.Classifier.Enabled && len(c.Models.Registry) == 0 {
		add("classifier: enabled but models.registry is empty")
	}
	return problems
}

func requireFields(add func(string, ...any), section string, fields map[string]string) {
	for _, name := range sortedKeys(fields) {
		if strings.TrimSpace(fields[name]) == "" {
			add("%s: %s is required when enabled", section, name)
		}
	}
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
