package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Models     ModelsConfig     `koanf:"models"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Policy     PolicyConfig     `koanf:"policy"`
	Records    RecordsConfig    `koanf:"records"`
	Mailbox    MailboxConfig    `koanf:"mailbox"`
	Poller     PollerConfig     `koanf:"poller"`
	Delivery   DeliveryConfig   `koanf:"delivery"`
	Notify     NotifyConfig     `koanf:"notify"`
	Workflow   WorkflowConfig   `koanf:"workflow"`
	Tracker    TrackerConfig    `koanf:"tracker"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Daemon     DaemonConfig     `koanf:"daemon"`
	Store      StoreConfig      `koanf:"store"`
}

type ServerConfig struct {
	Port            int      `koanf:"port"`
	LogLevel        string   `koanf:"log_level"`
	ReadTimeout     string   `koanf:"read_timeout"`
	WriteTimeout    string   `koanf:"write_timeout"`
	IdleTimeout     string   `koanf:"idle_timeout"`
	ShutdownTimeout string   `koanf:"shutdown_timeout"`
	CORSOrigins     []string `koanf:"cors_origins"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default"`
	Fallback            string          `koanf:"fallback"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type ClassifierConfig struct {
	Enabled bool   `koanf:"enabled"`
	Model   string `koanf:"model"`
	Timeout string `koanf:"timeout"`
}

type PolicyConfig struct {
	MinHours     float64 `koanf:"min_hours"`
	MaxHours     float64 `koanf:"max_hours"`
	MaxFollowups int     `koanf:"max_followups"`
	CatalogPath  string  `koanf:"catalog_path"`
}

type RecordsConfig struct {
	Driver     string `koanf:"driver"`
	CSVPath    string `koanf:"csv_path"`
	SQLitePath string `koanf:"sqlite_path"`
}

type MailboxConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`
	Username    string   `koanf:"username"`
	Password    string   `koanf:"password"`
	Folder      string   `koanf:"folder"`
	Since       string   `koanf:"since"`
	Subject     string   `koanf:"subject"`
	Keywords    []string `koanf:"keywords"`
	DialTimeout string   `koanf:"dial_timeout"`
}

type PollerConfig struct {
	Interval       string `koanf:"interval"`
	PruneEvery     int    `koanf:"prune_every"`
	PruneThreshold int    `koanf:"prune_threshold"`
	PruneKeep      int    `koanf:"prune_keep"`
	AutoStart      bool   `koanf:"auto_start"`
}

type DeliveryConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
	From       string `koanf:"from"`
	FromName   string `koanf:"from_name"`
	TLSPolicy  string `koanf:"tls_policy"`
	RedirectTo string `koanf:"redirect_to"`
	Timeout    string `koanf:"timeout"`
}

type NotifyConfig struct {
	Slack    SlackConfig    `koanf:"slack"`
	Telegram TelegramConfig `koanf:"telegram"`
}

type SlackConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	Channel  string `koanf:"channel"`
}

type TelegramConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	ChatID   int64  `koanf:"chat_id"`
}

type WorkflowConfig struct {
	AutoEscalate bool   `koanf:"auto_escalate"`
	CompanyName  string `koanf:"company_name"`
	// ReportTo receives a summary report after each sweep when set.
	ReportTo string `koanf:"report_to"`
}

type TrackerConfig struct {
	SnapshotPath string `koanf:"snapshot_path"`
}

type SchedulerConfig struct {
	Enabled         bool   `koanf:"enabled"`
	SweepSchedule   string `koanf:"sweep_schedule"`
	TickInterval    string `koanf:"tick_interval"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
	LeaseDuration   string `koanf:"lease_duration"`
	StatePath       string `koanf:"state_path"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout"`
	WorkspacePath          string `koanf:"workspace_path"`
}

type StoreConfig struct {
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
}

const (
	DefaultServerPort                   = 8080
	DefaultServerLogLevel               = "info"
	DefaultServerReadTimeout            = "10s"
	DefaultServerWriteTimeout           = "30s"
	DefaultServerIdleTimeout            = "60s"
	DefaultServerShutdownTimeout        = "5s"
	DefaultModelDefault                 = "gpt-4o-mini"
	DefaultModelFallback                = "claude-3-haiku"
	DefaultModelMaxFallbackAttempts     = 2
	DefaultOpenAIBaseURL                = "https://api.openai.com/v1"
	DefaultOllamaBaseURL                = "http://localhost:11434/v1"
	DefaultOllamaAPIKey                 = "ollama"
	DefaultModelRequestTimeout          = "60s"
	DefaultClassifierEnabled            = true
	DefaultClassifierTimeout            = "15s"
	DefaultPolicyMinHours               = 8.0
	DefaultPolicyMaxHours               = 12.0
	DefaultPolicyMaxFollowups           = 3
	DefaultRecordsDriver                = "csv"
	DefaultMailboxEnabled               = false
	DefaultMailboxPort                  = 993
	DefaultMailboxFolder                = "INBOX"
	DefaultMailboxSince                 = "2025-01-01"
	DefaultMailboxSubject               = "Timesheet"
	DefaultMailboxDialTimeout           = "30s"
	DefaultPollerInterval               = "60s"
	DefaultPollerPruneEvery             = 10
	DefaultPollerPruneThreshold         = 100
	DefaultPollerPruneKeep              = 50
	DefaultPollerAutoStart              = true
	DefaultDeliveryEnabled              = false
	DefaultDeliveryPort                 = 587
	DefaultDeliveryFromName             = "Timesheet Compliance"
	DefaultDeliveryTLSPolicy            = "mandatory"
	DefaultDeliveryTimeout              = "30s"
	DefaultWorkflowAutoEscalate         = false
	DefaultWorkflowCompanyName          = "HR Department"
	DefaultSchedulerEnabled             = true
	DefaultSchedulerSweepSchedule       = "0 9 * * 1-5"
	DefaultSchedulerTickInterval        = "1m"
	DefaultSchedulerShutdownTimeout     = "30s"
	DefaultSchedulerLeaseDuration       = "30m"
	DefaultDaemonShutdownTimeout        = "30s"
	DefaultDaemonHealthCheckInterval    = "30s"
	DefaultDaemonStartupShutdownTimeout = "10s"
	DefaultStoreLockTimeout             = "30s"
	DefaultStoreLockRetry               = "100ms"
	DefaultStoreLockMaxRetry            = 300
)

// DefaultMailboxKeywords gates fetched messages on subject or body content.
var DefaultMailboxKeywords = []string{"timesheet", "missing hours", "anomaly", "issue"}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	home := os.Getenv("HOME")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                  DefaultServerPort,
		"server.log_level":             DefaultServerLogLevel,
		"server.read_timeout":          DefaultServerReadTimeout,
		"server.write_timeout":         DefaultServerWriteTimeout,
		"server.idle_timeout":          DefaultServerIdleTimeout,
		"server.shutdown_timeout":      DefaultServerShutdownTimeout,
		"server.cors_origins":          []string{"http://localhost:5173", "http://localhost:8080"},
		"models.default":               DefaultModelDefault,
		"models.fallback":              DefaultModelFallback,
		"models.max_fallback_attempts": DefaultModelMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelFallback, Provider: "anthropic"},
			{Name: "local-llama", Provider: "ollama", BaseURL: DefaultOllamaBaseURL},
		},
		"classifier.enabled":              DefaultClassifierEnabled,
		"classifier.timeout":              DefaultClassifierTimeout,
		"policy.min_hours":                DefaultPolicyMinHours,
		"policy.max_hours":                DefaultPolicyMaxHours,
		"policy.max_followups":            DefaultPolicyMaxFollowups,
		"records.driver":                  DefaultRecordsDriver,
		"records.csv_path":                filepath.Join(home, ".tally", "timesheets.csv"),
		"records.sqlite_path":             filepath.Join(home, ".tally", "timesheets.db"),
		"mailbox.enabled":                 DefaultMailboxEnabled,
		"mailbox.port":                    DefaultMailboxPort,
		"mailbox.folder":                  DefaultMailboxFolder,
		"mailbox.since":                   DefaultMailboxSince,
		"mailbox.subject":                 DefaultMailboxSubject,
		"mailbox.keywords":                DefaultMailboxKeywords,
		"mailbox.dial_timeout":            DefaultMailboxDialTimeout,
		"poller.interval":                 DefaultPollerInterval,
		"poller.prune_every":              DefaultPollerPruneEvery,
		"poller.prune_threshold":          DefaultPollerPruneThreshold,
		"poller.prune_keep":               DefaultPollerPruneKeep,
		"poller.auto_start":               DefaultPollerAutoStart,
		"delivery.enabled":                DefaultDeliveryEnabled,
		"delivery.port":                   DefaultDeliveryPort,
		"delivery.from_name":              DefaultDeliveryFromName,
		"delivery.tls_policy":             DefaultDeliveryTLSPolicy,
		"delivery.timeout":                DefaultDeliveryTimeout,
		"workflow.auto_escalate":          DefaultWorkflowAutoEscalate,
		"workflow.company_name":           DefaultWorkflowCompanyName,
		"tracker.snapshot_path":           filepath.Join(home, ".tally", "cases.json"),
		"scheduler.enabled":               DefaultSchedulerEnabled,
		"scheduler.sweep_schedule":        DefaultSchedulerSweepSchedule,
		"scheduler.tick_interval":         DefaultSchedulerTickInterval,
		"scheduler.shutdown_timeout":      DefaultSchedulerShutdownTimeout,
		"scheduler.lease_duration":        DefaultSchedulerLeaseDuration,
		"scheduler.state_path":            filepath.Join(home, ".tally", "scheduler.json"),
		"daemon.shutdown_timeout":         DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":    DefaultDaemonHealthCheckInterval,
		"daemon.startup_shutdown_timeout": DefaultDaemonStartupShutdownTimeout,
		"daemon.workspace_path":           filepath.Join(home, ".tally"),
		"store.lock_timeout":              DefaultStoreLockTimeout,
		"store.lock_retry":                DefaultStoreLockRetry,
		"store.lock_max_retry":            DefaultStoreLockMaxRetry,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".tally", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("TALLY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TALLY_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	injectProviderKeys(&cfg)

	return &cfg, nil
}

// injectProviderKeys fills registry API keys from the providers' standard env vars.
func injectProviderKeys(cfg *Config) {
	envKeys := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
		"zai":       "ZAI_API_KEY",
	}
	for i, m := range cfg.Models.Registry {
		name, ok := envKeys[m.Provider]
		if !ok || m.APIKey != "" {
			continue
		}
		if key := os.Getenv(name); key != "" {
			cfg.Models.Registry[i].APIKey = key
		}
	}
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	fields := []*string{
		&cfg.Policy.CatalogPath,
		&cfg.Records.CSVPath,
		&cfg.Records.SQLitePath,
		&cfg.Tracker.SnapshotPath,
		&cfg.Scheduler.StatePath,
		&cfg.Daemon.WorkspacePath,
	}
	for _, field := range fields {
		expanded, err := ExpandPath(*field)
		if err != nil {
			return err
		}
		if expanded != "" {
			*field = expanded
		}
	}
	return nil
}
