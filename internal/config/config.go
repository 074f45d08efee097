// Package config assembles the daemon's configuration from file and
// environment into a single explicit value at startup.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for a single AMPA daemon
// instance. It is constructed once in cmd/ampa/main.go and threaded
// explicitly through every component; nothing re-reads the environment
// at a call site.
type Config struct {
	Project   ProjectConfig   `mapstructure:"project"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Cloud     CloudLogConfig  `mapstructure:"cloud"`
}

// ProjectConfig locates the project this daemon drives.
type ProjectConfig struct {
	Root        string `mapstructure:"root"`
	WorklogBin  string `mapstructure:"worklog_bin"`
	GitHubRepo  string `mapstructure:"github_repo"`
	DescriptorPath string `mapstructure:"descriptor_path"`
}

// StoreConfig locates the SchedulerStore document.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig controls the tick loop.
type SchedulerConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	GraceWindow   time.Duration `mapstructure:"grace_window"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
}

// NotifierConfig controls outbound chat notifications.
type NotifierConfig struct {
	DiscordWebhook  string `mapstructure:"discord_webhook"`
	DiscordBotToken string `mapstructure:"discord_bot_token"`
	VerifyPRWithGH  bool   `mapstructure:"verify_pr_with_gh"`
}

// DaemonConfig controls the pid file / lifecycle.
type DaemonConfig struct {
	Name    string `mapstructure:"name"`
	RunDir  string `mapstructure:"run_dir"`
}

// CloudLogConfig controls the optional GCP Cloud Logging sink.
type CloudLogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	LogName string `mapstructure:"log_name"`
}

// envBindings pairs each of spec §6's five recognized AMPA_* env vars
// with the mapstructure path Load resolves it onto. AutomaticEnv()
// alone only re-exposes keys already registered some other way (file,
// flag, or explicit default) under a prefixed name; it does not teach
// viper that a bare env var should populate a nested key nothing else
// ever sets, so each one needs an explicit BindEnv.
var envBindings = map[string]string{
	"store.path":                  "AMPA_SCHEDULER_STORE",
	"notifier.discord_webhook":    "AMPA_DISCORD_WEBHOOK",
	"notifier.discord_bot_token":  "AMPA_DISCORD_BOT_TOKEN",
	"notifier.verify_pr_with_gh":  "AMPA_VERIFY_PR_WITH_GH",
	"scheduler.run_on_start":      "AMPA_RUN_SCHEDULER",
}

// BindEnv registers the five recognized env vars against v. Exported
// so the CLI's initConfig can bind them on the same viper instance
// before Load reads it, and so this package's tests can exercise the
// binding directly.
func BindEnv(v *viper.Viper) error {
	for path, env := range envBindings {
		if err := v.BindEnv(path, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

// Load loads configuration from the bound viper instance (file + env)
// and applies defaults. Callers are expected to have already pointed
// viper at the config file and called SetEnvPrefix/AutomaticEnv; Load
// itself binds the five recognized env vars (spec §6) before unmarshaling.
func Load(v *viper.Viper) (*Config, error) {
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	// The scheduler loop runs by default; AMPA_RUN_SCHEDULER=false (or
	// scheduler.run_on_start in the config file) turns it off so `start`
	// can bring up a supervised-but-idle daemon (spec §6).
	v.SetDefault("scheduler.run_on_start", true)
	// PR merge verification via gh defaults to on; auto-completion must
	// not trust a closure claim alone unless the operator opts out.
	v.SetDefault("notifier.verify_pr_with_gh", true)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Project.Root == "" {
		cfg.Project.Root = "."
	}
	if cfg.Project.WorklogBin == "" {
		cfg.Project.WorklogBin = "wl"
	}
	if cfg.Project.DescriptorPath == "" {
		cfg.Project.DescriptorPath = filepath.Join(cfg.Project.Root, "workflow.yaml")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.Project.Root, ".worklog", "ampa", "scheduler_store.json")
	}
	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = 15 * time.Second
	}
	if cfg.Scheduler.GraceWindow == 0 {
		cfg.Scheduler.GraceWindow = 30 * time.Second
	}
	if cfg.Daemon.Name == "" {
		cfg.Daemon.Name = "default"
	}
	if cfg.Daemon.RunDir == "" {
		cfg.Daemon.RunDir = filepath.Join(cfg.Project.Root, ".worklog", "ampa", cfg.Daemon.Name)
	}
	if cfg.Cloud.LogName == "" {
		cfg.Cloud.LogName = "ampa"
	}
}

// Validate checks invariants that must hold for any invocation.
func (c *Config) Validate() error {
	if c.Project.Root == "" {
		return fmt.Errorf("project root is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick_interval must be positive")
	}
	return nil
}

// ValidateForRun performs the additional checks required before the
// scheduler loop or a forced single-command run may start.
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Project.WorklogBin) == "" {
		return fmt.Errorf("worklog_bin is required")
	}
	if c.NotifierConfiguredAmbiguously() {
		return nil // ambiguity is resolved by precedence, not rejected
	}
	return nil
}

// NotifierConfiguredAmbiguously reports whether both Discord credential
// forms are set; ResolveNotifierCredential below picks the bot token in
// that case and logs which path was used.
func (c *Config) NotifierConfiguredAmbiguously() bool {
	return c.Notifier.DiscordWebhook != "" && c.Notifier.DiscordBotToken != ""
}

// CredentialKind names which Discord credential a notifier resolved to.
type CredentialKind string

const (
	CredentialNone    CredentialKind = "none"
	CredentialWebhook CredentialKind = "webhook"
	CredentialBotToken CredentialKind = "bot_token"
)

// ResolveNotifierCredential implements the bot-token-takes-precedence
// resolution for the two documented env vars.
func (c *Config) ResolveNotifierCredential() (kind CredentialKind, value string) {
	if c.Notifier.DiscordBotToken != "" {
		return CredentialBotToken, c.Notifier.DiscordBotToken
	}
	if c.Notifier.DiscordWebhook != "" {
		return CredentialWebhook, c.Notifier.DiscordWebhook
	}
	return CredentialNone, ""
}
