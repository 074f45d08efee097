package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andywolf/ampa/internal/config"
	"github.com/andywolf/ampa/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively scaffold an .ampa.yaml config for this project",
	Long: `Init walks through the settings a new AMPA instance needs — the
project root, the worklog CLI binary, the workflow descriptor path, an
optional GitHub repo for PR-merge verification, and a Discord
credential for notifications — then writes .ampa.yaml and seeds the
scheduler store with a starter triage-audit and delegation command.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("force", false, "overwrite an existing .ampa.yaml")
}

type initAnswers struct {
	Root           string
	WorklogBin     string
	DescriptorPath string
	GitHubRepo     string
	VerifyWithGH   bool
	DiscordWebhook string
	TickInterval   string
	SeedCommands   bool
}

func runInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(".ampa.yaml"); err == nil && !force {
		return fmt.Errorf(".ampa.yaml already exists (pass --force to overwrite)")
	}

	answers := initAnswers{
		Root:           ".",
		WorklogBin:     "wl",
		DescriptorPath: "workflow.yaml",
		TickInterval:   "15s",
		VerifyWithGH:   true,
		SeedCommands:   true,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Project root").Value(&answers.Root),
			huh.NewInput().Title("Worklog CLI binary").Value(&answers.WorklogBin),
			huh.NewInput().Title("Workflow descriptor path").Value(&answers.DescriptorPath),
			huh.NewInput().Title("Scheduler tick interval (e.g. 15s)").Value(&answers.TickInterval),
		),
		huh.NewGroup(
			huh.NewInput().Title("GitHub repo (owner/name, optional)").Value(&answers.GitHubRepo),
			huh.NewConfirm().
				Title("Verify PR merges via the gh CLI before auto-completion?").
				Value(&answers.VerifyWithGH),
		),
		huh.NewGroup(
			huh.NewInput().Title("Discord webhook URL (optional; leave blank to skip)").Value(&answers.DiscordWebhook),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Seed the store with starter triage-audit and delegation commands?").
				Value(&answers.SeedCommands),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("init wizard: %w", err)
	}

	tick, err := time.ParseDuration(answers.TickInterval)
	if err != nil {
		return fmt.Errorf("invalid tick interval %q: %w", answers.TickInterval, err)
	}

	cfg := config.Config{
		Project: config.ProjectConfig{
			Root:           answers.Root,
			WorklogBin:     answers.WorklogBin,
			DescriptorPath: answers.DescriptorPath,
			GitHubRepo:     answers.GitHubRepo,
		},
		Store: config.StoreConfig{
			Path: filepath.Join(answers.Root, ".worklog", "ampa", "scheduler_store.json"),
		},
		Scheduler: config.SchedulerConfig{
			TickInterval: tick,
			GraceWindow:  30 * time.Second,
		},
		Notifier: config.NotifierConfig{
			DiscordWebhook: answers.DiscordWebhook,
			VerifyPRWithGH: answers.VerifyWithGH,
		},
		Daemon: config.DaemonConfig{
			Name:   "default",
			RunDir: filepath.Join(answers.Root, ".worklog", "ampa", "default"),
		},
	}

	out, err := yaml.Marshal(toYAMLConfig(cfg))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(".ampa.yaml", out, 0o644); err != nil {
		return fmt.Errorf("write .ampa.yaml: %w", err)
	}
	fmt.Println("wrote .ampa.yaml")

	if answers.SeedCommands {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
		}
		if err := st.UpsertCommand(store.ScheduledCommand{
			CommandID:   "triage-audit",
			CommandType: store.CommandTriageAudit,
			Interval:    tick,
		}); err != nil {
			return fmt.Errorf("seed triage-audit command: %w", err)
		}
		if err := st.UpsertCommand(store.ScheduledCommand{
			CommandID:   "delegation",
			CommandType: store.CommandDelegation,
			Interval:    tick,
		}); err != nil {
			return fmt.Errorf("seed delegation command: %w", err)
		}
		fmt.Println("seeded " + cfg.Store.Path + " with triage-audit and delegation commands")
	}

	fmt.Println("next: run `ampa start` to launch the scheduler, or `ampa status` to check it")
	return nil
}

// yamlConfig mirrors config.Config's shape with plain yaml tags, since
// config.Config itself is tagged for viper/mapstructure.
type yamlConfig struct {
	Project struct {
		Root           string `yaml:"root"`
		WorklogBin     string `yaml:"worklog_bin"`
		GithubRepo     string `yaml:"github_repo,omitempty"`
		DescriptorPath string `yaml:"descriptor_path"`
	} `yaml:"project"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Scheduler struct {
		TickInterval string `yaml:"tick_interval"`
		GraceWindow  string `yaml:"grace_window"`
	} `yaml:"scheduler"`
	Notifier struct {
		DiscordWebhook string `yaml:"discord_webhook,omitempty"`
		VerifyPRWithGH bool   `yaml:"verify_pr_with_gh"`
	} `yaml:"notifier"`
	Daemon struct {
		Name   string `yaml:"name"`
		RunDir string `yaml:"run_dir"`
	} `yaml:"daemon"`
}

func toYAMLConfig(cfg config.Config) yamlConfig {
	var y yamlConfig
	y.Project.Root = cfg.Project.Root
	y.Project.WorklogBin = cfg.Project.WorklogBin
	y.Project.GithubRepo = cfg.Project.GitHubRepo
	y.Project.DescriptorPath = cfg.Project.DescriptorPath
	y.Store.Path = cfg.Store.Path
	y.Scheduler.TickInterval = cfg.Scheduler.TickInterval.String()
	y.Scheduler.GraceWindow = cfg.Scheduler.GraceWindow.String()
	y.Notifier.DiscordWebhook = cfg.Notifier.DiscordWebhook
	y.Notifier.VerifyPRWithGH = cfg.Notifier.VerifyPRWithGH
	y.Daemon.Name = cfg.Daemon.Name
	y.Daemon.RunDir = cfg.Daemon.RunDir
	return y
}
