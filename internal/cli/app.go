package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andywolf/ampa/internal/agentrunner"
	"github.com/andywolf/ampa/internal/audit"
	"github.com/andywolf/ampa/internal/auditrunner"
	"github.com/andywolf/ampa/internal/cloud/gcp"
	"github.com/andywolf/ampa/internal/config"
	"github.com/andywolf/ampa/internal/daemon"
	"github.com/andywolf/ampa/internal/delegation"
	"github.com/andywolf/ampa/internal/notifier"
	"github.com/andywolf/ampa/internal/scheduler"
	"github.com/andywolf/ampa/internal/store"
	"github.com/andywolf/ampa/internal/workflow"
	"github.com/andywolf/ampa/internal/worklog"
	"github.com/spf13/viper"
)

// loadConfig loads and validates the bound viper configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) gcp.LoggerInterface {
	return gcp.NewLogger(cfg.Cloud.Enabled, cfg.Daemon.Name)
}

func newNotifier(cfg *config.Config, logger notifier.Logger) notifier.Notifier {
	kind, cred := cfg.ResolveNotifierCredential()
	if logger != nil && kind != config.CredentialNone {
		logger.LogWarning(fmt.Sprintf("notifier: using %s credential", kind))
	}
	if kind == config.CredentialBotToken {
		return notifier.NewDiscordNotifier("", cred, logger)
	}
	return notifier.NewDiscordNotifier(cred, "", logger)
}

func newSupervisor(cfg *config.Config, logger daemon.Logger) *daemon.Supervisor {
	return daemon.NewSupervisor(cfg.Daemon.RunDir, cfg.Daemon.Name, cfg.Project.Root, logger)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Store.Path)
}

// invocations implements delegation.Invocations with the fixed action
// templates described in spec §6.
type invocations struct{}

func (invocations) For(action string) []string {
	return []string{"opencode", "run", "/" + action + " {id}"}
}

// buildEngines assembles the scheduler and the command handlers it
// dispatches to, wiring every component needed for a live run.
func buildEngines(cfg *config.Config, st *store.Store, logger gcp.LoggerInterface) (*scheduler.Scheduler, error) {
	descriptor, err := workflow.Load(cfg.Project.DescriptorPath)
	if err != nil {
		return nil, fmt.Errorf("load workflow descriptor: %w", err)
	}
	findings := (&workflow.Validator{}).Validate(descriptor)
	if findings.HasErrors() {
		return nil, fmt.Errorf("workflow descriptor %s has validation errors: %v", cfg.Project.DescriptorPath, findings)
	}

	wl := worklog.NewCLIClient(cfg.Project.WorklogBin)
	notif := newNotifier(cfg, logger)
	agent := agentrunner.NewProcessRunner()
	gh := auditrunner.GHCLIClient{}

	delegateCmd, ok := descriptor.Commands["delegate"]
	if !ok {
		return nil, fmt.Errorf("workflow descriptor missing 'delegate' command")
	}
	engine := delegation.New(wl, agent, notif, logger, invocations{}, delegateCmd.Pre)

	sched := scheduler.New(st, scheduler.RealClock{}, logger)
	sched.TickInterval = cfg.Scheduler.TickInterval
	sched.GraceWindow = cfg.Scheduler.GraceWindow
	sched.RunOnStart = cfg.Scheduler.RunOnStart

	// The audit runner and poller are rebuilt per invocation so each
	// ScheduledCommand's metadata overrides (spec §6) apply to exactly
	// that command's runs.
	sched.Handlers[store.CommandTriageAudit] = func(ctx context.Context, cmd store.ScheduledCommand) (int, string, string, error) {
		runner := auditrunner.New(agent, wl, notif, gh, logger)
		runner.GitHubRepo = cfg.Project.GitHubRepo
		runner.VerifyWithGH = metaBool(cmd.Metadata, "verify_pr_with_gh", cfg.Notifier.VerifyPRWithGH)
		if chars := metaInt(cmd.Metadata, "truncate_chars", 0); chars > 0 {
			runner.TruncateChars = chars
		}

		poller := audit.New(wl, st, runner, notif, logger)
		if hours := metaFloat(cmd.Metadata, "audit_cooldown_hours", 0); hours > 0 {
			poller.Cooldown = time.Duration(hours * float64(time.Hour))
		}
		poller.Invocation = cmd.Invocation
		if len(poller.Invocation) == 0 {
			poller.Invocation = []string{"opencode", "run", "/audit {id}"}
		}

		if err := poller.Poll(ctx, sched.Clock.Now()); err != nil {
			return 1, "", err.Error(), err
		}
		if !metaBool(cmd.Metadata, "audit_only", false) {
			if err := engine.Run(ctx); err != nil {
				return 1, "", err.Error(), err
			}
		}
		return 0, "", "", nil
	}
	sched.Handlers[store.CommandDelegation] = func(ctx context.Context, cmd store.ScheduledCommand) (int, string, string, error) {
		return 0, "", "", engine.Run(ctx)
	}
	sched.Handlers[store.CommandCustom] = func(ctx context.Context, cmd store.ScheduledCommand) (int, string, string, error) {
		result, err := agent.Run(ctx, cmd.Invocation, "")
		if err != nil {
			return 1, result.Output, err.Error(), err
		}
		return result.ExitCode, result.Output, "", nil
	}

	return sched, nil
}

func metaBool(m map[string]string, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func metaInt(m map[string]string, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func metaFloat(m map[string]string, key string, def float64) float64 {
	v, ok := m[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// runForeground writes the pid file, runs the scheduler loop until a
// shutdown signal is observed (or ctx is otherwise cancelled), and
// removes the pid file on the way out. It is the body of `ampa start
// --foreground` and of the process `start` re-execs in the background.
func runForeground(ctx context.Context, cfg *config.Config, logger gcp.LoggerInterface, supervisor *daemon.Supervisor) error {
	if err := supervisor.WritePid(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() {
		if err := supervisor.PidFile.Remove(); err != nil {
			logger.LogWarning(fmt.Sprintf("start: failed to remove pid file on exit: %v", err))
		}
	}()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	// A crash mid-handler leaves in_flight[command_id] claimed forever
	// unless reconciled against live/owned pids on restart (spec §4.2).
	supervisor.ReconcileInFlightClaims(st)

	sched, err := buildEngines(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("build engines: %w", err)
	}

	sigCtx, cancel := daemon.SignalContext(ctx)
	defer cancel()

	if !cfg.Scheduler.RunOnStart {
		logger.LogInfo(fmt.Sprintf("ampa %s: scheduler loop disabled (run_on_start=false); idling until signalled", cfg.Daemon.Name))
		<-sigCtx.Done()
		return nil
	}

	logger.LogInfo(fmt.Sprintf("ampa %s: scheduler loop starting (tick=%s)", cfg.Daemon.Name, cfg.Scheduler.TickInterval))
	return sched.Run(sigCtx)
}
