package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/andywolf/ampa/internal/daemon"
	"github.com/andywolf/ampa/internal/scheduler"
	"github.com/andywolf/ampa/internal/store"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <command_id>",
	Short: "Invoke one scheduled command immediately, bypassing cooldown",
	Long: `Run dispatches a single ScheduledCommand through its registered handler
right now. It takes the same in-process/store single-flight claims the
tick loop does, but per spec §4.2 it does not advance last_run_at: the
scheduler's regular cooldown is unaffected by an ad hoc run.

With --watch the command is re-run on the given interval until
interrupted, still honoring the in-flight exclusion on every pass.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("json", false, "print the run result as JSON (alias for --format json)")
	runCmd.Flags().String("format", "text", "output format: text or json")
	runCmd.Flags().Duration("watch", 0, "re-run on this interval until interrupted (e.g. 30s)")
}

type runResult struct {
	CommandID string `json:"command_id"`
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	commandID := args[0]

	format, _ := cmd.Flags().GetString("format")
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		format = "json"
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}
	watch, _ := cmd.Flags().GetDuration("watch")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	sched, err := buildEngines(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("build engines: %w", err)
	}

	target, ok := st.Commands()[commandID]
	if !ok {
		return fmt.Errorf("no scheduled command %q", commandID)
	}

	ctx, cancel := daemon.SignalContext(context.Background())
	defer cancel()

	result, err := forceRunOnce(ctx, sched, st, logger, target)
	if err != nil {
		return err
	}
	printRunResult(result, format)

	if watch <= 0 {
		if result.ExitCode != 0 {
			os.Exit(result.ExitCode)
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(watch):
		}
		result, err := forceRunOnce(ctx, sched, st, logger, target)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ampa run:", err)
			continue
		}
		printRunResult(result, format)
	}
}

// forceRunOnce performs one foreground execution of target: claim the
// in-flight marker, dispatch, record the run, release. last_run_at is
// deliberately untouched.
func forceRunOnce(ctx context.Context, sched *scheduler.Scheduler, st *store.Store, logger interface{ LogWarning(string) }, target store.ScheduledCommand) (runResult, error) {
	claimed, err := st.ClaimInFlight(target.CommandID, os.Getpid())
	if err != nil {
		return runResult{}, fmt.Errorf("claim %s: %w", target.CommandID, err)
	}
	if !claimed {
		return runResult{}, fmt.Errorf("%s is already in flight", target.CommandID)
	}
	defer func() {
		if err := st.ReleaseInFlight(target.CommandID); err != nil {
			logger.LogWarning(fmt.Sprintf("run: release %s: %v", target.CommandID, err))
		}
	}()

	started := time.Now().UTC()
	exitCode, stdout, stderr := sched.RunCommand(ctx, target)

	if err := st.RecordRun(target.CommandID, store.CommandRun{
		CommandID:     target.CommandID,
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
		ExitCode:      exitCode,
		StdoutExcerpt: stdout,
		StderrExcerpt: stderr,
		Note:          "ampa run (manual, does not advance last_run_at)",
	}); err != nil {
		logger.LogWarning(fmt.Sprintf("run: record run %s: %v", target.CommandID, err))
	}

	return runResult{CommandID: target.CommandID, ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

func printRunResult(result runResult, format string) {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}
	if result.Stdout != "" {
		fmt.Println(result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprintln(os.Stderr, result.Stderr)
	}
	fmt.Printf("%s: exit %d\n", result.CommandID, result.ExitCode)
}
