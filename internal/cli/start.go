package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/andywolf/ampa/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the AMPA scheduler daemon",
	Long: `Start verifies no other live-owned instance holds the pid file, then
launches the scheduler loop that drives audit polling and delegation
(spec §4.8).

By default start re-execs itself in the background and returns
immediately; pass --foreground to run the loop in this process instead
(useful under a process supervisor or for local debugging).`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().String("name", "", "daemon instance name (default \"default\")")
	startCmd.Flags().Bool("foreground", false, "run the scheduler loop in this process instead of backgrounding")
	_ = viper.BindPFlag("daemon.name", startCmd.Flags().Lookup("name"))
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForRun(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	supervisor := newSupervisor(cfg, logger)

	liveOwner, err := supervisor.CheckExistingOwner()
	if err != nil {
		return fmt.Errorf("check existing pid file owner: %w", err)
	}
	if liveOwner {
		fmt.Printf("ampa %s already running\n", cfg.Daemon.Name)
		return nil
	}

	foreground, _ := cmd.Flags().GetBool("foreground")
	if foreground {
		return runForeground(context.Background(), cfg, logger, supervisor)
	}

	if err := spawnBackground(cfg); err != nil {
		return fmt.Errorf("spawn background daemon: %w", err)
	}
	fmt.Printf("ampa %s started\n", cfg.Daemon.Name)
	return nil
}

// spawnBackground re-execs the current binary with `start --foreground`,
// detaching it from this process and redirecting its combined output to
// the daemon log file at the persisted state layout path (spec §6).
func spawnBackground(cfg *config.Config) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	if err := os.MkdirAll(cfg.Daemon.RunDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	logPath := filepath.Join(cfg.Daemon.RunDir, cfg.Daemon.Name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log %s: %w", logPath, err)
	}

	child := exec.Command(self, "start", "--foreground", "--name", cfg.Daemon.Name)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Stdin = nil
	// New session: the daemon must outlive the shell/terminal that
	// invoked `ampa start` (spec §4.8, §5 single-host daemon lifecycle).
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start background process: %w", err)
	}
	return child.Process.Release()
}
