package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andywolf/ampa/internal/tui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the AMPA daemon is running",
	Long: `Status reports running/stopped and, when stopped with a log on disk,
the last logged error (spec §4.8).

Example:
  ampa status
  ampa status --watch`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("name", "", "daemon instance name (default \"default\")")
	statusCmd.Flags().Bool("json", false, "print status as JSON")
	statusCmd.Flags().Bool("watch", false, "render a live-updating view instead of a single report")
	statusCmd.Flags().Duration("interval", time.Second, "refresh interval for --watch")
	_ = viper.BindPFlag("daemon.name", statusCmd.Flags().Lookup("name"))
}

type statusReport struct {
	Name        string `json:"name"`
	Running     bool   `json:"running"`
	Pid         int    `json:"pid,omitempty"`
	LastErrLine string `json:"last_error_excerpt,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	supervisor := newSupervisor(cfg, logger)

	watch, _ := cmd.Flags().GetBool("watch")
	if watch {
		st, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		return tui.Run(tui.NewModel(cfg.Daemon.Name, st, supervisor, interval))
	}

	daemonStatus, err := supervisor.Status()
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}

	report := statusReport{Name: cfg.Daemon.Name, Running: daemonStatus.Running, Pid: daemonStatus.Pid}
	if !daemonStatus.Running {
		report.LastErrLine = lastErrorExcerpt(cfg.Daemon.RunDir, cfg.Daemon.Name)
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else if daemonStatus.Running {
		fmt.Printf("ampa %s: running (pid %d)\n", report.Name, report.Pid)
	} else {
		fmt.Printf("ampa %s: stopped\n", report.Name)
		if report.LastErrLine != "" {
			fmt.Printf("last error: %s\n", report.LastErrLine)
		}
	}

	if !daemonStatus.Running {
		os.Exit(3)
	}
	return nil
}

// lastErrorExcerpt tails the daemon's combined log for the most recent
// line carrying ERROR severity, used to surface "stopped-with-log"
// context per spec §4.8/§7.
func lastErrorExcerpt(runDir, name string) string {
	data, err := os.ReadFile(runDir + "/" + name + ".log")
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		var entry struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
		}
		if err := json.Unmarshal([]byte(lines[i]), &entry); err != nil {
			continue
		}
		if entry.Severity == "ERROR" {
			return entry.Message
		}
	}
	return ""
}
