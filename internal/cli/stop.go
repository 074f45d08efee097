package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the AMPA scheduler daemon",
	Long: `Stop reads the pid file, sends a termination signal to an owned live
process, waits up to the configured timeout, and escalates to a
force-kill if it doesn't exit (spec §4.8).`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().String("name", "", "daemon instance name (default \"default\")")
	_ = viper.BindPFlag("daemon.name", stopCmd.Flags().Lookup("name"))
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	supervisor := newSupervisor(cfg, logger)

	status, err := supervisor.Status()
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}
	if !status.Running {
		fmt.Printf("ampa %s already stopped\n", cfg.Daemon.Name)
		return nil
	}

	if err := supervisor.Stop(); err != nil {
		return fmt.Errorf("stop ampa %s: %w", cfg.Daemon.Name, err)
	}
	fmt.Printf("ampa %s stopped\n", cfg.Daemon.Name)
	return nil
}
