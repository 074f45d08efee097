// Package cli wires the ampa command tree: start/stop/status/run/list,
// each loading a single explicit config.Config via viper (spec §4.8).
package cli

import (
	"fmt"
	"os"

	"github.com/andywolf/ampa/internal/config"
	"github.com/andywolf/ampa/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ampa",
	Short: "ampa drives a worklog backlog through delegation and audit",
	Long: `ampa is the daemon and CLI that dispatches AI coding agents against a
work-item backlog: delegating idle items, auditing items in review, and
posting results back through the worklog CLI and a chat webhook.

Example:
  ampa start
  ampa status --watch`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .ampa.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error getting working directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ampa")
	}

	viper.SetEnvPrefix("AMPA")
	viper.AutomaticEnv()

	// AutomaticEnv only re-exposes keys already registered some other
	// way under the AMPA_ prefix; the five recognized env vars (spec
	// §6) target nested config paths nothing else sets, so they need
	// an explicit bind. config.Load repeats this on its own viper
	// instance for callers (tests, other entrypoints) that bypass the
	// CLI's global viper.
	if err := config.BindEnv(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, "Error binding environment variables:", err)
		os.Exit(1)
	}

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
