package cli

import (
	"fmt"
	"os"

	"github.com/andywolf/ampa/internal/workflow"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [descriptor]",
	Short: "Validate a workflow descriptor without starting the daemon",
	Long: `Validate loads the workflow descriptor (the configured one by default,
or an explicit path) and runs every check family against it, printing
each finding.

Exit codes: 0 if all checks pass (warnings allowed), 1 if any check
reports an error, 2 if the file cannot be read or parsed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Project.DescriptorPath
	}

	descriptor, err := workflow.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ampa validate:", err)
		os.Exit(2)
	}

	findings := workflow.NewValidator().Validate(descriptor)
	for _, f := range findings {
		fmt.Println(f)
	}
	if code := findings.ExitCode(); code != 0 {
		os.Exit(code)
	}
	fmt.Printf("%s: ok (%d warnings)\n", path, len(findings))
	return nil
}
