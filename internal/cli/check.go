package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rstanik/sentineld/internal/config"
	"github.com/rstanik/sentineld/internal/escalate"
	"github.com/rstanik/sentineld/internal/model"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single integrity cycle in the foreground",
	Long:  "Evaluates every baselined resource once and prints the result.\nExit codes: 0 clean, 1 violations found, 2 cycle failure.",
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	s, cleanup, err := buildSentinel(cfg)
	if err != nil {
		return err
	}

	result, err := s.RunOnce(context.Background())
	if err != nil {
		cleanup()
		return err
	}

	// Close the audit log and history store before a non-zero exit;
	// os.Exit does not run deferred cleanup.
	code := reportCheck(os.Stdout, os.Stderr, result)
	cleanup()
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// reportCheck prints the cycle outcome and returns the process exit code:
// 0 clean, 1 violations found, 2 cycle failure.
func reportCheck(out, errOut io.Writer, result escalate.CycleResult) int {
	if result.Err != nil {
		fmt.Fprintf(errOut, "cycle failed: %v\n", result.Err)
		return 2
	}

	if len(result.Violations) == 0 {
		fmt.Fprintf(out, "OK: all resources match baseline (%d skipped)\n", result.Skipped)
		return 0
	}

	fmt.Fprintf(out, "COMPROMISED: %d violation(s), max level %s\n",
		len(result.Violations), model.MaxLevel(result.Violations))
	for _, v := range result.Violations {
		fmt.Fprintf(out, "  [%s] %s\n    expected %s\n    actual   %s\n",
			v.Level, v.ResourceID, v.Expected, v.Actual)
	}
	return 1
}
