package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rstanik/sentineld/internal/audit"
	"github.com/rstanik/sentineld/internal/config"
)

func init() {
	rootCmd.AddCommand(verifyLogCmd)
}

var verifyLogCmd = &cobra.Command{
	Use:   "verify-log [path]",
	Short: "Verify hash chain integrity of the audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerifyLog,
}

func runVerifyLog(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.AuditLog == "" {
			return fmt.Errorf("verify-log: no audit_log configured and no path given")
		}
		path = cfg.AuditLog
	}

	result := audit.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d entries verified (%d violations, %d transitions, %d cycle failures)\n",
			result.Lines, result.Violations, result.Transitions, result.Failures)
		return nil
	}

	fmt.Fprintf(os.Stderr, "TAMPERED: %s", result.Error)
	if result.ErrorLine > 0 {
		fmt.Fprintf(os.Stderr, " (line %d)", result.ErrorLine)
	}
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
	return nil
}
