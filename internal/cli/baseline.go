package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rstanik/sentineld/internal/audit"
	"github.com/rstanik/sentineld/internal/config"
	"github.com/rstanik/sentineld/internal/digest"
	"github.com/rstanik/sentineld/internal/registry"
)

func init() {
	rootCmd.AddCommand(baselineCmd)
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Compute and write reference digests for all resources",
	Long:  "Reads the baseline manifest, computes the current digest of every\nlisted resource, and rewrites the manifest with expected digests filled\nin. Operator action: run only on a known-good system.",
	RunE:  runBaseline,
}

func runBaseline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reg, err := registry.Load(cfg.Baseline)
	if err != nil {
		return err
	}

	algo, err := digest.ParseAlgorithm(cfg.HashAlgorithm)
	if err != nil {
		return err
	}
	engine := digest.NewEngine(algo, time.Duration(cfg.ReadTimeout))

	ctx := context.Background()
	resources := reg.List()
	digests := make(map[string]string, len(resources))
	failed := 0

	for _, res := range resources {
		d, err := engine.Compute(ctx, res.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "baseline: skip %s: %v\n", res.ID, err)
			failed++
			continue
		}
		digests[res.ID] = d
		fmt.Printf("%s  %s\n", d, res.ID)
	}

	if len(digests) == 0 {
		return fmt.Errorf("baseline: no resource could be digested")
	}

	if err := registry.WriteBaseline(cfg.Baseline, string(algo), resources, digests); err != nil {
		return err
	}

	if cfg.AuditLog != "" {
		if log, err := audit.Open(cfg.AuditLog); err == nil {
			_ = log.Record(audit.Entry{
				Type:   audit.TypeBaselineWritten,
				Path:   cfg.Baseline,
				Reason: fmt.Sprintf("%d resources baselined, %d unreadable", len(digests), failed),
			})
			_ = log.Close()
		}
	}

	fmt.Printf("wrote baseline for %d resource(s) to %s\n", len(digests), cfg.Baseline)
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d resource(s) unreadable and left without a baseline\n", failed)
	}
	return nil
}
