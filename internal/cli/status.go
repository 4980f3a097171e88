package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rstanik/sentineld/internal/config"
	"github.com/rstanik/sentineld/internal/history"
	"github.com/rstanik/sentineld/internal/model"
	"github.com/rstanik/sentineld/internal/sentinel"
)

var (
	statusJSON    bool
	statusHistory int
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print raw JSON snapshot")
	statusCmd.Flags().IntVarP(&statusHistory, "history", "n", 0, "Also show the N most recent violations")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the monitor's current state",
	Long:  "Reads the status snapshot written by the running daemon. A missing\nor stale snapshot renders as offline: protection paused, which is not\nthe same thing as compromised.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.StatusFile == "" {
		return fmt.Errorf("status: no status_file configured")
	}

	snap, err := sentinel.ReadStatus(cfg.StatusFile)
	if err != nil {
		return err
	}

	if statusJSON {
		out, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Println(string(out))
	} else {
		printSnapshot(snap)
	}

	if statusHistory > 0 && cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()

		recent, err := store.Recent(context.Background(), statusHistory)
		if err != nil {
			return err
		}
		if len(recent) > 0 {
			fmt.Printf("\nrecent violations:\n")
			for _, v := range recent {
				fmt.Printf("  %s  [%s] %s\n", v.DetectedAt.Format(time.RFC3339), v.Level, v.ResourceID)
			}
		}
	}
	return nil
}

func printSnapshot(snap model.StateSnapshot) {
	fmt.Printf("status:     %s\n", snap.Status)
	fmt.Printf("level:      %s\n", snap.Level)
	fmt.Printf("announced:  %s\n", snap.Announced)
	fmt.Printf("cycle:      %d\n", snap.Cycle)
	if !snap.ChangedAt.IsZero() {
		fmt.Printf("changed:    %s\n", snap.ChangedAt.Format(time.RFC3339))
	}
}
