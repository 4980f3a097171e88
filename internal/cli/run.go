package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rstanik/sentineld/internal/alert"
	"github.com/rstanik/sentineld/internal/audit"
	"github.com/rstanik/sentineld/internal/classify"
	"github.com/rstanik/sentineld/internal/config"
	"github.com/rstanik/sentineld/internal/digest"
	"github.com/rstanik/sentineld/internal/history"
	"github.com/rstanik/sentineld/internal/registry"
	"github.com/rstanik/sentineld/internal/sentinel"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring daemon",
	Long:  "Starts the background monitoring loop and blocks until SIGINT/SIGTERM.\nEvery cycle reads each baselined resource, recomputes its digest, and\napplies one atomic state transition.",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	s, cleanup, err := buildSentinel(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := s.Initialize(); err != nil {
		return fmt.Errorf("initialize monitor: %w", err)
	}

	snap := s.Snapshot()
	fmt.Fprintf(os.Stderr, "sentineld: monitoring started (status=%s, poll=%s)\n",
		snap.Status, time.Duration(cfg.PollInterval))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Fprintf(os.Stderr, "sentineld: shutting down\n")
	if err := s.Shutdown(); err != nil {
		return err
	}
	final := s.Snapshot()
	fmt.Fprintf(os.Stderr, "sentineld: stopped (status=%s, level=%s)\n", final.Status, final.Level)
	return nil
}

// buildSentinel wires the loop from a loaded config. The returned cleanup
// closes the audit log and history store.
func buildSentinel(cfg *config.Config) (*sentinel.Sentinel, func(), error) {
	algo, err := digest.ParseAlgorithm(cfg.HashAlgorithm)
	if err != nil {
		return nil, nil, err
	}

	deps := sentinel.Deps{
		LoadRegistry: func() (registry.Registry, error) {
			return registry.Load(cfg.Baseline)
		},
		Engine:     digest.NewEngine(algo, time.Duration(cfg.ReadTimeout)),
		Classifier: classify.Default(),
	}

	cleanups := []func(){}
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	if cfg.AuditLog != "" {
		log, err := audit.Open(cfg.AuditLog)
		if err != nil {
			return nil, nil, err
		}
		deps.Audit = log
		cleanups = append(cleanups, func() { _ = log.Close() })
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.History = store
		cleanups = append(cleanups, func() { _ = store.Close() })
	}

	if d := alert.NewDispatcher(cfg.Alerts); d != nil {
		deps.Responder = d
	}

	s, err := sentinel.New(sentinel.Config{
		PollInterval: time.Duration(cfg.PollInterval),
		ErrorBackoff: time.Duration(cfg.ErrorBackoff),
		StatusFile:   cfg.StatusFile,
		Watch:        cfg.Watch,
	}, deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return s, cleanup, nil
}
