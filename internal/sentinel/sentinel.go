// Package sentinel runs the continuous integrity-monitoring loop: each
// cycle recomputes digests for every registered resource, collects
// violations, and applies exactly one escalation transition.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rstanik/sentineld/internal/alert"
	"github.com/rstanik/sentineld/internal/audit"
	"github.com/rstanik/sentineld/internal/classify"
	"github.com/rstanik/sentineld/internal/digest"
	"github.com/rstanik/sentineld/internal/escalate"
	"github.com/rstanik/sentineld/internal/history"
	"github.com/rstanik/sentineld/internal/model"
	"github.com/rstanik/sentineld/internal/registry"
	"github.com/rstanik/sentineld/internal/watch"
)

// ErrRegistryLoad marks an initialization failure: the baseline registry
// could not be loaded at all. Distinct from a single unreadable resource,
// which is skipped per cycle.
var ErrRegistryLoad = errors.New("sentinel: cannot load resource registry")

// shutdownGrace bounds how long Shutdown waits for an in-progress cycle.
const shutdownGrace = 5 * time.Second

// dispatchBuffer sizes the responder queue. The announced level can only
// rise four times between operator clears, so this never fills in practice.
const dispatchBuffer = 16

// Config holds monitoring loop configuration.
type Config struct {
	// PollInterval is the sleep between completed cycles. Default 5s.
	PollInterval time.Duration
	// ErrorBackoff is the sleep after a failed cycle. Default 2x PollInterval.
	ErrorBackoff time.Duration
	// StatusFile, when set, receives an atomically written JSON snapshot
	// on every transition.
	StatusFile string
	// Watch enables change-triggered immediate cycles.
	Watch bool
}

// Deps are the loop's collaborators. Responder, Audit, and History may be
// nil; the loop runs without them.
type Deps struct {
	LoadRegistry func() (registry.Registry, error)
	Engine       *digest.Engine
	Classifier   *classify.Classifier
	Responder    alert.Responder
	Audit        *audit.Log
	History      *history.Store
}

// Sentinel owns one monitoring loop. At most one cycle executes at a
// time: the loop sleeps only after completing a full cycle, so cycles
// never overlap.
// dispatchRequest is one queued responder notification.
type dispatchRequest struct {
	level      model.ThreatLevel
	violations []model.Violation
}

type Sentinel struct {
	cfg      Config
	deps     Deps
	machine  *escalate.Machine
	kick     chan struct{}
	dispatch chan dispatchRequest

	mu      sync.Mutex
	running bool
	reg     registry.Registry
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates configuration and creates a Sentinel. The loop does not
// start until Initialize.
func New(cfg Config, deps Deps) (*Sentinel, error) {
	if deps.LoadRegistry == nil {
		return nil, fmt.Errorf("sentinel: registry loader is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("sentinel: digest engine is required")
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * cfg.PollInterval
	}

	return &Sentinel{
		cfg:     cfg,
		deps:    deps,
		machine: escalate.NewMachine(),
		kick:    make(chan struct{}, 1),
	}, nil
}

// Initialize loads the registry, transitions to (Monitoring, None), and
// starts the background loop. Idempotent: a second call on a running
// monitor is a no-op. Returns ErrRegistryLoad if the registry cannot be
// loaded; the loop never starts in that case.
func (s *Sentinel) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	reg, err := s.deps.LoadRegistry()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryLoad, err)
	}
	s.reg = reg

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	snap := s.machine.Started()
	s.writeStatus(snap)
	s.record(audit.Entry{Type: audit.TypeMonitorStarted, Status: snap.Status.String()})

	if s.deps.Responder != nil {
		s.dispatch = make(chan dispatchRequest, dispatchBuffer)
		go s.runDispatch(ctx)
	}
	if s.cfg.Watch {
		go s.runWatcher(ctx, reg.List())
	}
	go s.run(ctx, reg)
	return nil
}

// Shutdown cancels the loop, waits for its termination within a bounded
// grace period, and forces (Offline, <last known level>). Idempotent and
// safe to call from any goroutine.
func (s *Sentinel) Shutdown() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()

	var joinErr error
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		joinErr = fmt.Errorf("sentinel: loop did not stop within %s", shutdownGrace)
	}

	snap := s.machine.MarkOffline()
	s.writeStatus(snap)
	s.record(audit.Entry{Type: audit.TypeMonitorStopped, Status: snap.Status.String(), Level: snap.Level.String()})
	return joinErr
}

// Snapshot returns the current (status, level) pair.
func (s *Sentinel) Snapshot() model.StateSnapshot {
	return s.machine.Snapshot()
}

// Subscribe streams state transitions; see escalate.Machine.Subscribe.
func (s *Sentinel) Subscribe(buffer int) (<-chan model.StateSnapshot, func()) {
	return s.machine.Subscribe(buffer)
}

// ClearEscalation resets the announced threat level after operator
// remediation. The next increase to any level fires the dispatcher again.
func (s *Sentinel) ClearEscalation() {
	snap := s.machine.Clear()
	s.writeStatus(snap)
	s.record(audit.Entry{Type: audit.TypeEscalationCleared, Level: snap.Level.String()})
}

// Kick requests an immediate cycle, bypassing the remaining sleep.
// Non-blocking; a pending kick is sufficient.
func (s *Sentinel) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// run is the loop body. One dedicated goroutine per Sentinel; exits only
// on cancellation.
func (s *Sentinel) run(ctx context.Context, reg registry.Registry) {
	defer close(s.done)

	for {
		result := s.cycle(ctx, reg)

		if ctx.Err() != nil {
			// Shutdown interrupted the cycle; do not apply a partial result.
			return
		}

		transition := s.machine.Apply(result)
		s.afterTransition(ctx, transition, result)

		interval := s.cfg.PollInterval
		allowKick := true
		if result.Err != nil {
			// Persistent faults must not hot-loop.
			interval = s.cfg.ErrorBackoff
			allowKick = false
		} else if transition.Snapshot.Announced >= model.LevelMedium {
			// Enhanced monitoring while escalated.
			interval = s.cfg.PollInterval / 2
		}

		if !s.sleep(ctx, interval, allowKick) {
			return
		}
	}
}

// cycle evaluates every registered resource sequentially. A single
// unreadable resource is skipped; a panic or registry fault fails the
// whole cycle.
func (s *Sentinel) cycle(ctx context.Context, reg registry.Registry) (result escalate.CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			// The loop must never die silently: an internal fault is a
			// failed observation, reported as Offline and retried.
			result = escalate.CycleResult{Err: fmt.Errorf("cycle panic: %v", r)}
		}
	}()

	for _, res := range reg.List() {
		if ctx.Err() != nil {
			return escalate.CycleResult{Err: ctx.Err()}
		}

		expected, ok := reg.ReferenceDigest(res.ID)
		if !ok {
			// No baseline is not proof of tampering.
			result.Skipped++
			continue
		}

		actual, err := s.deps.Engine.Compute(ctx, res.Path)
		if err != nil {
			var ioErr *digest.IOError
			if errors.As(err, &ioErr) {
				// Legitimately removed or locked resources must not
				// abort the cycle, and must not suppress detection on
				// the remaining resources.
				result.Skipped++
				fmt.Fprintf(os.Stderr, "sentineld: skip %s: %v\n", res.ID, err)
				s.record(audit.Entry{
					Type:       audit.TypeResourceSkipped,
					ResourceID: res.ID,
					Path:       res.Path,
					Reason:     err.Error(),
				})
				continue
			}
			return escalate.CycleResult{Err: err}
		}

		if actual != expected {
			level := s.deps.Classifier.Classify(res)
			result.Violations = append(result.Violations, model.NewViolation(res, expected, actual, level))
		}
	}
	return result
}

// afterTransition performs the notification step: status file, audit
// trail, history persistence, and the at-most-once dispatcher call.
func (s *Sentinel) afterTransition(ctx context.Context, tr escalate.Transition, result escalate.CycleResult) {
	s.writeStatus(tr.Snapshot)

	if result.Err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: cycle %d failed: %v\n", tr.Snapshot.Cycle, result.Err)
		s.record(audit.Entry{
			Type:   audit.TypeCycleFailure,
			Status: tr.Snapshot.Status.String(),
			Level:  tr.Snapshot.Level.String(),
			Cycle:  tr.Snapshot.Cycle,
			Reason: result.Err.Error(),
		})
		return
	}

	for _, v := range tr.Violations {
		fmt.Fprintf(os.Stderr, "sentineld: INTEGRITY VIOLATION %s (%s): expected %s got %s\n",
			v.ResourceID, v.Level, v.Expected, v.Actual)
		entry := audit.ViolationEntry(v)
		entry.Cycle = tr.Snapshot.Cycle
		s.record(entry)

		if s.deps.History != nil {
			if err := s.deps.History.Record(ctx, v, tr.Snapshot.Cycle); err != nil {
				fmt.Fprintf(os.Stderr, "sentineld: history: %v\n", err)
			}
		}
	}

	s.record(audit.TransitionEntry(tr.Snapshot))

	if tr.FireDispatch && s.dispatch != nil {
		// Queued to the single dispatch worker so successive increases
		// reach the responder in the order they occurred.
		violations := make([]model.Violation, len(tr.Violations))
		copy(violations, tr.Violations)
		select {
		case s.dispatch <- dispatchRequest{level: tr.Snapshot.Level, violations: violations}:
		case <-ctx.Done():
		}
	}
}

// runDispatch delivers queued escalations to the responder one at a time.
// One worker per Sentinel: a slow responder delays later notifications
// but never reorders them, and never stalls the monitoring loop.
func (s *Sentinel) runDispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.dispatch:
			s.deps.Responder.OnThreatLevelIncrease(req.level, req.violations)
		}
	}
}

// sleep waits the interval, cancellable by shutdown and (when allowed)
// by a kick. Returns false when the loop should exit.
func (s *Sentinel) sleep(ctx context.Context, d time.Duration, allowKick bool) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	kick := s.kick
	if !allowKick {
		kick = nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-kick:
		return true
	}
}

// runWatcher runs the fsnotify change trigger, degrading to stat polling
// when fsnotify is unavailable.
func (s *Sentinel) runWatcher(ctx context.Context, resources []model.MonitoredResource) {
	w := watch.New(resources, s.kick)
	if err := w.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: fsnotify unavailable (%v), falling back to stat polling\n", err)
		pw := watch.NewPollWatcher(resources, s.kick, s.cfg.PollInterval)
		_ = pw.Run(ctx)
	}
}

// record writes an audit entry if a log is configured.
func (s *Sentinel) record(entry audit.Entry) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Record(entry); err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: audit: %v\n", err)
	}
}
