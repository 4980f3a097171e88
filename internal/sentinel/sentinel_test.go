package sentinel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rstanik/sentineld/internal/alert"
	"github.com/rstanik/sentineld/internal/classify"
	"github.com/rstanik/sentineld/internal/digest"
	"github.com/rstanik/sentineld/internal/model"
	"github.com/rstanik/sentineld/internal/registry"
)

// fakeRegistry is an in-memory Registry whose behavior tests can change
// mid-run.
type fakeRegistry struct {
	mu          sync.Mutex
	resources   []model.MonitoredResource
	expected    map[string]string
	panicOnList bool
}

func (r *fakeRegistry) List() []model.MonitoredResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panicOnList {
		panic("registry unreachable")
	}
	out := make([]model.MonitoredResource, len(r.resources))
	copy(out, r.resources)
	return out
}

func (r *fakeRegistry) ReferenceDigest(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.expected[id]
	return d, ok
}

func (r *fakeRegistry) setPanic(v bool) {
	r.mu.Lock()
	r.panicOnList = v
	r.mu.Unlock()
}

// timingRegistry wraps a Registry and records when each cycle starts.
type timingRegistry struct {
	inner registry.Registry

	mu    sync.Mutex
	calls []time.Time
}

func (r *timingRegistry) List() []model.MonitoredResource {
	r.mu.Lock()
	r.calls = append(r.calls, time.Now())
	r.mu.Unlock()
	return r.inner.List()
}

func (r *timingRegistry) ReferenceDigest(id string) (string, bool) {
	return r.inner.ReferenceDigest(id)
}

func (r *timingRegistry) times() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.calls))
	copy(out, r.calls)
	return out
}

// recorder counts dispatcher invocations.
type recorder struct {
	mu    sync.Mutex
	calls []model.ThreatLevel
}

func (r *recorder) OnThreatLevelIncrease(level model.ThreatLevel, violations []model.Violation) {
	r.mu.Lock()
	r.calls = append(r.calls, level)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() model.ThreatLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return model.LevelNone
	}
	return r.calls[len(r.calls)-1]
}

func (r *recorder) levels() []model.ThreatLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ThreatLevel, len(r.calls))
	copy(out, r.calls)
	return out
}

// slowRecorder stalls inside the responder callback before recording.
type slowRecorder struct {
	recorder
	delay time.Duration
}

func (r *slowRecorder) OnThreatLevelIncrease(level model.ThreatLevel, violations []model.Violation) {
	time.Sleep(r.delay)
	r.recorder.OnThreatLevelIncrease(level, violations)
}

func sha256hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// testSetup creates four resources on disk, one classified critical, all
// baselined to their current content.
func testSetup(t *testing.T) (*fakeRegistry, string) {
	t.Helper()
	dir := t.TempDir()

	reg := &fakeRegistry{expected: make(map[string]string)}
	files := []struct {
		id      string
		name    string
		content string
	}{
		{"boot-image", "boot.img", "bootloader bytes"},
		{"agent-bin", "bin/agent", "agent executable"},
		{"policy-cfg", "policy.yaml", "policy: strict"},
		{"data-pack", "pack.dat", "aux data"},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(f.content), 0600); err != nil {
			t.Fatal(err)
		}
		reg.resources = append(reg.resources, model.MonitoredResource{
			ID: f.id, Path: path, Severity: model.LevelLow,
		})
		reg.expected[f.id] = sha256hex([]byte(f.content))
	}
	return reg, dir
}

func newTestSentinel(t *testing.T, reg registry.Registry, rec alert.Responder, cfg Config) *Sentinel {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 20 * time.Millisecond
	}

	deps := Deps{
		LoadRegistry: func() (registry.Registry, error) { return reg, nil },
		Engine:       digest.NewEngine(digest.SHA256, 0),
		Classifier:   classify.Default(),
	}
	if rec != nil {
		deps.Responder = rec
	}

	s, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// waitFor reads transitions until pred matches or the deadline passes.
func waitFor(t *testing.T, ch <-chan model.StateSnapshot, pred func(model.StateSnapshot) bool) model.StateSnapshot {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-ch:
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for state transition")
		}
	}
}

func waitForCalls(t *testing.T, rec *recorder, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for rec.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d dispatcher call(s), have %d", n, rec.count())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestInitializeIdempotent(t *testing.T) {
	reg, _ := testSetup(t)
	s := newTestSentinel(t, reg, nil, Config{})

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer s.Shutdown()

	if err := s.Initialize(); err != nil {
		t.Errorf("second Initialize should be a no-op, got %v", err)
	}
}

func TestInitializeFailsWithoutRegistry(t *testing.T) {
	deps := Deps{
		LoadRegistry: func() (registry.Registry, error) { return nil, errors.New("manifest corrupt") },
		Engine:       digest.NewEngine(digest.SHA256, 0),
	}
	s, err := New(Config{PollInterval: 10 * time.Millisecond}, deps)
	if err != nil {
		t.Fatal(err)
	}

	err = s.Initialize()
	if !errors.Is(err, ErrRegistryLoad) {
		t.Fatalf("expected ErrRegistryLoad, got %v", err)
	}

	// The loop never started.
	if snap := s.Snapshot(); snap.Status == model.StatusMonitoring {
		t.Errorf("loop must not start after failed init, status %v", snap.Status)
	}
}

func TestCleanCycleYieldsSecureNone(t *testing.T) {
	reg, _ := testSetup(t)
	rec := &recorder{}
	s := newTestSentinel(t, reg, rec, Config{})

	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	snap := waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusSecure
	})
	if snap.Level != model.LevelNone {
		t.Errorf("clean cycle: expected level none, got %v", snap.Level)
	}
	if rec.count() != 0 {
		t.Errorf("clean cycle must not dispatch, got %d call(s)", rec.count())
	}
}

func TestTamperedCriticalResourceEscalates(t *testing.T) {
	reg, dir := testSetup(t)
	rec := &recorder{}
	s := newTestSentinel(t, reg, rec, Config{})

	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusSecure
	})

	// Tamper with the boot-critical resource.
	if err := os.WriteFile(filepath.Join(dir, "boot.img"), []byte("p0wned"), 0600); err != nil {
		t.Fatal(err)
	}

	snap := waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusCompromised
	})
	if snap.Level != model.LevelCritical {
		t.Errorf("boot tamper: expected critical, got %v", snap.Level)
	}

	waitForCalls(t, rec, 1)
	if rec.last() != model.LevelCritical {
		t.Errorf("dispatcher called with %v, expected critical", rec.last())
	}

	// A further cycle that stays compromised must not dispatch again.
	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusCompromised && snap.Cycle >= 4
	})
	if rec.count() != 1 {
		t.Errorf("dispatcher fired %d times, expected exactly 1", rec.count())
	}
}

func TestDeletedResourceIsSkippedNotViolated(t *testing.T) {
	reg, dir := testSetup(t)
	rec := &recorder{}

	// Delete one resource before the loop ever sees it.
	if err := os.Remove(filepath.Join(dir, "pack.dat")); err != nil {
		t.Fatal(err)
	}

	s := newTestSentinel(t, reg, rec, Config{})
	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	snap := waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusSecure
	})
	if snap.Level != model.LevelNone {
		t.Errorf("deleted resource must not escalate: got level %v", snap.Level)
	}
	if rec.count() != 0 {
		t.Errorf("deleted resource dispatched %d call(s)", rec.count())
	}
}

func TestMissingBaselineIsSkipped(t *testing.T) {
	reg, _ := testSetup(t)
	reg.mu.Lock()
	delete(reg.expected, "data-pack")
	reg.mu.Unlock()

	s := newTestSentinel(t, reg, nil, Config{})
	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	snap := waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusSecure
	})
	if snap.Level != model.LevelNone {
		t.Errorf("missing baseline must not escalate: got %v", snap.Level)
	}
}

func TestCycleFailureGoesOfflineAndKeepsLevel(t *testing.T) {
	reg, dir := testSetup(t)
	s := newTestSentinel(t, reg, nil, Config{})

	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	// First escalate to critical.
	if err := os.WriteFile(filepath.Join(dir, "boot.img"), []byte("p0wned"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusCompromised && snap.Level == model.LevelCritical
	})

	// Then make the registry blow up.
	reg.setPanic(true)

	snap := waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusOffline
	})
	if snap.Level != model.LevelCritical {
		t.Errorf("failed cycle must preserve level: expected critical, got %v", snap.Level)
	}

	// Recovery: the loop keeps retrying after backoff and comes back.
	reg.setPanic(false)
	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusCompromised
	})
}

func TestFailedCyclesRetryAfterBackoff(t *testing.T) {
	reg, _ := testSetup(t)
	reg.setPanic(true)
	tr := &timingRegistry{inner: reg}

	backoff := 120 * time.Millisecond
	s := newTestSentinel(t, tr, nil, Config{PollInterval: 10 * time.Millisecond, ErrorBackoff: backoff})

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	deadline := time.Now().Add(3 * time.Second)
	for len(tr.times()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d attempts within deadline", len(tr.times()))
		}
		time.Sleep(time.Millisecond)
	}
	s.Shutdown()

	// Failing cycles must be spaced by the backoff, not the poll interval.
	calls := tr.times()
	for i := 1; i < 3; i++ {
		gap := calls[i].Sub(calls[i-1])
		if gap < backoff {
			t.Errorf("attempt %d started %s after the previous, expected at least %s", i, gap, backoff)
		}
	}
}

func TestEscalatedLoopShortensInterval(t *testing.T) {
	reg, dir := testSetup(t)

	// Tampered from the start: every cycle announces critical.
	if err := os.WriteFile(filepath.Join(dir, "boot.img"), []byte("p0wned"), 0600); err != nil {
		t.Fatal(err)
	}
	tr := &timingRegistry{inner: reg}

	poll := 200 * time.Millisecond
	s := newTestSentinel(t, tr, nil, Config{PollInterval: poll, ErrorBackoff: time.Hour})

	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Cycle >= 4
	})
	s.Shutdown()

	// Once the announced level is medium or above, cycles run at half the
	// poll interval. A full-interval sleep would keep every gap >= poll.
	calls := tr.times()
	if len(calls) < 4 {
		t.Fatalf("expected at least 4 cycles, got %d", len(calls))
	}
	for i := 2; i < 4; i++ {
		gap := calls[i].Sub(calls[i-1])
		if gap >= poll {
			t.Errorf("escalated cycle %d started %s after the previous, expected under %s", i, gap, poll)
		}
	}
}

func TestDispatchOrderPreservedAcrossIncreases(t *testing.T) {
	reg, dir := testSetup(t)
	rec := &slowRecorder{delay: 50 * time.Millisecond}
	s := newTestSentinel(t, reg, rec, Config{})

	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusSecure
	})

	// First increase to high, then to critical while the responder is
	// still busy with the first notification.
	if err := os.WriteFile(filepath.Join(dir, "bin", "agent"), []byte("trojan"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusCompromised && snap.Level == model.LevelHigh
	})
	if err := os.WriteFile(filepath.Join(dir, "boot.img"), []byte("p0wned"), 0600); err != nil {
		t.Fatal(err)
	}

	waitForCalls(t, &rec.recorder, 2)
	got := rec.levels()
	if got[0] != model.LevelHigh || got[1] != model.LevelCritical {
		t.Errorf("increases delivered out of order: %v", got)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	reg, _ := testSetup(t)
	s := newTestSentinel(t, reg, nil, Config{})

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	if snap := s.Snapshot(); snap.Status != model.StatusOffline {
		t.Errorf("expected offline after shutdown, got %v", snap.Status)
	}
}

func TestShutdownInterruptsSleep(t *testing.T) {
	reg, _ := testSetup(t)
	s := newTestSentinel(t, reg, nil, Config{PollInterval: time.Hour, ErrorBackoff: time.Hour})

	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusSecure
	})

	start := time.Now()
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took %s against an hour-long sleep", elapsed)
	}
}

func TestKickTriggersImmediateCycle(t *testing.T) {
	reg, _ := testSetup(t)
	s := newTestSentinel(t, reg, nil, Config{PollInterval: time.Hour, ErrorBackoff: time.Hour})

	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	first := waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusSecure
	})

	s.Kick()
	second := waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Cycle > first.Cycle
	})
	if second.Status != model.StatusSecure {
		t.Errorf("kicked cycle should be clean, got %v", second.Status)
	}
}

func TestStatusFileWritten(t *testing.T) {
	reg, _ := testSetup(t)
	statusPath := filepath.Join(t.TempDir(), "status.json")
	s := newTestSentinel(t, reg, nil, Config{StatusFile: statusPath})

	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusSecure
	})
	if err := s.Shutdown(); err != nil {
		t.Fatal(err)
	}

	snap, err := ReadStatus(statusPath)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if snap.Status != model.StatusOffline {
		t.Errorf("status file should show offline after shutdown, got %v", snap.Status)
	}
}

func TestReadStatusMissingFileIsOffline(t *testing.T) {
	snap, err := ReadStatus(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if snap.Status != model.StatusOffline {
		t.Errorf("missing status file must read as offline, got %v", snap.Status)
	}
}

func TestRunOnceReportsViolations(t *testing.T) {
	reg, dir := testSetup(t)
	if err := os.WriteFile(filepath.Join(dir, "bin", "agent"), []byte("trojan"), 0600); err != nil {
		t.Fatal(err)
	}

	s := newTestSentinel(t, reg, nil, Config{})
	result, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("cycle error: %v", result.Err)
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}
	if result.Violations[0].ResourceID != "agent-bin" {
		t.Errorf("unexpected violator: %s", result.Violations[0].ResourceID)
	}
	if result.Violations[0].Level != model.LevelHigh {
		t.Errorf("agent binary should classify high, got %v", result.Violations[0].Level)
	}

	// One-shot evaluation does not touch the state machine.
	if snap := s.Snapshot(); snap.Status != model.StatusSecure || snap.Cycle != 0 {
		t.Errorf("RunOnce must not advance loop state: %+v", snap)
	}
}

func TestClearEscalationReArmsDispatcher(t *testing.T) {
	reg, dir := testSetup(t)
	rec := &recorder{}
	s := newTestSentinel(t, reg, rec, Config{})

	ch, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	if err := os.WriteFile(filepath.Join(dir, "policy.yaml"), []byte("policy: weakened"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, func(snap model.StateSnapshot) bool {
		return snap.Status == model.StatusCompromised
	})
	waitForCalls(t, rec, 1)

	s.ClearEscalation()

	// Still tampered: the next compromised cycle re-announces.
	waitForCalls(t, rec, 2)
}
