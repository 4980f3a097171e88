// Package escalate owns the process-wide (IntegrityStatus, ThreatLevel)
// pair and applies one transition per monitoring cycle.
//
// The transition itself is a pure function (Next); Machine wraps it with
// the single synchronization point and the subscriber notification step,
// so correctness is testable without stubbing any side effects.
//
// INVARIANT: the announced escalation level only rises, never falls,
// until an explicit operator Clear.
package escalate

import (
	"sync"
	"time"

	"github.com/rstanik/sentineld/internal/model"
)

// CycleResult is the outcome of one full pass over the registry.
type CycleResult struct {
	Violations []model.Violation
	Skipped    int   // resources not evaluated (I/O error or no baseline)
	Err        error // non-nil: the cycle itself failed
}

// Transition is one applied state change.
type Transition struct {
	Snapshot   model.StateSnapshot
	Violations []model.Violation

	// FireDispatch is true when the announced level increased with this
	// cycle: the response dispatcher must be invoked exactly once.
	FireDispatch bool
}

// Next computes the successor state for one cycle result. Pure.
//
//   - cycle failed           → (Offline, level unchanged): a failed
//     observation is never reported as Secure, and never fabricates a
//     threat level from missing data
//   - no violations          → (Secure, None)
//   - one or more violations → (Compromised, max severity)
//
// The announced level rises to the cycle level when exceeded; the second
// return value reports that increase.
func Next(prev model.StateSnapshot, result CycleResult) (model.StateSnapshot, bool) {
	next := prev
	next.Cycle = prev.Cycle + 1
	next.Violations = len(result.Violations)

	if result.Err != nil {
		next.Status = model.StatusOffline
		next.Violations = 0
		return next, false
	}

	if len(result.Violations) == 0 {
		next.Status = model.StatusSecure
		next.Level = model.LevelNone
		return next, false
	}

	next.Status = model.StatusCompromised
	next.Level = model.MaxLevel(result.Violations)

	fire := next.Level > prev.Announced
	if fire {
		next.Announced = next.Level
	}
	return next, fire
}

// Machine holds the pair behind one mutex so readers never observe a torn
// combination. All mutation happens from the monitoring loop's goroutine,
// except Clear and MarkOffline which are operator/shutdown entry points.
type Machine struct {
	mu      sync.Mutex
	snap    model.StateSnapshot
	subs    map[int]chan model.StateSnapshot
	nextSub int
}

// NewMachine creates a Machine in the quiescent default (Secure, None).
// Started is entered only once the loop has successfully initialized.
func NewMachine() *Machine {
	return &Machine{
		snap: model.StateSnapshot{
			Status:    model.StatusSecure,
			Level:     model.LevelNone,
			ChangedAt: time.Now().UTC(),
		},
		subs: make(map[int]chan model.StateSnapshot),
	}
}

// Started transitions to (Monitoring, None): the loop is running but no
// cycle has completed yet.
func (m *Machine) Started() model.StateSnapshot {
	m.mu.Lock()
	m.snap.Status = model.StatusMonitoring
	m.snap.Level = model.LevelNone
	m.snap.ChangedAt = time.Now().UTC()
	snap := m.snap
	m.mu.Unlock()

	m.publish(snap)
	return snap
}

// Apply folds one cycle result into the state. The returned Transition
// carries the violation set so the dispatcher receives exactly what
// caused the increase.
func (m *Machine) Apply(result CycleResult) Transition {
	m.mu.Lock()
	next, fire := Next(m.snap, result)
	next.ChangedAt = time.Now().UTC()
	m.snap = next
	m.mu.Unlock()

	m.publish(next)
	return Transition{
		Snapshot:     next,
		Violations:   result.Violations,
		FireDispatch: fire,
	}
}

// MarkOffline forces (Offline, <last known level>). Used by shutdown.
func (m *Machine) MarkOffline() model.StateSnapshot {
	m.mu.Lock()
	m.snap.Status = model.StatusOffline
	m.snap.ChangedAt = time.Now().UTC()
	snap := m.snap
	m.mu.Unlock()

	m.publish(snap)
	return snap
}

// Clear resets the announced escalation level. Operator action: after
// remediation, the next increase to any level fires the dispatcher again.
func (m *Machine) Clear() model.StateSnapshot {
	m.mu.Lock()
	m.snap.Announced = model.LevelNone
	m.snap.ChangedAt = time.Now().UTC()
	snap := m.snap
	m.mu.Unlock()

	m.publish(snap)
	return snap
}

// Snapshot returns the current pair. Never torn.
func (m *Machine) Snapshot() model.StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe registers a transition observer. Transitions arrive in the
// order they occurred. A subscriber that cannot keep up loses the oldest
// buffered snapshot, never the newest; the loop does not block on slow
// observers. The returned func cancels the subscription.
func (m *Machine) Subscribe(buffer int) (<-chan model.StateSnapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.StateSnapshot, buffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// publish fans a snapshot out to all subscribers, coalescing on full
// buffers.
func (m *Machine) publish(snap model.StateSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- snap:
			default:
				// Buffer full: drop the oldest and retry so the
				// subscriber always ends up with the latest state.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
