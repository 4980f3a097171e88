package sentinel

import (
	"context"
	"fmt"

	"github.com/rstanik/sentineld/internal/escalate"
)

// RunOnce evaluates a single foreground cycle without starting the loop
// or touching the state machine. Used by the one-shot check command.
func (s *Sentinel) RunOnce(ctx context.Context) (escalate.CycleResult, error) {
	s.mu.Lock()
	reg := s.reg
	s.mu.Unlock()

	if reg == nil {
		loaded, err := s.deps.LoadRegistry()
		if err != nil {
			return escalate.CycleResult{}, fmt.Errorf("%w: %v", ErrRegistryLoad, err)
		}
		reg = loaded
	}

	return s.cycle(ctx, reg), nil
}
