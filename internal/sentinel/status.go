package sentinel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rstanik/sentineld/internal/model"
)

// writeStatus persists the snapshot for external observers (the status
// command, dashboards). Atomic write (tmp + rename) so a reader never
// sees a partial file. Best-effort: a failed write never affects the loop.
func (s *Sentinel) writeStatus(snap model.StateSnapshot) {
	if s.cfg.StatusFile == "" {
		return
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}

	dir := filepath.Dir(s.cfg.StatusFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: status dir: %v\n", err)
		return
	}

	tmp := s.cfg.StatusFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: status write: %v\n", err)
		return
	}
	if err := os.Rename(tmp, s.cfg.StatusFile); err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: status rename: %v\n", err)
	}
}

// ReadStatus loads a snapshot written by writeStatus. A missing file
// reports (Offline, None): not running is indistinguishable from stopped.
func ReadStatus(path string) (model.StateSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.StateSnapshot{Status: model.StatusOffline}, nil
		}
		return model.StateSnapshot{}, fmt.Errorf("sentinel: read status: %w", err)
	}

	var snap model.StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.StateSnapshot{}, fmt.Errorf("sentinel: parse status: %w", err)
	}
	return snap, nil
}
