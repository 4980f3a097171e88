// Package registry supplies the monitored-resource set and the known-good
// reference digests. The backing manifest is provisioned out of band and is
// read-only for the lifetime of a monitor instance.
package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rstanik/sentineld/internal/model"
)

// Registry is the read-only contract the monitoring loop consumes.
type Registry interface {
	// List returns the registered resources in manifest order.
	List() []model.MonitoredResource
	// ReferenceDigest returns the expected digest for a resource id.
	// ok=false means no baseline exists: the resource is skipped, not
	// treated as a violation.
	ReferenceDigest(id string) (string, bool)
}

// manifestEntry is one resource in the YAML manifest.
type manifestEntry struct {
	ID       string            `yaml:"id"`
	Path     string            `yaml:"path"`
	Severity model.ThreatLevel `yaml:"severity"`
	Expected string            `yaml:"expected,omitempty"`
}

// Manifest is the on-disk baseline format.
type Manifest struct {
	Algorithm string          `yaml:"algorithm,omitempty"`
	Resources []manifestEntry `yaml:"resources"`
}

// FileRegistry is a Registry loaded from a YAML manifest.
type FileRegistry struct {
	path      string
	resources []model.MonitoredResource
	expected  map[string]string
}

// Load reads and validates a baseline manifest.
func Load(path string) (*FileRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("registry: parse manifest: %w", err)
	}
	return fromManifest(path, &m)
}

func fromManifest(path string, m *Manifest) (*FileRegistry, error) {
	if len(m.Resources) == 0 {
		return nil, fmt.Errorf("registry: manifest %s lists no resources", path)
	}

	r := &FileRegistry{
		path:     path,
		expected: make(map[string]string, len(m.Resources)),
	}
	seen := make(map[string]bool, len(m.Resources))

	for i, entry := range m.Resources {
		if entry.ID == "" {
			return nil, fmt.Errorf("registry: resource %d has no id", i)
		}
		if entry.Path == "" {
			return nil, fmt.Errorf("registry: resource %q has no path", entry.ID)
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("registry: duplicate resource id %q", entry.ID)
		}
		seen[entry.ID] = true

		r.resources = append(r.resources, model.MonitoredResource{
			ID:       entry.ID,
			Path:     entry.Path,
			Severity: entry.Severity,
		})
		if entry.Expected != "" {
			r.expected[entry.ID] = entry.Expected
		}
	}
	return r, nil
}

// List returns the registered resources in manifest order.
func (r *FileRegistry) List() []model.MonitoredResource {
	out := make([]model.MonitoredResource, len(r.resources))
	copy(out, r.resources)
	return out
}

// ReferenceDigest returns the expected digest for a resource id.
func (r *FileRegistry) ReferenceDigest(id string) (string, bool) {
	d, ok := r.expected[id]
	return d, ok
}

// Path returns the manifest location this registry was loaded from.
func (r *FileRegistry) Path() string { return r.path }

// WriteBaseline rewrites the manifest with expected digests filled in.
// Operator tooling only; the running monitor never calls this.
// Uses atomic write (tmp + rename) to prevent a partially written baseline.
func WriteBaseline(path string, algorithm string, resources []model.MonitoredResource, digests map[string]string) error {
	m := Manifest{Algorithm: algorithm}
	for _, res := range resources {
		m.Resources = append(m.Resources, manifestEntry{
			ID:       res.ID,
			Path:     res.Path,
			Severity: res.Severity,
			Expected: digests[res.ID],
		})
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("registry: marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("registry: create manifest dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("registry: write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}
