// Package tracker is the process-wide registry of what the VMR currently
// contains: the mapping set plus the persisted source manifest. It is the
// single owner of manifest entries; the orchestrator records new versions
// through it and never touches the manifest file directly.
package tracker

import (
	"fmt"
	"sync"

	appcfg "git.home.luguber.info/inful/vmrsync/internal/config"
	vmrerrors "git.home.luguber.info/inful/vmrsync/internal/errors"
	"git.home.luguber.info/inful/vmrsync/internal/workspace"
)

// Tracker answers "is X initialized?" and "what revision is X at?". All reads
// come from the in-memory cache loaded once by InitializeMappings; only
// RecordVersion writes through to disk.
type Tracker struct {
	paths workspace.Paths

	mu      sync.RWMutex
	cfg     *appcfg.Config
	entries map[string]ManifestEntry
}

func New(paths workspace.Paths) *Tracker {
	return &Tracker{paths: paths}
}

// InitializeMappings loads the mapping configuration (from pathOrDefault, or
// the VMR's conventional location when empty) and the persisted source
// manifest. Malformed documents and duplicate mapping names surface as
// ConfigurationError.
func (t *Tracker) InitializeMappings(pathOrDefault string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg != nil {
		return nil // already initialized
	}
	path := pathOrDefault
	if path == "" {
		path = t.paths.MappingsPath()
	}
	cfg, err := appcfg.Load(path)
	if err != nil {
		return err
	}
	entries, err := readManifest(t.paths.ManifestPath())
	if err != nil {
		return &vmrerrors.ConfigurationError{Path: t.paths.ManifestPath(), Err: err}
	}
	t.cfg = cfg
	t.entries = entries
	return nil
}

// Mappings returns the full ordered mapping set.
func (t *Tracker) Mappings() []appcfg.SourceMapping {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.Mappings
}

// Mapping looks up one mapping by name.
func (t *Tracker) Mapping(name string) (*appcfg.SourceMapping, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.Mapping(name)
}

// Config exposes the loaded configuration (patches path etc).
func (t *Tracker) Config() *appcfg.Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// CurrentVersion returns the manifest entry for a mapping, reporting absence
// explicitly instead of through an error.
func (t *Tracker) CurrentVersion(mappingName string) (ManifestEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[mappingName]
	return e, ok
}

// RecordVersion updates the in-memory state and rewrites the manifest file so
// the change is staged into the same commit as the tree content it describes.
func (t *Tracker) RecordVersion(entry ManifestEntry) error {
	if entry.Name == "" || entry.SHA == "" {
		return fmt.Errorf("manifest entry needs name and sha")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	previous, hadPrevious := t.entries[entry.Name]
	t.entries[entry.Name] = entry
	if err := writeManifest(t.paths.ManifestPath(), t.entries); err != nil {
		// Keep memory and disk consistent on failure.
		if hadPrevious {
			t.entries[entry.Name] = previous
		} else {
			delete(t.entries, entry.Name)
		}
		return fmt.Errorf("write source manifest: %w", err)
	}
	return nil
}
