package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ManifestEntry is the durable record of what is checked into the VMR for one
// mapping. Absence of an entry means the mapping was never initialized.
type ManifestEntry struct {
	Name      string `json:"name"`
	RemoteURI string `json:"remoteUri,omitempty"`
	SHA       string `json:"sha"`
	Version   string `json:"version,omitempty"`
}

// sourceManifest is the on-disk shape of src/source-manifest.json.
type sourceManifest struct {
	Repositories []ManifestEntry `json:"repositories"`
}

func readManifest(path string) (map[string]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ManifestEntry{}, nil
		}
		return nil, err
	}
	var m sourceManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	entries := make(map[string]ManifestEntry, len(m.Repositories))
	for _, e := range m.Repositories {
		if e.Name == "" {
			return nil, fmt.Errorf("parse %s: entry without name", path)
		}
		entries[e.Name] = e
	}
	return entries, nil
}

// writeManifest serializes entries sorted by name so the committed file is
// stable and diffable.
func writeManifest(path string, entries map[string]ManifestEntry) error {
	m := sourceManifest{Repositories: make([]ManifestEntry, 0, len(entries))}
	for _, e := range entries {
		m.Repositories = append(m.Repositories, e)
	}
	sort.Slice(m.Repositories, func(i, j int) bool {
		return m.Repositories[i].Name < m.Repositories[j].Name
	})
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
