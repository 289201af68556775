// Package workspace fixes the on-disk layout of a VMR checkout. Every
// component resolves paths through Paths so the layout has a single owner.
package workspace

import "path/filepath"

const (
	sourcesDir   = "src"
	patchesDir   = "patches"
	manifestFile = "source-manifest.json"
	mappingsFile = "source-mappings.yaml"
)

// Paths resolves well-known locations inside one VMR checkout.
type Paths struct {
	Root string
}

func New(root string) Paths {
	return Paths{Root: root}
}

// SourcesRoot is the directory holding all mapped subtrees.
func (p Paths) SourcesRoot() string {
	return filepath.Join(p.Root, sourcesDir)
}

// SourceDir is the subtree a mapping syncs into.
func (p Paths) SourceDir(mappingName string) string {
	return filepath.Join(p.Root, sourcesDir, mappingName)
}

// SourceRel is SourceDir relative to the VMR root, in slash form. Used for
// commit-scoped paths and baseline-file scoping.
func (p Paths) SourceRel(mappingName string) string {
	return sourcesDir + "/" + mappingName
}

// ManifestPath is the persisted source manifest.
func (p Paths) ManifestPath() string {
	return filepath.Join(p.Root, sourcesDir, manifestFile)
}

// MappingsPath is the mapping configuration document.
func (p Paths) MappingsPath() string {
	return filepath.Join(p.Root, sourcesDir, mappingsFile)
}

// PatchesDir holds VMR-owned patches, one subdirectory per mapping.
func (p Paths) PatchesDir() string {
	return filepath.Join(p.Root, sourcesDir, patchesDir)
}
