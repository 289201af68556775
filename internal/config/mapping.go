package config

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// SourceMapping describes one upstream repository mapped into the VMR.
// Immutable after load; identity is the unique Name.
type SourceMapping struct {
	Name          string   `yaml:"name"`
	DefaultRemote string   `yaml:"default_remote"`
	DefaultRef    string   `yaml:"default_ref,omitempty"`
	Include       []string `yaml:"include,omitempty"`
	Exclude       []string `yaml:"exclude,omitempty"`
	Patches       []string `yaml:"patches,omitempty"` // ordered VMR patch files, relative to the patches dir
}

// Defaults are merged into every mapping at load time.
type Defaults struct {
	DefaultRef string   `yaml:"default_ref,omitempty"`
	Include    []string `yaml:"include,omitempty"`
	Exclude    []string `yaml:"exclude,omitempty"`
}

// Ref returns the mapping's sync ref, falling back to HEAD.
func (m *SourceMapping) Ref() string {
	if m.DefaultRef != "" {
		return m.DefaultRef
	}
	return "HEAD"
}

// Matches reports whether a repository-relative path survives the mapping's
// cloaking rules. An empty include list includes everything; exclusion wins
// over inclusion. Patterns use doublestar globs matched against slash paths.
func (m *SourceMapping) Matches(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range m.Exclude {
		if GlobMatch(pattern, relPath) {
			return false
		}
	}
	if len(m.Include) == 0 {
		return true
	}
	for _, pattern := range m.Include {
		if GlobMatch(pattern, relPath) {
			return true
		}
	}
	return false
}

// GlobMatch matches pattern against the path and, for basename-style patterns
// like "*.dll", against every path suffix so they apply at any depth.
func GlobMatch(pattern, relPath string) bool {
	if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
		return true
	}
	if ok, err := doublestar.Match("**/"+pattern, relPath); err == nil && ok {
		return true
	}
	// Directory pattern: "bin/" cloaks the whole subtree.
	if len(pattern) > 0 && pattern[len(pattern)-1] == '/' {
		return GlobMatch(pattern+"**", relPath)
	}
	return false
}
