package tracker

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// VersionDetailsFile is the per-repository dependency manifest read from a
// source checkout to build the recursive update graph.
const VersionDetailsFile = "eng/version-details.yaml"

// DeclaredDependency is one declared upstream dependency of a mapped
// repository, pinned to the revision the repository was built against.
type DeclaredDependency struct {
	Name    string `yaml:"name"`
	URI     string `yaml:"uri"`
	SHA     string `yaml:"sha"`
	Version string `yaml:"version,omitempty"`
}

type versionDetails struct {
	Dependencies []DeclaredDependency `yaml:"dependencies"`
}

// ReadVersionDetails parses the dependency manifest of a checkout. A missing
// file means the repository declares no dependencies; a malformed one is an
// error because a half-read graph would produce a wrong sync plan.
func ReadVersionDetails(checkoutPath string) ([]DeclaredDependency, error) {
	path := filepath.Join(checkoutPath, filepath.FromSlash(VersionDetailsFile))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read version details: %w", err)
	}
	var vd versionDetails
	if err := yaml.Unmarshal(data, &vd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, d := range vd.Dependencies {
		if d.Name == "" || d.SHA == "" {
			return nil, fmt.Errorf("parse %s: dependency needs name and sha", path)
		}
	}
	return vd.Dependencies, nil
}
