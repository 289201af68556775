package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	vmrerrors "git.home.luguber.info/inful/vmrsync/internal/errors"
)

// Config is the full mapping document for one VMR.
type Config struct {
	PatchesPath string          `yaml:"patches_path,omitempty"` // relative to the VMR root
	Defaults    Defaults        `yaml:"defaults,omitempty"`
	Mappings    []SourceMapping `yaml:"mappings"`
}

// Load reads and validates a mapping document. Mappings keep their file order;
// defaults are folded into each mapping before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &vmrerrors.ConfigurationError{Path: path, Err: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &vmrerrors.ConfigurationError{Path: path, Err: err}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, &vmrerrors.ConfigurationError{Path: path, Err: err}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PatchesPath == "" {
		c.PatchesPath = "src/patches"
	}
	for i := range c.Mappings {
		m := &c.Mappings[i]
		if m.DefaultRef == "" {
			m.DefaultRef = c.Defaults.DefaultRef
		}
		m.Include = append(append([]string{}, c.Defaults.Include...), m.Include...)
		m.Exclude = append(append([]string{}, c.Defaults.Exclude...), m.Exclude...)
	}
}

func (c *Config) validate() error {
	if len(c.Mappings) == 0 {
		return fmt.Errorf("no mappings defined")
	}
	seen := make(map[string]struct{}, len(c.Mappings))
	for _, m := range c.Mappings {
		if m.Name == "" {
			return fmt.Errorf("mapping with empty name")
		}
		if m.DefaultRemote == "" {
			return fmt.Errorf("mapping %s has no default remote", m.Name)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("duplicate mapping name %s", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

// Mapping looks a mapping up by name.
func (c *Config) Mapping(name string) (*SourceMapping, bool) {
	for i := range c.Mappings {
		if c.Mappings[i].Name == name {
			return &c.Mappings[i], true
		}
	}
	return nil, false
}
