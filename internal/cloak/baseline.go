package cloak

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	vmrerrors "git.home.luguber.info/inful/vmrsync/internal/errors"
)

// Rule is one baseline line: a pattern, optionally scoped to a single mapping.
type Rule struct {
	Pattern string
	Mapping string // empty means global
}

// Baseline is the parsed cloak baseline file. Lines starting with '*' are
// global exclusions, lines starting with src/<mapping>/ scope to one mapping,
// '#' begins a trailing comment and blank lines are ignored.
type Baseline struct {
	rules []Rule
}

// LoadBaseline parses a baseline file from disk.
func LoadBaseline(path string) (*Baseline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &vmrerrors.ConfigurationError{Path: path, Err: err}
	}
	defer f.Close()
	b, err := ParseBaseline(f)
	if err != nil {
		return nil, &vmrerrors.ConfigurationError{Path: path, Err: err}
	}
	return b, nil
}

// ParseBaseline parses baseline rules from a reader.
func ParseBaseline(r io.Reader) (*Baseline, error) {
	var b Baseline
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "*"):
			b.rules = append(b.rules, Rule{Pattern: line})
		case strings.HasPrefix(line, "src/"):
			rest := strings.TrimPrefix(line, "src/")
			name, pattern, ok := strings.Cut(rest, "/")
			if !ok || name == "" || pattern == "" {
				return nil, fmt.Errorf("line %d: scoped rule needs src/<mapping>/<pattern>: %q", lineNo, line)
			}
			b.rules = append(b.rules, Rule{Pattern: pattern, Mapping: name})
		default:
			return nil, fmt.Errorf("line %d: rule must start with '*' or 'src/': %q", lineNo, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &b, nil
}

// GlobalPatterns returns the unscoped patterns.
func (b *Baseline) GlobalPatterns() []string {
	var out []string
	for _, r := range b.rules {
		if r.Mapping == "" {
			out = append(out, r.Pattern)
		}
	}
	return out
}

// MappingPatterns returns the patterns scoped to one mapping.
func (b *Baseline) MappingPatterns(name string) []string {
	var out []string
	for _, r := range b.rules {
		if r.Mapping == name {
			out = append(out, r.Pattern)
		}
	}
	return out
}

// Rules exposes the full parsed rule list in file order.
func (b *Baseline) Rules() []Rule {
	return b.rules
}
