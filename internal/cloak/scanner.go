// Package cloak verifies that files excluded by cloaking rules never appear
// in the aggregate tree. One scan runs per mapping plus one base-repository
// scan, all concurrently; results merge into a deterministic sorted report.
package cloak

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	appcfg "git.home.luguber.info/inful/vmrsync/internal/config"
	"git.home.luguber.info/inful/vmrsync/internal/logfields"
	"git.home.luguber.info/inful/vmrsync/internal/metrics"
	"git.home.luguber.info/inful/vmrsync/internal/workspace"
)

// Scanner is one scanning variant. Implementations decide what counts as an
// offending file; the shared orchestration in Run decides how scans are
// scheduled and merged.
type Scanner interface {
	// ScanType names the category for logging ("cloaked", "binary", ...).
	ScanType() string
	// ScanSubRepository scans one mapping's subtree, returning VMR-relative
	// offending paths.
	ScanSubRepository(ctx context.Context, mapping *appcfg.SourceMapping, baseline *Baseline) ([]string, error)
	// ScanBaseRepository scans VMR content outside every mapped subtree.
	ScanBaseRepository(ctx context.Context, baseline *Baseline) ([]string, error)
}

const defaultConcurrency = 4

// Run executes a full scan: every mapping concurrently plus the base
// repository, awaited jointly. Any single failure fails the whole run; the
// merged result is sorted lexicographically regardless of completion order.
func Run(ctx context.Context, scanner Scanner, baseline *Baseline, mappings []appcfg.SourceMapping) ([]string, error) {
	jobs := make([]func(context.Context) ([]string, error), 0, len(mappings)+1)
	for i := range mappings {
		mapping := &mappings[i]
		jobs = append(jobs, func(ctx context.Context) ([]string, error) {
			return scanner.ScanSubRepository(ctx, mapping, baseline)
		})
	}
	jobs = append(jobs, func(ctx context.Context) ([]string, error) {
		return scanner.ScanBaseRepository(ctx, baseline)
	})

	results := runBounded(ctx, jobs, defaultConcurrency)

	var merged []string
	for _, res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("%s scan: %w", scanner.ScanType(), res.err)
		}
		merged = append(merged, res.paths...)
	}
	sort.Strings(merged)
	if len(merged) > 0 {
		metrics.CloakViolationsTotal.Add(float64(len(merged)))
	}
	slog.Info("scan finished", logfields.ScanType(scanner.ScanType()), logfields.Count(len(merged)))
	return merged, nil
}

type scanResult struct {
	paths []string
	err   error
}

// runBounded fans jobs out with bounded parallelism, keeping result order
// independent of completion order.
func runBounded(ctx context.Context, jobs []func(context.Context) ([]string, error), concurrency int) []scanResult {
	if len(jobs) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(jobs) {
		concurrency = len(jobs)
	}
	sem := make(chan struct{}, concurrency)
	results := make([]scanResult, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job func(context.Context) ([]string, error)) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			paths, err := job(ctx)
			results[i] = scanResult{paths: paths, err: err}
		}(i, job)
	}
	wg.Wait()
	return results
}

// CloakedScanner reports files that cloaking rules forbid.
type CloakedScanner struct {
	paths  workspace.Paths
	mapped map[string]struct{}
}

func NewCloakedScanner(paths workspace.Paths, mappings []appcfg.SourceMapping) *CloakedScanner {
	mapped := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		mapped[m.Name] = struct{}{}
	}
	return &CloakedScanner{paths: paths, mapped: mapped}
}

func (s *CloakedScanner) ScanType() string { return "cloaked" }

func (s *CloakedScanner) ScanSubRepository(ctx context.Context, mapping *appcfg.SourceMapping, baseline *Baseline) ([]string, error) {
	root := s.paths.SourceDir(mapping.Name)
	patterns := append(baseline.MappingPatterns(mapping.Name), baseline.GlobalPatterns()...)
	prefix := s.paths.SourceRel(mapping.Name)

	var offending []string
	err := walkFiles(ctx, root, func(rel string) {
		if matchesAny(patterns, rel) {
			offending = append(offending, prefix+"/"+rel)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", mapping.Name, err)
	}
	return offending, nil
}

// ScanBaseRepository covers VMR content outside all mapped subtrees; only
// global patterns apply there.
func (s *CloakedScanner) ScanBaseRepository(ctx context.Context, baseline *Baseline) ([]string, error) {
	patterns := baseline.GlobalPatterns()
	sourcesRel := filepath.Base(s.paths.SourcesRoot())

	var offending []string
	err := walkTree(ctx, s.paths.Root, func(rel string, d fs.DirEntry) (skip bool) {
		if d.IsDir() {
			// Mapped subtrees are covered by their own scans; the rest of
			// src/ (patches, manifest) belongs to the base repository.
			if dir, name, ok := strings.Cut(rel, "/"); ok && dir == sourcesRel {
				_, isMapped := s.mapped[name]
				return isMapped
			}
			return false
		}
		if matchesAny(patterns, rel) {
			offending = append(offending, rel)
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("scan base repository: %w", err)
	}
	return offending, nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if appcfg.GlobMatch(p, rel) {
			return true
		}
	}
	return false
}

// walkFiles visits every regular file under root with its slash-form relative
// path. A missing root is an empty scan, not an error.
func walkFiles(ctx context.Context, root string, visit func(rel string)) error {
	return walkTree(ctx, root, func(rel string, d fs.DirEntry) bool {
		if !d.IsDir() {
			visit(rel)
		}
		return false
	})
}

func walkTree(ctx context.Context, root string, visit func(rel string, d fs.DirEntry) (skip bool)) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() && (d.Name() == ".git" || strings.HasPrefix(rel, ".git/")) {
			return filepath.SkipDir
		}
		if visit(rel, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
}
