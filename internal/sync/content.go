package sync

import (
	"fmt"
	"os"
	"path/filepath"

	cp "github.com/otiai10/copy"

	appcfg "git.home.luguber.info/inful/vmrsync/internal/config"
)

// syncContent replaces the mapping's VMR subtree with the clone's checked-out
// content, filtered by the mapping's include/exclude rules. Patch handling
// happens around this call, which keeps it a pure tree replacement.
func syncContent(clonePath, targetDir string, mapping *appcfg.SourceMapping) error {
	if err := os.RemoveAll(targetDir); err != nil {
		return fmt.Errorf("clear %s subtree: %w", mapping.Name, err)
	}
	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return fmt.Errorf("create %s subtree: %w", mapping.Name, err)
	}
	opts := cp.Options{
		OnSymlink: func(string) cp.SymlinkAction { return cp.Skip },
		// Filtering is per file; directories pass through because an empty
		// directory never reaches a git commit anyway.
		Skip: func(info os.FileInfo, src, dest string) (bool, error) {
			rel, err := filepath.Rel(clonePath, src)
			if err != nil {
				return false, err
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return false, nil
			}
			if info.IsDir() {
				return rel == ".git", nil
			}
			return !mapping.Matches(rel), nil
		},
	}
	if err := cp.Copy(clonePath, targetDir, opts); err != nil {
		return fmt.Errorf("copy %s content: %w", mapping.Name, err)
	}
	return nil
}
