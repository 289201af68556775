// Package patches manages VMR-owned patches: the diffs the VMR maintains on
// top of synced upstream content. The handler is a pure transform between
// "clean upstream tree" and "patched tree"; it holds no persistent state.
package patches

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	appcfg "git.home.luguber.info/inful/vmrsync/internal/config"
	vmrerrors "git.home.luguber.info/inful/vmrsync/internal/errors"
	"git.home.luguber.info/inful/vmrsync/internal/logfields"
	"git.home.luguber.info/inful/vmrsync/internal/metrics"
	"git.home.luguber.info/inful/vmrsync/internal/workspace"
)

// IngestionPatch is one patch file plus the VMR subtree it applies to.
type IngestionPatch struct {
	PatchFile string // absolute path of the .patch file
	TargetDir string // absolute path of the tree the patch applies to
}

// Handler resolves and applies the patches of one VMR checkout.
type Handler struct {
	paths workspace.Paths
}

func NewHandler(paths workspace.Paths) *Handler {
	return &Handler{paths: paths}
}

// VmrPatches returns the mapping's ordered patch list: the explicit order from
// configuration when given, otherwise lexicographic discovery of
// patches/<mapping>/*.patch. Order is significant and reapplication reuses it.
func (h *Handler) VmrPatches(mapping *appcfg.SourceMapping) ([]IngestionPatch, error) {
	dir := filepath.Join(h.paths.PatchesDir(), mapping.Name)
	target := h.paths.SourceDir(mapping.Name)

	if len(mapping.Patches) > 0 {
		out := make([]IngestionPatch, 0, len(mapping.Patches))
		for _, name := range mapping.Patches {
			out = append(out, IngestionPatch{PatchFile: filepath.Join(dir, name), TargetDir: target})
		}
		return out, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read patch dir for %s: %w", mapping.Name, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".patch" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make([]IngestionPatch, 0, len(names))
	for _, name := range names {
		out = append(out, IngestionPatch{PatchFile: filepath.Join(dir, name), TargetDir: target})
	}
	return out, nil
}

// RestorePatchedFiles undoes previously applied patches before a content sync
// by copying each touched file's pristine upstream version from the clone
// (which the caller has checked out at the previous revision) back over the
// VMR subtree. Files a patch created are deleted. Returns the patches to
// reapply after the sync. With no previous revision there is nothing to
// restore and the mapping's own patches are returned unchanged.
func (h *Handler) RestorePatchedFiles(ctx context.Context, mapping *appcfg.SourceMapping, clonePath, prevSHA string) ([]IngestionPatch, error) {
	vmrPatches, err := h.VmrPatches(mapping)
	if err != nil {
		return nil, err
	}
	if prevSHA == "" {
		return vmrPatches, nil
	}
	target := h.paths.SourceDir(mapping.Name)
	for _, patch := range vmrPatches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		touched, err := patchedPaths(patch.PatchFile)
		if err != nil {
			return nil, err
		}
		for _, rel := range touched {
			pristine := filepath.Join(clonePath, rel)
			dest := filepath.Join(target, rel)
			if _, err := os.Stat(pristine); os.IsNotExist(err) {
				// The patch introduced this file; drop it before the sync.
				if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
					return nil, fmt.Errorf("remove patched file %s: %w", dest, err)
				}
				continue
			}
			if err := copyFile(pristine, dest); err != nil {
				return nil, fmt.Errorf("restore %s for %s: %w", rel, mapping.Name, err)
			}
		}
		slog.Debug("stripped patch", logfields.Mapping(mapping.Name), logfields.Patch(filepath.Base(patch.PatchFile)))
	}
	return vmrPatches, nil
}

// ApplyPatches applies patches strictly in list order. The first conflict
// aborts the whole application with a PatchConflictError naming the patch and
// the offending path; no automatic resolution is attempted.
func (h *Handler) ApplyPatches(ctx context.Context, patchList []IngestionPatch) error {
	for _, patch := range patchList {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := applyOne(patch); err != nil {
			metrics.PatchApplicationsTotal.WithLabelValues("failure").Inc()
			return err
		}
		metrics.PatchApplicationsTotal.WithLabelValues("success").Inc()
		slog.Debug("applied patch", logfields.Patch(filepath.Base(patch.PatchFile)), logfields.Path(patch.TargetDir))
	}
	return nil
}

func applyOne(patch IngestionPatch) error {
	f, err := os.Open(patch.PatchFile)
	if err != nil {
		return fmt.Errorf("open patch %s: %w", patch.PatchFile, err)
	}
	defer f.Close()

	files, _, err := gitdiff.Parse(f)
	if err != nil {
		return fmt.Errorf("parse patch %s: %w", patch.PatchFile, err)
	}
	patchName := filepath.Base(patch.PatchFile)

	for _, file := range files {
		oldPath := filepath.Join(patch.TargetDir, filepath.FromSlash(file.OldName))
		newPath := filepath.Join(patch.TargetDir, filepath.FromSlash(file.NewName))

		var src []byte
		if !file.IsNew {
			src, err = os.ReadFile(oldPath)
			if err != nil {
				return &vmrerrors.PatchConflictError{Patch: patchName, Path: file.OldName, Err: err}
			}
		}
		var out bytes.Buffer
		if err := gitdiff.Apply(&out, bytes.NewReader(src), file); err != nil {
			target := file.NewName
			if target == "" {
				target = file.OldName
			}
			return &vmrerrors.PatchConflictError{Patch: patchName, Path: target, Err: err}
		}
		if file.IsDelete {
			if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete %s per patch %s: %w", file.OldName, patchName, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(newPath), 0o750); err != nil {
			return fmt.Errorf("create dir for %s: %w", file.NewName, err)
		}
		if err := os.WriteFile(newPath, out.Bytes(), fileMode(file)); err != nil {
			return fmt.Errorf("write %s per patch %s: %w", file.NewName, patchName, err)
		}
		if file.IsRename && oldPath != newPath {
			if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove renamed %s: %w", file.OldName, err)
			}
		}
	}
	return nil
}

// patchedPaths lists every repository-relative path a patch touches.
func patchedPaths(patchFile string) ([]string, error) {
	f, err := os.Open(patchFile)
	if err != nil {
		return nil, fmt.Errorf("open patch %s: %w", patchFile, err)
	}
	defer f.Close()
	files, _, err := gitdiff.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse patch %s: %w", patchFile, err)
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, file := range files {
		add(file.OldName)
		add(file.NewName)
	}
	return out, nil
}

func fileMode(file *gitdiff.File) fs.FileMode {
	if file.NewMode != 0 {
		return fs.FileMode(file.NewMode.Perm())
	}
	return 0o644
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}
