// Package sync holds the top-level state machine that pulls mapped
// repositories into the VMR: dependency expansion, work-branch isolation,
// per-mapping content sync with patch handling, and the squashed merge-back.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	appcfg "git.home.luguber.info/inful/vmrsync/internal/config"
	"git.home.luguber.info/inful/vmrsync/internal/clone"
	vmrerrors "git.home.luguber.info/inful/vmrsync/internal/errors"
	"git.home.luguber.info/inful/vmrsync/internal/git"
	"git.home.luguber.info/inful/vmrsync/internal/logfields"
	"git.home.luguber.info/inful/vmrsync/internal/metrics"
	"git.home.luguber.info/inful/vmrsync/internal/patches"
	"git.home.luguber.info/inful/vmrsync/internal/tracker"
	"git.home.luguber.info/inful/vmrsync/internal/workspace"
)

// Orchestrator drives one initialization or update request end to end. It is
// the single writer of the VMR working tree; only clone preparation and scans
// run concurrently underneath it.
type Orchestrator struct {
	tracker *tracker.Tracker
	clones  *clone.Manager
	patcher *patches.Handler
	repo    *git.LocalRepository
	paths   workspace.Paths
}

func NewOrchestrator(tr *tracker.Tracker, clones *clone.Manager, patcher *patches.Handler, repo *git.LocalRepository, paths workspace.Paths) *Orchestrator {
	return &Orchestrator{tracker: tr, clones: clones, patcher: patcher, repo: repo, paths: paths}
}

// InitializeRepository pulls a mapping into the VMR for the first time,
// optionally expanding its declared dependencies recursively. An empty
// targetRevision means the mapping's default ref.
func (o *Orchestrator) InitializeRepository(ctx context.Context, mappingName, targetRevision, targetVersion string, additionalRemotes []string, recursive bool) error {
	mapping, ok := o.tracker.Mapping(mappingName)
	if !ok {
		return &vmrerrors.ConfigurationError{Path: o.paths.MappingsPath(), Err: fmt.Errorf("unknown mapping %s", mappingName)}
	}
	if entry, present := o.tracker.CurrentVersion(mappingName); present {
		return &vmrerrors.AlreadyInitializedError{Mapping: mappingName, SHA: entry.SHA}
	}
	root := &DependencyUpdate{
		Mapping:        mapping,
		RemoteURI:      mapping.DefaultRemote,
		TargetRevision: targetRevision,
		TargetVersion:  targetVersion,
	}
	return o.run(ctx, root, additionalRemotes, recursive, initBranchPrefix)
}

// UpdateRepository syncs an already initialized mapping to a new revision,
// using the tracker's current SHA as the diff base.
func (o *Orchestrator) UpdateRepository(ctx context.Context, mappingName, targetRevision string, additionalRemotes []string, recursive bool) error {
	mapping, ok := o.tracker.Mapping(mappingName)
	if !ok {
		return &vmrerrors.ConfigurationError{Path: o.paths.MappingsPath(), Err: fmt.Errorf("unknown mapping %s", mappingName)}
	}
	if _, present := o.tracker.CurrentVersion(mappingName); !present {
		return fmt.Errorf("mapping %s is not initialized in this VMR; initialize it first", mappingName)
	}
	root := &DependencyUpdate{
		Mapping:        mapping,
		RemoteURI:      mapping.DefaultRemote,
		TargetRevision: targetRevision,
	}
	return o.run(ctx, root, additionalRemotes, recursive, syncBranchPrefix)
}

// run executes the shared state machine: expand, branch, per-update loop,
// finalize. Any failure after branch creation leaves the branch in place as
// the unit of recoverable work.
func (o *Orchestrator) run(ctx context.Context, root *DependencyUpdate, additionalRemotes []string, recursive bool, branchPrefix string) error {
	plan := []*DependencyUpdate{root}
	if recursive {
		expanded, err := o.expandDependencies(ctx, root, additionalRemotes)
		if err != nil {
			return err
		}
		plan = expanded
	}
	slog.Info("sync plan resolved", logfields.Mapping(root.Mapping.Name), logfields.Count(len(plan)))

	// Checked before branching so a dead context never leaves an empty work
	// branch behind.
	if err := ctx.Err(); err != nil {
		return err
	}
	branch, err := beginWorkBranch(o.repo, branchPrefix, root.Mapping.Name)
	if err != nil {
		return err
	}

	synced, err := o.applyPlan(ctx, plan, root, additionalRemotes)
	if err != nil {
		branch.reportAbandoned(err)
		return fmt.Errorf("work branch %s: %w", branch.Temp, err)
	}
	if len(synced) == 0 {
		// Nothing changed; drop the empty work branch.
		if err := o.repo.Checkout(branch.Original); err != nil {
			return err
		}
		if err := o.repo.DeleteBranch(branch.Temp); err != nil {
			return err
		}
		slog.Info("already up to date", logfields.Mapping(root.Mapping.Name))
		return nil
	}
	mergeSHA, err := o.repo.SquashMerge(branch.Original, mergeBackMessage(synced))
	if err != nil {
		branch.reportAbandoned(err)
		return fmt.Errorf("work branch %s: merge back: %w", branch.Temp, err)
	}
	slog.Info("merged work branch", logfields.Branch(branch.Original), logfields.ShortSHA(mergeSHA), logfields.Count(len(synced)))
	return nil
}

func (o *Orchestrator) applyPlan(ctx context.Context, plan []*DependencyUpdate, root *DependencyUpdate, additionalRemotes []string) ([]syncedMapping, error) {
	var synced []syncedMapping
	for _, update := range plan {
		// Cancellation is honored between mappings, never mid-write.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := update.Mapping.Name
		_, present := o.tracker.CurrentVersion(name)
		if !present {
			if _, err := os.Stat(o.paths.SourceDir(name)); err == nil {
				// Defensive re-check against a concurrent or partial prior
				// run: content exists although the manifest has no entry.
				slog.Warn("target path already exists without manifest entry, skipping",
					logfields.Mapping(name), logfields.Path(o.paths.SourceDir(name)))
				continue
			}
		}
		remotes := update.remotes()
		if update == root {
			remotes = append(remotes, additionalRemotes...)
		}
		sha, err := o.syncOne(ctx, update, remotes)
		if err != nil {
			metrics.SyncsTotal.WithLabelValues(name, "failure").Inc()
			return nil, err
		}
		if sha == "" {
			continue // already at target
		}
		metrics.SyncsTotal.WithLabelValues(name, "success").Inc()
		synced = append(synced, syncedMapping{Name: name, SHA: sha})
	}
	return synced, nil
}

// syncOne materializes the clone, strips and reapplies patches around a pure
// content replacement, records the manifest entry and commits. Returns the
// synced SHA, or empty when the mapping was already at the target revision.
func (o *Orchestrator) syncOne(ctx context.Context, update *DependencyUpdate, remotes []string) (string, error) {
	mapping := update.Mapping
	entry, present := o.tracker.CurrentVersion(mapping.Name)
	prevSHA := ""
	if present {
		prevSHA = entry.SHA
	}

	clonePath, sha, err := o.clones.PrepareClone(ctx, mapping, remotes, update.TargetRevision)
	if err != nil {
		return "", err
	}
	if sha == prevSHA {
		slog.Info("mapping already at target revision", logfields.Mapping(mapping.Name), logfields.ShortSHA(sha))
		return "", nil
	}
	slog.Info("syncing mapping", logfields.Mapping(mapping.Name), logfields.ShortSHA(sha))

	var toReapply []patches.IngestionPatch
	if prevSHA == "" {
		toReapply, err = o.patcher.VmrPatches(mapping)
		if err != nil {
			return "", err
		}
	} else {
		// Strip applied patches against the previous upstream revision so the
		// content replacement below cannot conflict with them.
		if err := o.clones.Checkout(mapping.Name, prevSHA); err != nil {
			return "", err
		}
		toReapply, err = o.patcher.RestorePatchedFiles(ctx, mapping, clonePath, prevSHA)
		if err != nil {
			return "", err
		}
		if err := o.clones.Checkout(mapping.Name, sha); err != nil {
			return "", err
		}
	}

	if err := syncContent(clonePath, o.paths.SourceDir(mapping.Name), mapping); err != nil {
		return "", err
	}
	if err := o.patcher.ApplyPatches(ctx, toReapply); err != nil {
		return "", err
	}

	remoteURI := update.RemoteURI
	if remoteURI == "" {
		remoteURI = mapping.DefaultRemote
	}
	// Written before the commit so manifest and tree land in the same commit
	// and cannot diverge on success.
	if err := o.tracker.RecordVersion(tracker.ManifestEntry{
		Name:      mapping.Name,
		RemoteURI: remoteURI,
		SHA:       sha,
		Version:   update.TargetVersion,
	}); err != nil {
		return "", err
	}

	message := initialCommitMessage(mapping.Name, remoteURI, sha)
	if prevSHA != "" {
		message = updateCommitMessage(mapping.Name, remoteURI, prevSHA, sha)
	}
	commitSHA, err := o.repo.CommitAll(message)
	if err != nil {
		return "", fmt.Errorf("commit %s sync: %w", mapping.Name, err)
	}
	slog.Debug("committed mapping sync", logfields.Mapping(mapping.Name), logfields.ShortSHA(commitSHA))
	return sha, nil
}

// Mappings exposes the tracker's mapping set for callers composing scans.
func (o *Orchestrator) Mappings() []appcfg.SourceMapping {
	return o.tracker.Mappings()
}
