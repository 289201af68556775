package sync

import (
	"context"
	"fmt"
	"log/slog"

	appcfg "git.home.luguber.info/inful/vmrsync/internal/config"
	"git.home.luguber.info/inful/vmrsync/internal/logfields"
	"git.home.luguber.info/inful/vmrsync/internal/tracker"
)

// DependencyUpdate is one unit of work: sync Mapping to TargetRevision.
// Parent links back to the update that introduced this dependency, forming
// the DAG the expansion uses to explain why a mapping is in the plan.
type DependencyUpdate struct {
	Mapping        *appcfg.SourceMapping
	RemoteURI      string
	TargetRevision string
	TargetVersion  string
	Parent         *DependencyUpdate
}

func (u *DependencyUpdate) remotes() []string {
	if u.RemoteURI == "" || u.RemoteURI == u.Mapping.DefaultRemote {
		return nil
	}
	return []string{u.RemoteURI}
}

// expandDependencies walks declared cross-repository dependencies breadth
// first, starting at root, and returns the deduplicated ordered update plan.
// A mapping already visited in this expansion, or already present in the VMR,
// is skipped rather than re-queued, which makes cycles terminate with each
// mapping visited at most once. Order is deterministic for a fixed mapping
// set and manifest: queue order follows declaration order. Caller-supplied
// additional remotes apply to the root update, same as in the sync loop.
func (o *Orchestrator) expandDependencies(ctx context.Context, root *DependencyUpdate, additionalRemotes []string) ([]*DependencyUpdate, error) {
	visited := map[string]struct{}{root.Mapping.Name: {}}
	queue := []*DependencyUpdate{root}
	var plan []*DependencyUpdate

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		update := queue[0]
		queue = queue[1:]
		plan = append(plan, update)

		remotes := update.remotes()
		if update == root {
			remotes = append(remotes, additionalRemotes...)
		}
		clonePath, sha, err := o.clones.PrepareClone(ctx, update.Mapping, remotes, update.TargetRevision)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", update.Mapping.Name, err)
		}
		// Pin the resolved SHA so the sync loop reuses the exact revision the
		// expansion saw.
		update.TargetRevision = sha

		declared, err := tracker.ReadVersionDetails(clonePath)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", update.Mapping.Name, err)
		}
		for _, dep := range declared {
			mapping, ok := o.tracker.Mapping(dep.Name)
			if !ok {
				slog.Debug("declared dependency has no mapping, skipping",
					logfields.Mapping(update.Mapping.Name), slog.String("dependency", dep.Name))
				continue
			}
			if _, seen := visited[dep.Name]; seen {
				continue
			}
			if _, present := o.tracker.CurrentVersion(dep.Name); present {
				continue
			}
			visited[dep.Name] = struct{}{}
			queue = append(queue, &DependencyUpdate{
				Mapping:        mapping,
				RemoteURI:      dep.URI,
				TargetRevision: dep.SHA,
				TargetVersion:  dep.Version,
				Parent:         update,
			})
		}
	}
	return plan, nil
}
