// Package clone maintains the local clone cache: one working clone per
// mapping, fed by however many remotes it takes to make a revision
// resolvable. Downstream components always receive a fixed SHA, never a
// moving ref.
package clone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gogitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	appcfg "git.home.luguber.info/inful/vmrsync/internal/config"
	vmrerrors "git.home.luguber.info/inful/vmrsync/internal/errors"
	"git.home.luguber.info/inful/vmrsync/internal/logfields"
	"git.home.luguber.info/inful/vmrsync/internal/metrics"
	"git.home.luguber.info/inful/vmrsync/internal/retry"
)

// Manager owns the clone cache directory. Safe for concurrent use across
// mappings; calls for the same mapping serialize on a per-mapping lock.
type Manager struct {
	cacheDir string
	policy   retry.Policy

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(cacheDir string) *Manager {
	return &Manager{
		cacheDir: cacheDir,
		policy:   retry.DefaultPolicy(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// WithRetryPolicy overrides the transient-fetch retry policy.
func (m *Manager) WithRetryPolicy(p retry.Policy) *Manager {
	m.policy = p
	return m
}

// PrepareClone guarantees a local clone of the mapping containing revision,
// trying remotes in caller order (default remote first), and returns the
// clone path plus the concrete SHA the revision resolved to. The clone is
// left checked out at that SHA. An empty revision means the mapping's
// default ref.
func (m *Manager) PrepareClone(ctx context.Context, mapping *appcfg.SourceMapping, additionalRemotes []string, revision string) (string, string, error) {
	lock := m.mappingLock(mapping.Name)
	lock.Lock()
	defer lock.Unlock()

	if revision == "" {
		revision = mapping.Ref()
	}
	remotes := dedupe(append([]string{mapping.DefaultRemote}, additionalRemotes...))

	repo, path, err := m.openOrClone(ctx, mapping.Name, remotes)
	if err != nil {
		return "", "", err
	}

	// A revision already resolvable in the cached clone needs no fetch at all.
	hash, resolved := resolveLocal(repo, revision)
	for i := 0; !resolved && i < len(remotes); i++ {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		uri := remotes[i]
		remoteName := remoteNameFor(i)
		if err := m.fetchRemote(ctx, repo, mapping.Name, remoteName, uri); err != nil {
			slog.Warn("fetch failed, trying next remote",
				logfields.Mapping(mapping.Name), logfields.Remote(uri), logfields.Error(err))
			continue
		}
		hash, resolved = resolveRevision(repo, remoteName, revision)
	}
	if !resolved {
		hash = nil
	}
	if hash == nil {
		return "", "", &vmrerrors.RevisionNotFoundError{Mapping: mapping.Name, Revision: revision, Remotes: remotes}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", "", fmt.Errorf("worktree of %s clone: %w", mapping.Name, err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return "", "", fmt.Errorf("checkout %s at %s: %w", mapping.Name, hash, err)
	}
	slog.Debug("clone ready", logfields.Mapping(mapping.Name), logfields.SHA(hash.String()), logfields.Path(path))
	return path, hash.String(), nil
}

// Checkout re-checks-out an already prepared clone at a specific SHA. Used by
// the patch handler to materialize the previous revision's pristine files.
func (m *Manager) Checkout(mappingName, sha string) error {
	lock := m.mappingLock(mappingName)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(m.cacheDir, mappingName)
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("open clone of %s: %w", mappingName, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree of %s clone: %w", mappingName, err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: plumbing.NewHash(sha), Force: true}); err != nil {
		return fmt.Errorf("checkout %s at %s: %w", mappingName, sha, err)
	}
	return nil
}

func (m *Manager) mappingLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[name] = lock
	}
	return lock
}

func (m *Manager) openOrClone(ctx context.Context, name string, remotes []string) (*gogit.Repository, string, error) {
	path := filepath.Join(m.cacheDir, name)
	repo, err := gogit.PlainOpen(path)
	if err == nil {
		return repo, path, nil
	}
	if !errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, "", fmt.Errorf("open clone of %s: %w", name, err)
	}
	var lastErr error
	for _, uri := range remotes {
		slog.Info("cloning repository", logfields.Mapping(name), logfields.Remote(uri), logfields.Path(path))
		repo, err = gogit.PlainCloneContext(ctx, path, false, &gogit.CloneOptions{URL: uri, NoCheckout: true})
		if err == nil {
			metrics.RemoteFetchesTotal.Inc()
			return repo, path, nil
		}
		lastErr = err
		slog.Warn("clone failed, trying next remote", logfields.Mapping(name), logfields.Remote(uri), logfields.Error(err))
	}
	return nil, "", fmt.Errorf("clone %s: %w", name, lastErr)
}

// fetchRemote ensures remoteName points at exactly uri and fetches it,
// retrying transient failures per the manager's policy. The initial clone may
// have registered "origin" against a fallback URI, so a name whose URL
// disagrees is reconfigured rather than trusted.
func (m *Manager) fetchRemote(ctx context.Context, repo *gogit.Repository, mappingName, remoteName, uri string) error {
	remote, err := repo.Remote(remoteName)
	switch {
	case err == nil:
		urls := remote.Config().URLs
		if len(urls) == 0 || urls[0] != uri {
			if err := repo.DeleteRemote(remoteName); err != nil {
				return fmt.Errorf("reconfigure remote %s: %w", remoteName, err)
			}
			if _, err := repo.CreateRemote(&gogitcfg.RemoteConfig{Name: remoteName, URLs: []string{uri}}); err != nil {
				return fmt.Errorf("add remote %s (%s): %w", remoteName, uri, err)
			}
		}
	case errors.Is(err, gogit.ErrRemoteNotFound):
		if _, err := repo.CreateRemote(&gogitcfg.RemoteConfig{Name: remoteName, URLs: []string{uri}}); err != nil {
			return fmt.Errorf("add remote %s (%s): %w", remoteName, uri, err)
		}
	default:
		return fmt.Errorf("lookup remote %s: %w", remoteName, err)
	}
	refSpec := gogitcfg.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remoteName))

	var lastErr error
	for attempt := 0; attempt <= m.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying fetch",
				logfields.Mapping(mappingName), logfields.Remote(uri), slog.Int("attempt", attempt))
			select {
			case <-time.After(m.policy.Delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		metrics.RemoteFetchesTotal.Inc()
		err := repo.FetchContext(ctx, &gogit.FetchOptions{
			RemoteName: remoteName,
			RefSpecs:   []gogitcfg.RefSpec{refSpec},
			Tags:       gogit.AllTags,
		})
		if err == nil || errors.Is(err, gogit.NoErrAlreadyUpToDate) {
			return nil
		}
		lastErr = err
		if isPermanentFetchError(err) {
			return fmt.Errorf("fetch %s from %s: %w", mappingName, uri, err)
		}
	}
	return fmt.Errorf("fetch %s from %s: %w", mappingName, uri, lastErr)
}

// resolveLocal short-circuits revisions the cached clone can already answer:
// a concrete SHA whose commit object is present needs no fetch.
func resolveLocal(repo *gogit.Repository, revision string) (*plumbing.Hash, bool) {
	if plumbing.IsHash(revision) {
		h := plumbing.NewHash(revision)
		if _, err := repo.CommitObject(h); err == nil {
			return &h, true
		}
		return nil, false
	}
	return nil, false
}

// resolveRevision turns a ref name, short SHA or symbolic HEAD into a fixed
// hash, preferring remote-tracking refs of the remote just fetched.
func resolveRevision(repo *gogit.Repository, remoteName, revision string) (*plumbing.Hash, bool) {
	candidates := []string{
		remoteName + "/" + revision,
		revision,
	}
	if revision == "HEAD" {
		// Symbolic HEAD of the remote: its default branch tracking ref.
		candidates = []string{remoteName + "/HEAD", "HEAD", remoteName + "/main", remoteName + "/master"}
	}
	for _, c := range candidates {
		if h, err := repo.ResolveRevision(plumbing.Revision(c)); err == nil {
			return h, true
		}
	}
	return nil, false
}

func isPermanentFetchError(err error) bool {
	return errors.Is(err, transport.ErrRepositoryNotFound) ||
		errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		errors.Is(err, plumbing.ErrReferenceNotFound)
}

func remoteNameFor(index int) string {
	if index == 0 {
		return "origin"
	}
	return fmt.Sprintf("fallback-%d", index)
}

func dedupe(uris []string) []string {
	seen := make(map[string]struct{}, len(uris))
	out := uris[:0]
	for _, u := range uris {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
