package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/vmrsync/internal/clone"
	vmrerrors "git.home.luguber.info/inful/vmrsync/internal/errors"
	"git.home.luguber.info/inful/vmrsync/internal/git"
	"git.home.luguber.info/inful/vmrsync/internal/patches"
	"git.home.luguber.info/inful/vmrsync/internal/tracker"
	"git.home.luguber.info/inful/vmrsync/internal/workspace"
)

type fixture struct {
	paths    workspace.Paths
	repo     *git.LocalRepository
	tracker  *tracker.Tracker
	clones   *clone.Manager
	orch     *Orchestrator
	cacheDir string
}

// newFixture builds a VMR checkout with a committed mapping document and a
// separate clone cache directory.
func newFixture(t *testing.T, mappingsYAML string) *fixture {
	t.Helper()
	root := t.TempDir()
	paths := workspace.New(root)

	_, err := gogit.PlainInitWithOptions(root, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(paths.SourcesRoot(), 0o750))
	require.NoError(t, os.WriteFile(paths.MappingsPath(), []byte(mappingsYAML), 0o600))

	repo, err := git.Open(root)
	require.NoError(t, err)
	_, err = repo.CommitAll("seed vmr")
	require.NoError(t, err)

	tr := tracker.New(paths)
	require.NoError(t, tr.InitializeMappings(""))

	cacheDir := t.TempDir()
	clones := clone.NewManager(cacheDir)
	patcher := patches.NewHandler(paths)

	return &fixture{
		paths:    paths,
		repo:     repo,
		tracker:  tr,
		clones:   clones,
		orch:     NewOrchestrator(tr, clones, patcher, repo, paths),
		cacheDir: cacheDir,
	}
}

// seedUpstream creates an upstream repository directly in the clone cache so
// PrepareClone resolves pinned SHAs without any network fetch.
func seedUpstream(t *testing.T, cacheDir, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(cacheDir, name)
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		repo, err = gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
			InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
		})
		require.NoError(t, err)
	}
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		_, err = wt.Add(filepath.ToSlash(rel))
		require.NoError(t, err)
	}
	sha, err := wt.Commit("upstream change", &gogit.CommitOptions{
		Author: &object.Signature{Name: "upstream", Email: "upstream@example.com"},
	})
	require.NoError(t, err)
	return sha.String()
}

const arcadeOnly = `
mappings:
  - name: arcade
    default_remote: https://example.com/arcade
    default_ref: main
`

const arcadeAndRuntime = `
mappings:
  - name: arcade
    default_remote: https://example.com/arcade
    default_ref: main
  - name: runtime
    default_remote: https://example.com/runtime
    default_ref: main
`

// TestInitializeRepository covers the first-pull scenario: content lands
// under src/<name>, the manifest records the concrete SHA and the work branch
// merges back as one commit on the original branch.
func TestInitializeRepository(t *testing.T) {
	f := newFixture(t, arcadeOnly)
	sha := seedUpstream(t, f.cacheDir, "arcade", map[string]string{
		"README.md":   "arcade readme\n",
		"src/game.cs": "class Game {}\n",
	})
	headBefore, err := f.repo.HeadSHA()
	require.NoError(t, err)

	require.NoError(t, f.orch.InitializeRepository(context.Background(), "arcade", sha, "9.0.0", nil, false))

	require.FileExists(t, filepath.Join(f.paths.SourceDir("arcade"), "README.md"))
	require.FileExists(t, filepath.Join(f.paths.SourceDir("arcade"), "src", "game.cs"))

	entry, ok := f.tracker.CurrentVersion("arcade")
	require.True(t, ok)
	require.Equal(t, sha, entry.SHA)
	require.Equal(t, "9.0.0", entry.Version)
	require.Equal(t, "https://example.com/arcade", entry.RemoteURI)

	// Back on main with exactly one merge-back commit over the seed.
	branch, err := f.repo.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "main", branch)
	head, err := f.repo.HeadSHA()
	require.NoError(t, err)
	require.NotEqual(t, headBefore, head)

	msg, err := f.repo.CommitMessage(head)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg, "[arcade] Sync to "+shortSHA(sha)), "merge message %q", msg)
	require.Contains(t, msg, AutomationCommitTag)
}

// TestInitializeTwiceFails asserts idempotence: the second initialization
// fails with AlreadyInitializedError and mutates nothing.
func TestInitializeTwiceFails(t *testing.T) {
	f := newFixture(t, arcadeOnly)
	sha := seedUpstream(t, f.cacheDir, "arcade", map[string]string{"README.md": "x\n"})
	require.NoError(t, f.orch.InitializeRepository(context.Background(), "arcade", sha, "", nil, false))

	headBefore, err := f.repo.HeadSHA()
	require.NoError(t, err)

	err = f.orch.InitializeRepository(context.Background(), "arcade", sha, "", nil, false)
	var already *vmrerrors.AlreadyInitializedError
	require.ErrorAs(t, err, &already)
	require.Equal(t, "arcade", already.Mapping)
	require.Equal(t, sha, already.SHA)

	headAfter, err := f.repo.HeadSHA()
	require.NoError(t, err)
	require.Equal(t, headBefore, headAfter, "no tree mutation on the second call")
}

func TestInitializeUnknownMapping(t *testing.T) {
	f := newFixture(t, arcadeOnly)
	var cfgErr *vmrerrors.ConfigurationError
	require.ErrorAs(t, f.orch.InitializeRepository(context.Background(), "nope", "", "", nil, false), &cfgErr)
}

// TestInitializeAppliesCloakingAndPatches checks that excluded files never
// reach the VMR tree and VMR patches apply on top of the synced content.
func TestInitializeAppliesCloakingAndPatches(t *testing.T) {
	f := newFixture(t, `
mappings:
  - name: arcade
    default_remote: https://example.com/arcade
    exclude:
      - "*.dll"
`)
	patchDir := filepath.Join(f.paths.PatchesDir(), "arcade")
	require.NoError(t, os.MkdirAll(patchDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(patchDir, "0001-branding.patch"), []byte(`diff --git a/README.md b/README.md
--- a/README.md
+++ b/README.md
@@ -1 +1 @@
-hello upstream
+hello vmr
`), 0o600))
	_, err := f.repo.CommitAll("add arcade patch")
	require.NoError(t, err)

	sha := seedUpstream(t, f.cacheDir, "arcade", map[string]string{
		"README.md":      "hello upstream\n",
		"bin/native.dll": "binary\n",
	})
	require.NoError(t, f.orch.InitializeRepository(context.Background(), "arcade", sha, "", nil, false))

	readme, err := os.ReadFile(filepath.Join(f.paths.SourceDir("arcade"), "README.md"))
	require.NoError(t, err)
	require.Equal(t, "hello vmr\n", string(readme))
	require.NoFileExists(t, filepath.Join(f.paths.SourceDir("arcade"), "bin", "native.dll"))
}

// TestRecursiveInitializationWithCycle seeds two upstreams that declare each
// other as dependencies; expansion must terminate and initialize each exactly
// once.
func TestRecursiveInitializationWithCycle(t *testing.T) {
	f := newFixture(t, arcadeAndRuntime)

	runtimeSHA := seedUpstream(t, f.cacheDir, "runtime", map[string]string{
		"runtime.txt": "runtime\n",
	})
	// arcade depends on runtime; runtime (cyclically) depends on arcade.
	arcadeSHA := seedUpstream(t, f.cacheDir, "arcade", map[string]string{
		"arcade.txt": "arcade\n",
		"eng/version-details.yaml": `dependencies:
  - name: runtime
    uri: https://example.com/runtime
    sha: ` + runtimeSHA + "\n",
	})
	seedUpstream(t, f.cacheDir, "runtime", map[string]string{
		"eng/version-details.yaml": `dependencies:
  - name: arcade
    uri: https://example.com/arcade
    sha: ` + arcadeSHA + "\n",
	})
	// Re-pin runtime to its new tip (with the cyclic dependency file).
	runtimeRepo, err := gogit.PlainOpen(filepath.Join(f.cacheDir, "runtime"))
	require.NoError(t, err)
	head, err := runtimeRepo.Head()
	require.NoError(t, err)
	runtimeTip := head.Hash().String()

	// Point arcade's declaration at the runtime tip.
	arcadeSHA = seedUpstream(t, f.cacheDir, "arcade", map[string]string{
		"eng/version-details.yaml": `dependencies:
  - name: runtime
    uri: https://example.com/runtime
    sha: ` + runtimeTip + "\n",
	})

	require.NoError(t, f.orch.InitializeRepository(context.Background(), "arcade", arcadeSHA, "", nil, true))

	arcadeEntry, ok := f.tracker.CurrentVersion("arcade")
	require.True(t, ok)
	require.Equal(t, arcadeSHA, arcadeEntry.SHA)
	runtimeEntry, ok := f.tracker.CurrentVersion("runtime")
	require.True(t, ok)
	require.Equal(t, runtimeTip, runtimeEntry.SHA)

	require.FileExists(t, filepath.Join(f.paths.SourceDir("arcade"), "arcade.txt"))
	require.FileExists(t, filepath.Join(f.paths.SourceDir("runtime"), "runtime.txt"))
}

// TestExpansionSkipsMappingsAlreadyInVmr initializes runtime first, then
// arcade recursively; runtime's manifest entry must stay untouched.
func TestExpansionSkipsMappingsAlreadyInVmr(t *testing.T) {
	f := newFixture(t, arcadeAndRuntime)
	runtimeSHA := seedUpstream(t, f.cacheDir, "runtime", map[string]string{"runtime.txt": "v1\n"})
	require.NoError(t, f.orch.InitializeRepository(context.Background(), "runtime", runtimeSHA, "", nil, false))

	newerRuntimeSHA := seedUpstream(t, f.cacheDir, "runtime", map[string]string{"runtime.txt": "v2\n"})
	arcadeSHA := seedUpstream(t, f.cacheDir, "arcade", map[string]string{
		"arcade.txt": "arcade\n",
		"eng/version-details.yaml": `dependencies:
  - name: runtime
    uri: https://example.com/runtime
    sha: ` + newerRuntimeSHA + "\n",
	})
	require.NoError(t, f.orch.InitializeRepository(context.Background(), "arcade", arcadeSHA, "", nil, true))

	entry, ok := f.tracker.CurrentVersion("runtime")
	require.True(t, ok)
	require.Equal(t, runtimeSHA, entry.SHA, "already present mapping must be skipped, not re-queued")
}

// TestUpdateRepository syncs an initialized mapping to a newer revision.
func TestUpdateRepository(t *testing.T) {
	f := newFixture(t, arcadeOnly)
	first := seedUpstream(t, f.cacheDir, "arcade", map[string]string{"one.txt": "one\n"})
	require.NoError(t, f.orch.InitializeRepository(context.Background(), "arcade", first, "", nil, false))

	second := seedUpstream(t, f.cacheDir, "arcade", map[string]string{"two.txt": "two\n"})
	require.NoError(t, f.orch.UpdateRepository(context.Background(), "arcade", second, nil, false))

	require.FileExists(t, filepath.Join(f.paths.SourceDir("arcade"), "two.txt"))
	entry, _ := f.tracker.CurrentVersion("arcade")
	require.Equal(t, second, entry.SHA)

	head, err := f.repo.HeadSHA()
	require.NoError(t, err)
	msg, err := f.repo.CommitMessage(head)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg, "[arcade] Sync to "+shortSHA(second)), "merge message %q", msg)
}

func TestUpdateSameRevisionIsNoOp(t *testing.T) {
	f := newFixture(t, arcadeOnly)
	sha := seedUpstream(t, f.cacheDir, "arcade", map[string]string{"one.txt": "one\n"})
	require.NoError(t, f.orch.InitializeRepository(context.Background(), "arcade", sha, "", nil, false))

	headBefore, err := f.repo.HeadSHA()
	require.NoError(t, err)
	require.NoError(t, f.orch.UpdateRepository(context.Background(), "arcade", sha, nil, false))
	headAfter, err := f.repo.HeadSHA()
	require.NoError(t, err)
	require.Equal(t, headBefore, headAfter)

	// The empty work branch is cleaned up.
	branch, err := f.repo.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestUpdateUninitializedMappingFails(t *testing.T) {
	f := newFixture(t, arcadeOnly)
	err := f.orch.UpdateRepository(context.Background(), "arcade", "", nil, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

// TestPatchConflictLeavesRecoverableState drives an update whose VMR patch no
// longer applies: the run fails with PatchConflictError, no merge-back
// happens and the work branch stays for inspection.
func TestPatchConflictLeavesRecoverableState(t *testing.T) {
	f := newFixture(t, arcadeOnly)
	first := seedUpstream(t, f.cacheDir, "arcade", map[string]string{"README.md": "hello upstream\n"})
	require.NoError(t, f.orch.InitializeRepository(context.Background(), "arcade", first, "", nil, false))

	// A patch that matched the first revision, committed into the VMR.
	patchDir := filepath.Join(f.paths.PatchesDir(), "arcade")
	require.NoError(t, os.MkdirAll(patchDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(patchDir, "0001-branding.patch"), []byte(`diff --git a/README.md b/README.md
--- a/README.md
+++ b/README.md
@@ -1 +1 @@
-hello upstream
+hello vmr
`), 0o600))
	_, err := f.repo.CommitAll("add arcade patch")
	require.NoError(t, err)
	mainHead, err := f.repo.HeadSHA()
	require.NoError(t, err)

	// Upstream rewrites the file; the patch context no longer matches.
	second := seedUpstream(t, f.cacheDir, "arcade", map[string]string{"README.md": "rewritten entirely\n"})

	err = f.orch.UpdateRepository(context.Background(), "arcade", second, nil, false)
	var conflict *vmrerrors.PatchConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "0001-branding.patch", conflict.Patch)
	require.Contains(t, err.Error(), "sync/arcade-", "failure must surface the work branch name")

	// The original branch did not move; the work branch is still checked out
	// with the conflicting tree for inspection.
	branch, err := f.repo.CurrentBranch()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(branch, syncBranchPrefix+"arcade-"), "work branch %q", branch)
	raw, err := gogit.PlainOpen(f.paths.Root)
	require.NoError(t, err)
	mainRef, err := raw.Reference(plumbing.NewBranchReferenceName("main"), true)
	require.NoError(t, err)
	require.Equal(t, mainHead, mainRef.Hash().String())
}

// TestExpansionPlanOrderIsDeterministic runs the same expansion repeatedly
// and expects identical plan order each time.
func TestExpansionPlanOrderIsDeterministic(t *testing.T) {
	f := newFixture(t, `
mappings:
  - name: arcade
    default_remote: https://example.com/arcade
  - name: runtime
    default_remote: https://example.com/runtime
  - name: sdk
    default_remote: https://example.com/sdk
`)
	runtimeSHA := seedUpstream(t, f.cacheDir, "runtime", map[string]string{"r.txt": "r\n"})
	sdkSHA := seedUpstream(t, f.cacheDir, "sdk", map[string]string{"s.txt": "s\n"})
	arcadeSHA := seedUpstream(t, f.cacheDir, "arcade", map[string]string{
		"a.txt": "a\n",
		"eng/version-details.yaml": `dependencies:
  - name: runtime
    uri: https://example.com/runtime
    sha: ` + runtimeSHA + `
  - name: sdk
    uri: https://example.com/sdk
    sha: ` + sdkSHA + "\n",
	})

	mapping, _ := f.tracker.Mapping("arcade")
	var want []string
	for i := 0; i < 5; i++ {
		root := &DependencyUpdate{Mapping: mapping, RemoteURI: mapping.DefaultRemote, TargetRevision: arcadeSHA}
		plan, err := f.orch.expandDependencies(context.Background(), root, nil)
		require.NoError(t, err)
		var names []string
		for _, u := range plan {
			names = append(names, u.Mapping.Name)
		}
		if want == nil {
			want = names
			require.Equal(t, []string{"arcade", "runtime", "sdk"}, names)
		}
		require.Equal(t, want, names)
	}
}

func TestCancelledContextStopsBeforeMutation(t *testing.T) {
	f := newFixture(t, arcadeOnly)
	sha := seedUpstream(t, f.cacheDir, "arcade", map[string]string{"one.txt": "one\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.orch.InitializeRepository(ctx, "arcade", sha, "", nil, false)
	require.ErrorIs(t, err, context.Canceled)
	require.NoDirExists(t, f.paths.SourceDir("arcade"))

	// No work branch was created for the aborted run.
	branch, err := f.repo.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "main", branch)
	raw, err := gogit.PlainOpen(f.paths.Root)
	require.NoError(t, err)
	branches, err := raw.Branches()
	require.NoError(t, err)
	require.NoError(t, branches.ForEach(func(ref *plumbing.Reference) error {
		require.False(t, strings.HasPrefix(ref.Name().Short(), initBranchPrefix),
			"stray work branch %s", ref.Name().Short())
		return nil
	}))
}

// TestRecursiveInitializeHonorsAdditionalRemotes drives a recursive run whose
// default remote is dead; the caller-supplied mirror must serve the root
// update during expansion exactly as it does in a non-recursive run.
func TestRecursiveInitializeHonorsAdditionalRemotes(t *testing.T) {
	f := newFixture(t, `
mappings:
  - name: arcade
    default_remote: /nonexistent/unreachable-arcade
`)
	upstreamBase := t.TempDir()
	sha := seedUpstream(t, upstreamBase, "arcade", map[string]string{"README.md": "arcade\n"})
	mirror := filepath.Join(upstreamBase, "arcade")

	require.NoError(t, f.orch.InitializeRepository(context.Background(), "arcade", sha, "", []string{mirror}, true))

	entry, ok := f.tracker.CurrentVersion("arcade")
	require.True(t, ok)
	require.Equal(t, sha, entry.SHA)
	require.FileExists(t, filepath.Join(f.paths.SourceDir("arcade"), "README.md"))
}

// TestPatchConflictKeepsPriorMappingCommits runs two mappings in one
// recursive initialization; the second one's patch conflicts, and the first
// one's commit must survive on the abandoned work branch.
func TestPatchConflictKeepsPriorMappingCommits(t *testing.T) {
	f := newFixture(t, arcadeAndRuntime)

	runtimeSHA := seedUpstream(t, f.cacheDir, "runtime", map[string]string{"README.md": "rewritten entirely\n"})
	arcadeSHA := seedUpstream(t, f.cacheDir, "arcade", map[string]string{
		"arcade.txt": "arcade\n",
		"eng/version-details.yaml": `dependencies:
  - name: runtime
    uri: https://example.com/runtime
    sha: ` + runtimeSHA + "\n",
	})

	// A runtime patch whose context does not match the upstream content.
	patchDir := filepath.Join(f.paths.PatchesDir(), "runtime")
	require.NoError(t, os.MkdirAll(patchDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(patchDir, "0001-branding.patch"), []byte(`diff --git a/README.md b/README.md
--- a/README.md
+++ b/README.md
@@ -1 +1 @@
-hello upstream
+hello vmr
`), 0o600))
	_, err := f.repo.CommitAll("add runtime patch")
	require.NoError(t, err)
	mainHead, err := f.repo.HeadSHA()
	require.NoError(t, err)

	err = f.orch.InitializeRepository(context.Background(), "arcade", arcadeSHA, "", nil, true)
	var conflict *vmrerrors.PatchConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "0001-branding.patch", conflict.Patch)

	// Arcade committed before runtime conflicted; its commit is the tip of
	// the abandoned work branch the checkout is still on.
	branch, err := f.repo.CurrentBranch()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(branch, initBranchPrefix+"arcade-"), "work branch %q", branch)
	head, err := f.repo.HeadSHA()
	require.NoError(t, err)
	msg, err := f.repo.CommitMessage(head)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg, "[arcade] Initial pull of the individual repository ("+shortSHA(arcadeSHA)+")"),
		"work branch tip %q", msg)

	entry, ok := f.tracker.CurrentVersion("arcade")
	require.True(t, ok)
	require.Equal(t, arcadeSHA, entry.SHA)
	_, ok = f.tracker.CurrentVersion("runtime")
	require.False(t, ok, "conflicted mapping must not be recorded")

	// main did not move.
	raw, err := gogit.PlainOpen(f.paths.Root)
	require.NoError(t, err)
	mainRef, err := raw.Reference(plumbing.NewBranchReferenceName("main"), true)
	require.NoError(t, err)
	require.Equal(t, mainHead, mainRef.Hash().String())
}
