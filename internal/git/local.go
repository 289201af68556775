// Package git wraps the go-git plumbing the sync engine needs on the VMR
// checkout itself: branch lifecycle, staged commits and the squash merge-back.
// Policy (what to commit, when to branch) stays in the orchestrator.
package git

import (
	"fmt"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Committer identity stamped on every automation commit.
const (
	AuthorName  = "vmrsync"
	AuthorEmail = "vmrsync@automation.local"
)

// LocalRepository is a narrow handle on the VMR working checkout.
type LocalRepository struct {
	path string
	repo *gogit.Repository
}

// Open opens an existing non-bare repository at path.
func Open(path string) (*LocalRepository, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return &LocalRepository{path: path, repo: repo}, nil
}

// Path returns the checkout root.
func (r *LocalRepository) Path() string { return r.path }

// CurrentBranch returns the short name of the checked-out branch.
func (r *LocalRepository) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached at %s", head.Hash())
	}
	return head.Name().Short(), nil
}

// HeadSHA returns the commit the checkout currently points at.
func (r *LocalRepository) HeadSHA() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// CreateBranch creates branch name at the current HEAD and checks it out.
func (r *LocalRepository) CreateBranch(name string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	opts := &gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name), Create: true}
	if err := wt.Checkout(opts); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// Checkout switches to an existing branch.
func (r *LocalRepository) Checkout(name string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name)}); err != nil {
		return fmt.Errorf("checkout %s: %w", name, err)
	}
	return nil
}

// CommitAll stages every change in the worktree and commits it. An empty
// worktree is an error; callers only commit after mutating the tree.
func (r *LocalRepository) CommitAll(message string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	sha, err := wt.Commit(message, &gogit.CommitOptions{Author: signature()})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return sha.String(), nil
}

// SquashMerge collapses everything committed on the current (work) branch
// since it diverged from ontoBranch into a single commit, advances ontoBranch
// to it, checks ontoBranch out and deletes the work branch. The work branch
// must descend directly from ontoBranch's tip.
func (r *LocalRepository) SquashMerge(ontoBranch, message string) (string, error) {
	workBranch, err := r.CurrentBranch()
	if err != nil {
		return "", err
	}
	ontoRef, err := r.repo.Reference(plumbing.NewBranchReferenceName(ontoBranch), true)
	if err != nil {
		return "", fmt.Errorf("resolve branch %s: %w", ontoBranch, err)
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	// Soft reset keeps the index at the work branch tip, so the next commit
	// carries the full squashed tree with ontoBranch's tip as sole parent.
	if err := wt.Reset(&gogit.ResetOptions{Commit: ontoRef.Hash(), Mode: gogit.SoftReset}); err != nil {
		return "", fmt.Errorf("soft reset to %s: %w", ontoBranch, err)
	}
	sha, err := wt.Commit(message, &gogit.CommitOptions{Author: signature()})
	if err != nil {
		return "", fmt.Errorf("squash commit: %w", err)
	}
	ontoName := plumbing.NewBranchReferenceName(ontoBranch)
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(ontoName, sha)); err != nil {
		return "", fmt.Errorf("advance %s: %w", ontoBranch, err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Branch: ontoName}); err != nil {
		return "", fmt.Errorf("checkout %s: %w", ontoBranch, err)
	}
	if err := r.DeleteBranch(workBranch); err != nil {
		return "", err
	}
	return sha.String(), nil
}

// DeleteBranch removes a local branch reference.
func (r *LocalRepository) DeleteBranch(name string) error {
	if err := r.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name)); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	return nil
}

// CommitMessage returns the full message of a commit, for audit assertions.
func (r *LocalRepository) CommitMessage(sha string) (string, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", sha, err)
	}
	return commit.Message, nil
}

func signature() *object.Signature {
	return &object.Signature{Name: AuthorName, Email: AuthorEmail, When: time.Now()}
}
