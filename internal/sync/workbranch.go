package sync

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/vmrsync/internal/git"
	"git.home.luguber.info/inful/vmrsync/internal/logfields"
)

// Work-branch prefixes. The prefix tells an operator what kind of run left a
// branch behind after a failure.
const (
	initBranchPrefix = "init/"
	syncBranchPrefix = "sync/"
)

// workBranch is the ephemeral isolation branch one orchestrator invocation
// stages its commits on. Created before any mutation, merged back on success,
// reported by name on failure. Never shared across invocations.
type workBranch struct {
	Original string
	Temp     string
}

// beginWorkBranch creates and checks out a fresh uniquely named work branch.
func beginWorkBranch(repo *git.LocalRepository, prefix, mappingName string) (*workBranch, error) {
	original, err := repo.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("determine original branch: %w", err)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	temp := prefix + mappingName + "-" + suffix
	if err := repo.CreateBranch(temp); err != nil {
		return nil, err
	}
	slog.Debug("created work branch", logfields.Branch(temp))
	return &workBranch{Original: original, Temp: temp}, nil
}

// reportAbandoned logs the branch an operator can inspect or resume from.
// Commits already on it are kept deliberately; partial progress is resumable.
func (w *workBranch) reportAbandoned(err error) {
	kind := "sync"
	if strings.HasPrefix(w.Temp, initBranchPrefix) {
		kind = "initialization"
	}
	slog.Error("leaving work branch in place after failed "+kind+"; inspect or resume from it",
		logfields.Branch(w.Temp), slog.String("original_branch", w.Original), logfields.Error(err))
}
