package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// UpdateCmd implements the 'update' command.
type UpdateCmd struct {
	Mapping           string   `arg:"" help:"Name of the source mapping to update"`
	Revision          string   `help:"Branch, tag or commit SHA to sync to (defaults to the mapping's ref)"`
	AdditionalRemotes []string `help:"Extra remote URIs to try when resolving the revision"`
	Recursive         bool     `help:"Also update declared dependencies of the repository"`
}

// Run executes the update command.
func (cmd *UpdateCmd) Run(_ *Global, root *CLI) error {
	eng, err := buildEngine(root)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.orch.UpdateRepository(ctx, cmd.Mapping, cmd.Revision, cmd.AdditionalRemotes, cmd.Recursive); err != nil {
		return err
	}
	entry, _ := eng.tracker.CurrentVersion(cmd.Mapping)
	fmt.Printf("Synced %s to %s\n", cmd.Mapping, entry.SHA)
	return nil
}
