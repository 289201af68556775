package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Mapping           string   `arg:"" help:"Name of the source mapping to initialize"`
	Revision          string   `help:"Branch, tag or commit SHA to pull (defaults to the mapping's ref)"`
	SourceVersion     string   `name:"source-version" help:"Package or product version to record alongside the SHA"`
	AdditionalRemotes []string `help:"Extra remote URIs to try when resolving the revision"`
	Recursive         bool     `help:"Also initialize declared dependencies of the repository"`
}

// Run executes the init command.
func (cmd *InitCmd) Run(_ *Global, root *CLI) error {
	eng, err := buildEngine(root)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.orch.InitializeRepository(ctx, cmd.Mapping, cmd.Revision, cmd.SourceVersion, cmd.AdditionalRemotes, cmd.Recursive); err != nil {
		return err
	}
	entry, _ := eng.tracker.CurrentVersion(cmd.Mapping)
	fmt.Printf("Initialized %s at %s\n", cmd.Mapping, entry.SHA)
	return nil
}
