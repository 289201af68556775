package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"git.home.luguber.info/inful/vmrsync/internal/cloak"
	vmrerrors "git.home.luguber.info/inful/vmrsync/internal/errors"
)

// ScanCmd implements the 'scan' command.
type ScanCmd struct {
	Baseline string `short:"b" help:"Path to the cloak baseline file" default:".cloak-baseline"`
}

// Run executes the scan command.
func (cmd *ScanCmd) Run(_ *Global, root *CLI) error {
	eng, err := buildEngine(root)
	if err != nil {
		return err
	}
	baselinePath := cmd.Baseline
	if !filepath.IsAbs(baselinePath) {
		baselinePath = filepath.Join(eng.paths.Root, baselinePath)
	}
	baseline, err := cloak.LoadBaseline(baselinePath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mappings := eng.tracker.Mappings()
	scanner := cloak.NewCloakedScanner(eng.paths, mappings)
	files, err := cloak.Run(ctx, scanner, baseline, mappings)
	if err != nil {
		return err
	}
	if len(files) > 0 {
		for _, f := range files {
			fmt.Println(f)
		}
		return &vmrerrors.CloakViolationError{Files: files}
	}
	fmt.Println("No cloaked files found")
	return nil
}
