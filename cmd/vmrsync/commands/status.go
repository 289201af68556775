package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct{}

// Run prints one line per configured mapping with its tracked revision.
func (cmd *StatusCmd) Run(_ *Global, root *CLI) error {
	eng, err := buildEngine(root)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "MAPPING\tSTATE\tREVISION\tVERSION")
	for _, m := range eng.tracker.Mappings() {
		entry, ok := eng.tracker.CurrentVersion(m.Name)
		if !ok {
			fmt.Fprintf(w, "%s\tnot initialized\t-\t-\n", m.Name)
			continue
		}
		version := entry.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(w, "%s\tsynced\t%s\t%s\n", m.Name, entry.SHA, version)
	}
	return w.Flush()
}
