package main

import (
	"fmt"

	"github.com/hyperengineering/cardvault/internal/collection"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show catalog database details and the last import",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	coll, cleanup, err := openCollection(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	info := &collection.Info{Path: coll.Path(), NeedsImport: true}
	h, err := coll.Open(ctx)
	switch {
	case collection.IsUnavailable(err):
	case err != nil:
		return err
	default:
		if info, err = h.Info(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, info)
	}

	fmt.Fprintf(out, "Path:          %s\n", info.Path)
	if info.SchemaVersion == 0 {
		fmt.Fprintln(out, "Status:        not imported (run `cardvault import`)")
		return nil
	}
	fmt.Fprintf(out, "Size:          %s\n", formatSize(info.SizeBytes))
	fmt.Fprintf(out, "Schema:        v%d\n", info.SchemaVersion)
	fmt.Fprintf(out, "Catalog items: %d\n", info.CatalogItems)
	if !info.Created.IsZero() {
		fmt.Fprintf(out, "Created:       %s\n", info.Created.Format("2006-01-02 15:04:05 MST"))
	}
	if r := info.LastImport; r != nil {
		fmt.Fprintf(out, "Last import:   %s (%s, %d seeded, %d applied, %d unresolved)\n",
			r.FinishedAt.Format("2006-01-02 15:04:05 MST"), r.RunID, r.Seeded, r.Applied, r.Unresolved)
	}
	return nil
}
