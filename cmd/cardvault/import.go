package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hyperengineering/cardvault/internal/collection"
	"github.com/hyperengineering/cardvault/internal/config"
	"github.com/hyperengineering/cardvault/internal/importer"
	"github.com/hyperengineering/cardvault/internal/store"
	"github.com/hyperengineering/cardvault/internal/types"
	"github.com/spf13/cobra"
)

var (
	importSnapshot  string
	importInventory string
	importRefresh   string
	importMedium    string
	importResolve   bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Seed the catalog from a snapshot and reconcile owned quantities",
	Long: "Seeds every snapshot printing available in the tracked medium, then " +
		"overwrites quantities from the annotated inventory CSVs. The whole run " +
		"commits or rolls back as one unit.",
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importSnapshot, "snapshot", "", "Catalog snapshot file (.json, .jsonl, .parquet)")
	importCmd.Flags().StringVar(&importInventory, "inventory", "", "Directory of *_with_scryfall.csv inventory files")
	importCmd.Flags().StringVar(&importRefresh, "refresh", "", "Rewrite existing rows: none, prices or metadata")
	importCmd.Flags().StringVar(&importMedium, "medium", "", "Only seed printings available in this medium")
	importCmd.Flags().BoolVar(&importResolve, "resolve", false, "Look up inventory rows without an id through the catalog API")
}

type importSettings struct {
	snapshot, inventory string
	opts                importer.Options
	resolve             bool
}

func importSettingsFromConfig(c *config.Config) importSettings {
	return importSettings{
		snapshot:  c.Import.SnapshotPath,
		inventory: c.Import.InventoryDir,
		resolve:   c.Import.ResolveMissing,
		opts: importer.Options{
			Medium:             c.Import.Medium,
			Refresh:            store.RefreshPolicy(c.Import.Refresh),
			ResolveConcurrency: c.Import.ResolveConcurrency,
		},
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s := importSettingsFromConfig(cfg)
	if importSnapshot != "" {
		s.snapshot = importSnapshot
	}
	if importInventory != "" {
		s.inventory = importInventory
	}
	if importRefresh != "" {
		s.opts.Refresh = store.RefreshPolicy(importRefresh)
	}
	if importMedium != "" {
		s.opts.Medium = importMedium
	}
	if importResolve {
		s.resolve = true
	}

	coll, cleanup, err := openCollection(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := runImportWith(ctx, coll, s)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, report)
	}
	printImportReport(out, report)
	return nil
}

func runImportWith(ctx context.Context, coll *collection.Collection, s importSettings) (*types.ImportReport, error) {
	if s.resolve {
		s.opts.Resolver = newScryfallClient(cfg.Scryfall)
	}
	return coll.Import(ctx,
		importer.FileSnapshot{Path: s.snapshot},
		importer.DirInventory{Dir: s.inventory},
		s.opts,
	)
}

func printImportReport(w io.Writer, r *types.ImportReport) {
	fmt.Fprintf(w, "Import %s finished in %s\n", r.RunID, r.Duration().Round(time.Millisecond))

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "SNAPSHOT\t")
	fmt.Fprintf(tw, "  records\t%d\n", r.SnapshotRecords)
	fmt.Fprintf(tw, "  seeded\t%d\n", r.Seeded)
	fmt.Fprintf(tw, "  already present\t%d\n", r.AlreadyPresent)
	fmt.Fprintf(tw, "  refreshed\t%d\n", r.Refreshed)
	fmt.Fprintf(tw, "  unavailable in medium\t%d\n", r.UnavailableMedium)
	fmt.Fprintf(tw, "  malformed\t%d\n", r.MalformedSnapshot)
	if r.DuplicateSnapshot > 0 {
		fmt.Fprintf(tw, "  duplicates\t%d\n", r.DuplicateSnapshot)
	}
	fmt.Fprintln(tw, "INVENTORY\t")
	fmt.Fprintf(tw, "  records\t%d\n", r.InventoryRecords)
	fmt.Fprintf(tw, "  applied\t%d\n", r.Applied)
	fmt.Fprintf(tw, "  unresolved\t%d\n", r.Unresolved)
	fmt.Fprintf(tw, "  malformed\t%d\n", r.MalformedInventory)
	if r.ResolvedByLookup > 0 {
		fmt.Fprintf(tw, "  resolved by lookup\t%d\n", r.ResolvedByLookup)
	}
	tw.Flush()
}
