package main

import (
	"fmt"
	"path/filepath"

	"github.com/hyperengineering/cardvault/internal/scryfall"
	"github.com/spf13/cobra"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <dir>",
	Short: "Add catalog ids to inventory CSVs",
	Long: "Looks up every row of each CSV under dir and writes " +
		"<name>" + scryfall.AnnotatedSuffix + " next to it, ready for import.",
	Args: cobra.ExactArgs(1),
	RunE: runAnnotate,
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	client := newScryfallClient(cfg.Scryfall)
	annotator := scryfall.NewAnnotator(client, cfg.Scryfall.AnnotateWorkers)

	results, err := annotator.AnnotateDir(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No inventory files found.")
		return nil
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.Label, fmt.Sprintf("%d/%d", r.Matched, r.Total), filepath.Base(r.Output)})
	}
	return renderTable(out, []string{"SET", "MATCHED", "OUTPUT"}, rows)
}
