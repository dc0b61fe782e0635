package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/hyperengineering/cardvault/internal/types"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [set]",
	Short: "Show collection stats, globally or for one set",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

var rarityOrder = []types.Rarity{
	types.RarityCommon,
	types.RarityUncommon,
	types.RarityRare,
	types.RarityMythic,
	types.RarityOther,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	coll, cleanup, err := openCollection(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	h, err := coll.Open(ctx)
	if err != nil {
		return err
	}

	var view *types.StatsView
	if len(args) == 1 {
		view, err = h.Stats.Partition(ctx, args[0])
	} else {
		view, err = h.Stats.Global(ctx)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, view)
	}
	return printStatsView(out, view)
}

func printStatsView(w io.Writer, v *types.StatsView) error {
	fmt.Fprintf(w, "Scope:         %s\n", v.Scope)
	fmt.Fprintf(w, "Unique owned:  %d / %d (%s)\n", v.UniqueOwnedCount, v.TotalPossibleCount,
		formatPercent(v.UniqueOwnedCount, v.TotalPossibleCount))
	fmt.Fprintf(w, "Total copies:  %d\n", v.TotalCopies)
	fmt.Fprintf(w, "Total value:   %s\n", formatMoney(v.TotalValue))
	if v.Stale {
		fmt.Fprintln(w, "(stale: catalog could not be read, figures may be out of date)")
	}
	if len(v.ByRarity) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	var rows [][]string
	for _, r := range rarityOrder {
		rs, ok := v.ByRarity[r]
		if !ok {
			continue
		}
		rows = append(rows, []string{string(r), strconv.Itoa(rs.Owned), strconv.Itoa(rs.Total), strconv.Itoa(rs.Copies)})
	}
	return renderTable(w, []string{"RARITY", "OWNED", "TOTAL", "COPIES"}, rows)
}

var (
	setsSort string
	setsDesc bool
)

var setsCmd = &cobra.Command{
	Use:   "sets",
	Short: "List sets with completion and value",
	Args:  cobra.NoArgs,
	RunE:  runSets,
}

func init() {
	setsCmd.Flags().StringVar(&setsSort, "sort", "name", "Sort by name, completion, value or cards")
	setsCmd.Flags().BoolVar(&setsDesc, "desc", false, "Sort descending")
}

func runSets(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	coll, cleanup, err := openCollection(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	h, err := coll.Open(ctx)
	if err != nil {
		return err
	}

	sets, err := h.Store.ListPartitions(ctx, types.ParsePartitionSort(setsSort), setsDesc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, sets)
	}

	if len(sets) == 0 {
		fmt.Fprintln(out, "No sets found.")
		return nil
	}

	rows := make([][]string, 0, len(sets))
	for _, s := range sets {
		rows = append(rows, []string{
			s.PartitionKey,
			strconv.Itoa(s.OwnedCount),
			strconv.Itoa(s.TotalPossible),
			formatPercent(s.OwnedCount, s.TotalPossible),
			strconv.Itoa(s.TotalCopies),
			formatMoney(s.TotalValue),
		})
	}
	return renderTable(out, []string{"SET", "OWNED", "TOTAL", "COMPLETE", "COPIES", "VALUE"}, rows)
}
