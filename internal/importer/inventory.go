package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperengineering/cardvault/internal/scryfall"
	"github.com/hyperengineering/cardvault/internal/types"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// InventorySource yields the owned-stack records of one import run.
// malformed counts records skipped because a required field was missing or
// unreadable.
type InventorySource interface {
	Records(ctx context.Context) (records []types.InventoryRecord, malformed int, err error)
}

// DirInventory reads every annotated CSV file under Dir.
type DirInventory struct {
	Dir string
}

func (d DirInventory) Records(ctx context.Context) ([]types.InventoryRecord, int, error) {
	var files []string
	err := filepath.WalkDir(d.Dir, func(path string, e os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.IsDir() && strings.HasSuffix(e.Name(), scryfall.AnnotatedSuffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan inventory %s: %w", d.Dir, err)
	}
	// Later files win on duplicate stacks.
	sort.Strings(files)

	var (
		records   []types.InventoryRecord
		malformed int
	)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		recs, bad, err := readInventoryFile(f)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, recs...)
		malformed += bad
	}
	return records, malformed, nil
}

// PartitionLabel derives the human label of an inventory file from its name:
// "dominaria_united_with_scryfall.csv" becomes "Dominaria United".
func PartitionLabel(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), scryfall.AnnotatedSuffix)
	stem = strings.TrimSuffix(stem, ".csv")
	stem = strings.Join(strings.Fields(strings.ReplaceAll(stem, "_", " ")), " ")
	return cases.Title(language.English, cases.NoLower).String(stem)
}

type inventoryColumns struct {
	qty, foil, id, name, number int
}

func inventoryHeader(header []string) inventoryColumns {
	cols := inventoryColumns{qty: -1, foil: -1, id: -1, name: -1, number: -1}
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "Qty":
			cols.qty = i
		case "Foil":
			cols.foil = i
		case "scryfall_id":
			cols.id = i
		case "Name":
			cols.name = i
		case "collector_number":
			cols.number = i
		case "Number":
			if cols.number < 0 {
				cols.number = i
			}
		}
	}
	return cols
}

func readInventoryFile(path string) ([]types.InventoryRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open inventory file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read inventory header %s: %w", path, err)
	}
	cols := inventoryHeader(header)
	label := PartitionLabel(path)

	var (
		records   []types.InventoryRecord
		malformed int
	)
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				malformed++
				continue
			}
			return nil, 0, fmt.Errorf("read inventory %s: %w", path, err)
		}

		rec, ok := parseInventoryRow(row, cols)
		if !ok {
			malformed++
			continue
		}
		rec.PartitionLabel = label
		rec.Source = fmt.Sprintf("%s:%d", path, line)
		records = append(records, rec)
	}
	return records, malformed, nil
}

func parseInventoryRow(row []string, cols inventoryColumns) (types.InventoryRecord, bool) {
	field := func(i int) (string, bool) {
		if i < 0 || i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	qtyText, ok := field(cols.qty)
	if !ok {
		return types.InventoryRecord{}, false
	}
	qty, err := strconv.Atoi(qtyText)
	if err != nil || qty < 0 {
		return types.InventoryRecord{}, false
	}
	foil, ok := field(cols.foil)
	if !ok {
		return types.InventoryRecord{}, false
	}
	id, hasID := field(cols.id)
	name, _ := field(cols.name)
	if !hasID && name == "" {
		return types.InventoryRecord{}, false
	}
	number, _ := field(cols.number)

	return types.InventoryRecord{
		Name:           name,
		SequenceNumber: number,
		Quantity:       qty,
		IsFoil:         strings.EqualFold(foil, "TRUE"),
		ExternalID:     id,
	}, true
}

// SliceInventory serves records from memory.
type SliceInventory []types.InventoryRecord

func (s SliceInventory) Records(context.Context) ([]types.InventoryRecord, int, error) {
	return s, 0, nil
}
