package scryfall

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// AnnotatedSuffix marks CSV files written by the annotator.
const AnnotatedSuffix = "_with_scryfall.csv"

var annotatedColumns = []string{"scryfall_id", "collector_number", "scryfall_set", "scryfall_rarity"}

// Lookuper resolves a named card to a catalog printing.
type Lookuper interface {
	Lookup(ctx context.Context, name, setLabel, number string) (*Card, error)
}

// AnnotateResult is the per-file outcome of an annotation pass.
type AnnotateResult struct {
	Input   string `json:"input"`
	Output  string `json:"output"`
	Label   string `json:"label"`
	Total   int    `json:"total"`
	Matched int    `json:"matched"`
}

// Annotator adds catalog identifiers to plain inventory CSV files.
type Annotator struct {
	lookup  Lookuper
	workers int
}

// NewAnnotator creates an Annotator processing up to workers files at once.
func NewAnnotator(lookup Lookuper, workers int) *Annotator {
	if workers <= 0 {
		workers = 3
	}
	return &Annotator{lookup: lookup, workers: workers}
}

// AnnotateDir annotates every plain CSV under dir. Files without a Name
// column are skipped. Results are sorted by input path.
func (a *Annotator) AnnotateDir(ctx context.Context, dir string) ([]AnnotateResult, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || !strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, AnnotatedSuffix) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)

	results := make([]*AnnotateResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, f := range files {
		g.Go(func() error {
			r, err := a.AnnotateFile(ctx, f)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]AnnotateResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// AnnotateFile writes <stem>_with_scryfall.csv next to path. It returns nil
// without error when the file has no Name column.
func (a *Annotator) AnnotateFile(ctx context.Context, path string) (*AnnotateResult, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}

	nameCol, numberCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "Name":
			nameCol = i
		case "Number":
			numberCol = i
		}
	}
	if nameCol < 0 {
		slog.Info("skipping file without Name column",
			"component", "annotate",
			"file", path,
		)
		return nil, nil
	}

	label := strings.TrimSuffix(filepath.Base(path), ".csv")
	res := &AnnotateResult{
		Input:  path,
		Output: strings.TrimSuffix(path, ".csv") + AnnotatedSuffix,
		Label:  label,
	}

	rows := [][]string{append(append([]string{}, header...), annotatedColumns...)}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		res.Total++

		// Short rows are padded so the added columns line up.
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		var number string
		if numberCol >= 0 {
			number = strings.TrimSpace(rec[numberCol])
		}

		extra := make([]string, len(annotatedColumns))
		card, err := a.lookup.Lookup(ctx, strings.TrimSpace(rec[nameCol]), label, number)
		switch {
		case err == nil:
			res.Matched++
			extra = []string{card.ID, card.CollectorNumber, card.Set, card.Rarity}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case !errors.Is(err, ErrNoMatch):
			slog.Warn("card lookup failed",
				"component", "annotate",
				"file", path,
				"name", rec[nameCol],
				"error", err,
			)
		}
		rows = append(rows, append(rec[:len(header):len(header)], extra...))
	}

	if err := writeCSV(res.Output, rows); err != nil {
		return nil, err
	}

	slog.Info("file annotated",
		"component", "annotate",
		"label", label,
		"total", res.Total,
		"matched", res.Matched,
		"output", res.Output,
	)
	return res, nil
}

func writeCSV(path string, rows [][]string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
