package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperengineering/cardvault/internal/scryfall"
	"github.com/parquet-go/parquet-go"
)

// SnapshotRecord is one decoded entry of a catalog snapshot. Err is set when
// the entry could not be decoded; the stream continues past it.
type SnapshotRecord struct {
	Position string
	Card     scryfall.Card
	Err      error
}

// SnapshotSource streams catalog snapshot entries.
type SnapshotSource interface {
	Each(ctx context.Context, fn func(SnapshotRecord) error) error
}

// FileSnapshot reads a snapshot file. The format follows the extension:
// .parquet, .jsonl, or .json (a JSON array, or one object per line).
type FileSnapshot struct {
	Path string
}

func (f FileSnapshot) Each(ctx context.Context, fn func(SnapshotRecord) error) error {
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".parquet":
		return f.eachParquet(ctx, fn)
	case ".jsonl", ".json":
		return f.eachJSON(ctx, fn)
	default:
		return fmt.Errorf("unsupported snapshot format: %s (supported: .json, .jsonl, .parquet)", filepath.Ext(f.Path))
	}
}

func (f FileSnapshot) eachJSON(ctx context.Context, fn func(SnapshotRecord) error) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	br := bufio.NewReaderSize(file, 1<<20)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	if first == '[' {
		return eachJSONArray(ctx, br, f.Path, fn)
	}
	return eachJSONLines(ctx, br, f.Path, fn)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// eachJSONArray streams the elements of a top-level array without holding the
// whole document. Type mismatches inside one element mark that element
// malformed; syntax errors abort the stream.
func eachJSONArray(ctx context.Context, r io.Reader, path string, fn func(SnapshotRecord) error) error {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := SnapshotRecord{Position: fmt.Sprintf("%s[%d]", path, i)}
		if err := dec.Decode(&rec.Card); err != nil {
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &typeErr) {
				return fmt.Errorf("decode snapshot at %s: %w", rec.Position, err)
			}
			rec.Err = err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func eachJSONLines(ctx context.Context, r io.Reader, path string, fn func(SnapshotRecord) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := SnapshotRecord{Position: fmt.Sprintf("%s:%d", path, line)}
		if err := json.Unmarshal([]byte(text), &rec.Card); err != nil {
			slog.Debug("failed to parse snapshot line", "position", rec.Position, "error", err)
			rec.Err = err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading snapshot: %w", err)
	}
	return nil
}

// parquetCard is the flattened column layout of a Parquet snapshot.
type parquetCard struct {
	ID              string   `parquet:"id"`
	Name            string   `parquet:"name"`
	Set             string   `parquet:"set,optional"`
	SetName         string   `parquet:"set_name"`
	CollectorNumber string   `parquet:"collector_number"`
	Rarity          string   `parquet:"rarity,optional"`
	Games           []string `parquet:"games,list"`
	PriceUSD        *string  `parquet:"price_usd,optional"`
	PriceUSDFoil    *string  `parquet:"price_usd_foil,optional"`
	ImageNormal     string   `parquet:"image_normal,optional"`
	ImageArtCrop    string   `parquet:"image_art_crop,optional"`
}

func (p *parquetCard) card() scryfall.Card {
	c := scryfall.Card{
		ID:              p.ID,
		Name:            p.Name,
		Set:             p.Set,
		SetName:         p.SetName,
		CollectorNumber: p.CollectorNumber,
		Rarity:          p.Rarity,
		Games:           p.Games,
		Prices:          scryfall.Prices{USD: p.PriceUSD, USDFoil: p.PriceUSDFoil},
	}
	if p.ImageNormal != "" || p.ImageArtCrop != "" {
		c.ImageURIs = &scryfall.ImageURIs{Normal: p.ImageNormal, ArtCrop: p.ImageArtCrop}
	}
	return c
}

func (f FileSnapshot) eachParquet(ctx context.Context, fn func(SnapshotRecord) error) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return fmt.Errorf("failed to open parquet: %w", err)
	}

	slog.Debug("parquet snapshot opened",
		"component", "importer",
		"num_rows", pf.NumRows(),
		"num_row_groups", len(pf.RowGroups()),
	)

	reader := parquet.NewGenericReader[parquetCard](pf)
	defer reader.Close()

	rows := make([]parquetCard, 128)
	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			rec := SnapshotRecord{
				Position: fmt.Sprintf("%s#%d", f.Path, index),
				Card:     rows[i].card(),
			}
			index++
			if err := fn(rec); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading parquet rows: %w", err)
		}
	}
}

// SliceSnapshot serves cards from memory.
type SliceSnapshot []scryfall.Card

func (s SliceSnapshot) Each(ctx context.Context, fn func(SnapshotRecord) error) error {
	for i, c := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(SnapshotRecord{Position: fmt.Sprintf("#%d", i), Card: c}); err != nil {
			return err
		}
	}
	return nil
}
