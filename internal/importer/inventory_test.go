package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirInventory_Records(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	write("standard/dominaria_united_with_scryfall.csv",
		"Name,Set,Qty,Foil,scryfall_id,collector_number\n"+
			"Shock,DMU,2,FALSE,id-1,144\n"+
			"Shock,DMU,1,true,id-1,144\n"+
			"Bad,DMU,many,FALSE,id-2,1\n"+
			"Unmatched,DMU,1,FALSE,,\n")
	write("standard/dominaria_united.csv", "Name,Qty\nShock,9\n")

	recs, malformed, err := DirInventory{Dir: dir}.Records(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, malformed)
	require.Len(t, recs, 3)

	assert.Equal(t, "id-1", recs[0].ExternalID)
	assert.Equal(t, 2, recs[0].Quantity)
	assert.False(t, recs[0].IsFoil)
	assert.Equal(t, "Dominaria United", recs[0].PartitionLabel)
	assert.Equal(t, "144", recs[0].SequenceNumber)
	assert.Contains(t, recs[0].Source, "dominaria_united_with_scryfall.csv:2")

	assert.True(t, recs[1].IsFoil)

	assert.Empty(t, recs[2].ExternalID)
	assert.Equal(t, "Unmatched", recs[2].Name)
}

func TestDirInventory_MissingRequiredColumns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x_with_scryfall.csv"),
		[]byte("Name,scryfall_id\nShock,id-1\nBolt,id-2\n"), 0644))

	recs, malformed, err := DirInventory{Dir: dir}.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 2, malformed)
}

func TestPartitionLabel(t *testing.T) {
	assert.Equal(t, "Dominaria United", PartitionLabel("sets/dominaria_united_with_scryfall.csv"))
	assert.Equal(t, "Alpha", PartitionLabel("Alpha.csv"))
	assert.Equal(t, "M21", PartitionLabel("M21_with_scryfall.csv"))
}
