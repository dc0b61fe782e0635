package store

import (
	"database/sql"
	"testing"
	"time"
)

func TestMigrateCardV1toV2_MapsEveryOwnershipField(t *testing.T) {
	updated := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	in := cardRowV1{
		ScryfallID:      "a",
		Name:            "Bolt",
		SetName:         "Alpha",
		CollectorNumber: "161",
		Rarity:          "Mythic",
		Games:           "paper,arena",
		Quantity:        3,
		FoilQuantity:    2,
		Price:           sql.NullFloat64{Float64: 19.99, Valid: true},
		LastUpdated:     updated,
	}

	out := migrateCardV1toV2(in)

	if out.ScryfallID != "a" || out.Name != "Bolt" || out.SetName != "Alpha" || out.CollectorNumber != "161" {
		t.Errorf("identity fields not copied: %+v", out)
	}
	if out.Quantity != 3 || out.FoilQuantity != 2 {
		t.Errorf("quantities = %d/%d, want 3/2", out.Quantity, out.FoilQuantity)
	}
	if !out.PriceCents.Valid || out.PriceCents.Int64 != 1999 {
		t.Errorf("price cents = %+v, want 1999", out.PriceCents)
	}
	if out.FoilPriceCents.Valid {
		t.Error("null foil price must stay null")
	}
	if out.Rarity != "mythic" {
		t.Errorf("rarity = %q, want mythic", out.Rarity)
	}
	if !out.LastUpdated.Equal(updated) {
		t.Errorf("last updated = %v, want %v", out.LastUpdated, updated)
	}
}

func TestDollarsToCents_Rounds(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{0.1 + 0.2, 30},
		{2.675, 268},
		{0, 0},
		{1234.56, 123456},
	}
	for _, tt := range tests {
		got := dollarsToCents(sql.NullFloat64{Float64: tt.in, Valid: true})
		if got.Int64 != tt.want {
			t.Errorf("dollarsToCents(%v) = %d, want %d", tt.in, got.Int64, tt.want)
		}
	}
}

func TestLegacyTime_AcceptsDriverShapes(t *testing.T) {
	want := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
	}{
		{"time", want},
		{"sqlite text", "2023-05-01 10:00:00"},
		{"rfc3339", "2023-05-01T10:00:00Z"},
		{"bytes", []byte("2023-05-01 10:00:00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := legacyTime(tt.in); !got.Equal(want) {
				t.Errorf("legacyTime(%v) = %v, want %v", tt.in, got, want)
			}
		})
	}
	if !legacyTime(nil).IsZero() {
		t.Error("nil should map to zero time")
	}
}
