package core

import (
	"testing"
	"time"
)

func TestTupleKeyNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	ts := time.Date(2024, 5, 1, 20, 0, 0, 0, loc)

	a := Interaction{UserID: "u1", ItemID: "i1", Type: InteractionView, Timestamp: ts}
	b := Interaction{UserID: "u1", ItemID: "i1", Type: InteractionView, Timestamp: ts.UTC()}
	if a.TupleKey() != b.TupleKey() {
		t.Fatalf("same instant must share a key: %q vs %q", a.TupleKey(), b.TupleKey())
	}

	c := Interaction{UserID: "u1", ItemID: "i1", Type: InteractionView, Timestamp: ts.Add(time.Nanosecond)}
	if a.TupleKey() == c.TupleKey() {
		t.Fatal("different timestamps must not collide")
	}
}

func TestWeightTable(t *testing.T) {
	table := DefaultWeightTable()

	cases := []struct {
		typ  InteractionType
		want float64
	}{
		{InteractionView, 1},
		{InteractionLike, 2},
		{InteractionCart, 3},
		{InteractionPurchase, 5},
		{InteractionWishlist, 2.5},
	}
	for _, tc := range cases {
		got, err := table.Weight(tc.typ)
		if err != nil {
			t.Fatalf("Weight(%s): %v", tc.typ, err)
		}
		if got != tc.want {
			t.Errorf("Weight(%s) = %v, want %v", tc.typ, got, tc.want)
		}
	}

	if _, err := table.Weight("teleport"); !IsValidation(err) {
		t.Errorf("unknown type: err = %v, want validation", err)
	}
	if table.MaxWeight() != 5 {
		t.Errorf("MaxWeight = %v, want 5", table.MaxWeight())
	}
}

func TestWeightTableValidate(t *testing.T) {
	table := DefaultWeightTable()
	ts := time.Now()

	cases := []struct {
		name string
		in   Interaction
		ok   bool
	}{
		{"valid", Interaction{UserID: "u1", ItemID: "i1", Type: InteractionView, Timestamp: ts}, true},
		{"missing user", Interaction{ItemID: "i1", Type: InteractionView, Timestamp: ts}, false},
		{"missing item", Interaction{UserID: "u1", Type: InteractionView, Timestamp: ts}, false},
		{"unknown type", Interaction{UserID: "u1", ItemID: "i1", Type: "poke", Timestamp: ts}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := table.Validate(tc.in)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !IsValidation(err) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
}
