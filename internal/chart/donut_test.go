package chart

import (
	"math"
	"strings"
	"testing"

	"moneymap/internal/core"
)

func TestNewDonutEmpty(t *testing.T) {
	d := NewDonut(nil)
	if !d.Empty() || d.Title != "Expenses by Category" {
		t.Fatalf("expected empty titled chart, got %+v", d)
	}
}

func TestNewDonutSlices(t *testing.T) {
	rows := []core.Expense{
		{Category: core.Food, Amount: core.Money{Cents: 3000}},
		{Category: core.Transport, Amount: core.Money{Cents: 500}},
		{Category: core.Health, Amount: core.Money{Cents: 500}},
	}
	d := NewDonut(core.Breakdown(rows))
	if len(d.Slices) != 3 {
		t.Fatalf("expected 3 slices, got %d", len(d.Slices))
	}
	if d.Total.Cents != 4000 {
		t.Fatalf("expected total 4000, got %d", d.Total.Cents)
	}

	var sum float64
	for i, s := range d.Slices {
		sum += s.Percent
		if s.Color != Palette[i] {
			t.Fatalf("slice %d: expected palette color %s, got %s", i, Palette[i], s.Color)
		}
		if !strings.HasPrefix(s.Path, "M ") || !strings.HasSuffix(s.Path, "Z") {
			t.Fatalf("slice %d: malformed path %q", i, s.Path)
		}
		r := math.Hypot(s.LabelX, s.LabelY)
		if math.Abs(r-LabelRadius) > 1e-3 {
			t.Fatalf("slice %d: label radius %f", i, r)
		}
	}
	if math.Abs(sum-100) > 1e-9 {
		t.Fatalf("percentages sum to %f", sum)
	}
	if d.Slices[0].Label != "Food" || d.Slices[0].PercentLabel() != "75.0%" {
		t.Fatalf("unexpected first slice: %+v", d.Slices[0])
	}
	// The first slice is larger than half the ring.
	if !strings.Contains(d.Slices[0].Path, "A 1 1 0 1 0") {
		t.Fatalf("expected large-arc flag on dominant slice: %s", d.Slices[0].Path)
	}
}

func TestNewDonutLargeAmounts(t *testing.T) {
	rows := []core.Expense{
		{Category: core.Food, Amount: core.Money{Cents: 3_000_000_000_000_000}},
		{Category: core.Utilities, Amount: core.Money{Cents: 1_000_000_000_000_000}},
	}
	d := NewDonut(core.Breakdown(rows))
	if len(d.Slices) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(d.Slices))
	}
	if d.Slices[0].PercentLabel() != "75.0%" || d.Slices[1].PercentLabel() != "25.0%" {
		t.Fatalf("unexpected shares: %s %s", d.Slices[0].PercentLabel(), d.Slices[1].PercentLabel())
	}
}

func TestNewDonutSingleCategoryDrawsFullRing(t *testing.T) {
	d := NewDonut([]core.CategoryAmount{{Name: "Food", Amount: core.Money{Cents: 100}}})
	if len(d.Slices) != 1 {
		t.Fatalf("expected 1 slice")
	}
	if n := strings.Count(d.Slices[0].Path, "M "); n != 2 {
		t.Fatalf("full ring should be two sub-paths, got %d: %s", n, d.Slices[0].Path)
	}
	if d.Slices[0].PercentLabel() != "100.0%" {
		t.Fatalf("got %s", d.Slices[0].PercentLabel())
	}
}

func TestPaletteCycles(t *testing.T) {
	var b []core.CategoryAmount
	for i := 0; i < len(Palette)+1; i++ {
		b = append(b, core.CategoryAmount{Name: string(rune('A' + i)), Amount: core.Money{Cents: 1}})
	}
	d := NewDonut(b)
	if d.Slices[len(Palette)].Color != Palette[0] {
		t.Fatalf("expected palette to wrap around")
	}
}
