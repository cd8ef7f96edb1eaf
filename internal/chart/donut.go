// Package chart computes SVG geometry for the category donut chart.
package chart

import (
	"fmt"
	"math"
	"strings"

	"moneymap/internal/core"
)

const (
	Title = "Expenses by Category"

	// StartAngle is where the first slice begins, in degrees counterclockwise
	// from three o'clock.
	StartAngle = 140.0
	// HoleRadius is the centre cut-out as a fraction of the outer radius.
	HoleRadius = 0.40
	// LabelRadius places percentage labels midway through the ring.
	LabelRadius = 0.70
)

// Palette is cycled through when there are more slices than colors.
var Palette = []string{
	"rgba(54, 162, 235, 0.8)",
	"rgba(255, 162, 235, 0.8)",
	"rgba(255, 206, 86, 0.8)",
	"rgba(75, 192, 192, 0.8)",
	"rgba(153, 102, 255, 0.8)",
	"rgba(255, 159, 64, 0.8)",
	"rgba(255, 99, 132, 0.8)",
}

// Slice is one category wedge, in a coordinate space where the outer
// radius is 1 and the centre is the origin.
type Slice struct {
	Label   string
	Amount  core.Money
	Percent float64
	Color   string
	Path    string
	LabelX  float64
	LabelY  float64
}

// PercentLabel formats the share with one decimal, e.g. "42.9%".
func (s Slice) PercentLabel() string {
	return fmt.Sprintf("%1.1f%%", s.Percent)
}

// Donut is a renderable chart. An empty Slices means there is nothing to draw.
type Donut struct {
	Title  string
	Total  core.Money
	Slices []Slice
}

// Empty reports whether the chart has no data.
func (d Donut) Empty() bool { return len(d.Slices) == 0 }

// ViewBox is the SVG viewBox that fits the unit-radius chart with a margin.
func (d Donut) ViewBox() string { return "-1.1 -1.1 2.2 2.2" }

// NewDonut lays out slices in breakdown order, counterclockwise from
// StartAngle.
func NewDonut(breakdown []core.CategoryAmount) Donut {
	d := Donut{Title: Title}
	for _, b := range breakdown {
		d.Total = d.Total.Add(b.Amount)
	}
	if d.Total.Cents <= 0 {
		return d
	}

	angle := StartAngle * math.Pi / 180
	for i, b := range breakdown {
		frac := float64(b.Amount.Cents) / float64(d.Total.Cents)
		sweep := frac * 2 * math.Pi
		mid := angle + sweep/2
		x, y := point(LabelRadius, mid)
		d.Slices = append(d.Slices, Slice{
			Label:   b.Name,
			Amount:  b.Amount,
			Percent: frac * 100,
			Color:   Palette[i%len(Palette)],
			Path:    ringSector(angle, angle+sweep),
			LabelX:  round4(x),
			LabelY:  round4(y),
		})
		angle += sweep
	}
	return d
}

// ringSector returns the path of the ring between angles a0 and a1
// (radians, a1 > a0). A full turn is drawn as two halves since a single
// arc cannot start and end at the same point.
func ringSector(a0, a1 float64) string {
	if a1-a0 >= 2*math.Pi-1e-9 {
		mid := a0 + math.Pi
		return ringSector(a0, mid) + " " + ringSector(mid, a0+2*math.Pi)
	}

	large := 0
	if a1-a0 > math.Pi {
		large = 1
	}
	ox0, oy0 := point(1, a0)
	ox1, oy1 := point(1, a1)
	ix1, iy1 := point(HoleRadius, a1)
	ix0, iy0 := point(HoleRadius, a0)

	var b strings.Builder
	// Screen y grows downward, so counterclockwise uses sweep-flag 0.
	fmt.Fprintf(&b, "M %s %s A 1 1 0 %d 0 %s %s ", num(ox0), num(oy0), large, num(ox1), num(oy1))
	fmt.Fprintf(&b, "L %s %s A %s %s 0 %d 1 %s %s Z",
		num(ix1), num(iy1), num(HoleRadius), num(HoleRadius), large, num(ix0), num(iy0))
	return b.String()
}

func point(r, a float64) (float64, float64) {
	return r * math.Cos(a), -r * math.Sin(a)
}

func round4(v float64) float64 {
	r := math.Round(v*10000) / 10000
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}

func num(v float64) string {
	return fmt.Sprintf("%.4f", round4(v))
}
