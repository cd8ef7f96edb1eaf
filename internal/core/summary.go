package core

import "sort"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// AggregateByCategory sums amounts grouped by category label.
// An empty input yields an empty, non-nil map.
func AggregateByCategory(rows []Expense) map[string]Money {
	out := make(map[string]Money)
	for _, r := range rows {
		name := string(r.Category)
		out[name] = out[name].Add(r.Amount)
	}
	return out
}

// Total sums the amounts of all rows.
func Total(rows []Expense) Money {
	var total Money
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}

// Breakdown returns per-category totals ordered by amount, largest first,
// with ties broken by name.
func Breakdown(rows []Expense) []CategoryAmount {
	sums := AggregateByCategory(rows)
	out := make([]CategoryAmount, 0, len(sums))
	for name, m := range sums {
		out = append(out, CategoryAmount{Name: name, Amount: m})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount.Cents != out[j].Amount.Cents {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Name < out[j].Name
	})
	return out
}
