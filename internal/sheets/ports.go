// Package sheets defines the spreadsheet mirror that persisted expenses
// are copied to.
package sheets

import (
	"context"

	"moneymap/internal/core"
)

// Mirror keeps one spreadsheet row per persisted expense, keyed by id.
type Mirror interface {
	// Upsert writes e to its row, appending one if the id is new, and
	// returns a reference to the row.
	Upsert(ctx context.Context, e core.Expense) (rowRef string, err error)
	// Remove clears the row holding id. A missing row is not an error.
	Remove(ctx context.Context, id int64) error
}
