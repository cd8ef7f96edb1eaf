// Package memory is an in-process spreadsheet mirror used when no Google
// spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"moneymap/internal/core"
	"moneymap/internal/sheets"
)

var _ sheets.Mirror = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	rows  []core.Expense
	index map[int64]int
}

func New() *Store {
	return &Store{index: make(map[int64]int)}
}

// Upsert stores e in its row and returns a synthetic row reference.
func (s *Store) Upsert(_ context.Context, e core.Expense) (string, error) {
	if e.ID <= 0 {
		return "", fmt.Errorf("mirror expense without id")
	}
	if err := e.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[e.ID]; ok {
		s.rows[i] = e
		return fmt.Sprintf("mem:%d", i+1), nil
	}
	s.rows = append(s.rows, e)
	s.index[e.ID] = len(s.rows) - 1
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Remove blanks the row holding id, keeping later rows in place.
func (s *Store) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return nil
	}
	s.rows[i] = core.Expense{}
	delete(s.index, id)
	return nil
}

// Rows returns the non-blank rows in sheet order.
func (s *Store) Rows() []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Expense, 0, len(s.index))
	for _, e := range s.rows {
		if e.ID != 0 {
			out = append(out, e)
		}
	}
	return out
}
