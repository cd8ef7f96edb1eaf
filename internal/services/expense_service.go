// Package services holds the expense repository: one object that keeps
// the durable store and a session's working set in step.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"moneymap/internal/core"
	"moneymap/internal/csvfile"
	"moneymap/internal/log"
	"moneymap/internal/session"
	"moneymap/internal/storage"
)

var ErrExpenseNotFound = errors.New("expense not found")

// ExpenseService orchestrates expense operations across SQLite, the
// session working set and AMQP.
type ExpenseService struct {
	store      ExpenseStore
	publisher  EventPublisher
	exportPath string
	logger     *log.Logger
	events     *log.StructuredLogger
}

// Option configures an ExpenseService.
type Option func(*ExpenseService)

// WithPublisher enables event publishing after writes.
func WithPublisher(p EventPublisher) Option {
	return func(s *ExpenseService) { s.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(l *log.Logger) Option {
	return func(s *ExpenseService) { s.logger = l.WithComponent(log.ComponentExpense) }
}

func NewExpenseService(store ExpenseStore, exportPath string, opts ...Option) *ExpenseService {
	s := &ExpenseService{
		store:      store,
		exportPath: exportPath,
		logger:     log.New(log.DefaultConfig()).WithComponent(log.ComponentExpense),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = log.NewStructuredLogger(s.logger)
	return s
}

// ExportPath is where Save writes the working set.
func (s *ExpenseService) ExportPath() string { return s.exportPath }

// Add validates e, persists it for the session's user and appends the
// stored row to the working set. Only built-in categories are accepted.
func (s *ExpenseService) Add(ctx context.Context, sess *session.Session, e core.Expense) (core.Expense, error) {
	if sess == nil {
		return core.Expense{}, session.ErrNotAuthenticated
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if !e.Category.Known() {
		return core.Expense{}, core.ErrUnknownCategory
	}

	e.ID = 0
	e.UserID = sess.UserID
	saved, err := s.store.CreateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}
	sess.Append(saved)
	s.events.LogExpenseAdded(ctx, sess.UserID, saved.ID, string(saved.Category), saved.Amount.Cents)

	if s.publisher != nil {
		if err := s.publisher.PublishExpenseCreated(ctx, saved.ID, saved.UserID); err != nil {
			// The expense is stored; the mirror catches up from the pending sweep.
			s.logger.ErrorContext(ctx, "Failed to publish created event",
				log.FieldExpenseID, saved.ID, log.FieldError, err)
		}
	}
	return saved, nil
}

// List returns the user's persisted expenses in insertion order.
func (s *ExpenseService) List(ctx context.Context, sess *session.Session) ([]core.Expense, error) {
	if sess == nil {
		return nil, session.ErrNotAuthenticated
	}
	rows, err := s.store.ListExpenses(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return rows, nil
}

// History returns the session's working set.
func (s *ExpenseService) History(sess *session.Session) []core.Expense {
	if sess == nil {
		return nil
	}
	return sess.Rows()
}

// Delete removes expense id from the store and from the working set.
// ErrExpenseNotFound is returned only when neither held it.
func (s *ExpenseService) Delete(ctx context.Context, sess *session.Session, id int64) error {
	if sess == nil {
		return session.ErrNotAuthenticated
	}
	stored, err := s.deleteStored(ctx, sess, id)
	if err != nil {
		return err
	}
	removed := sess.RemoveID(id)
	if !stored && removed == 0 {
		return ErrExpenseNotFound
	}
	s.logger.InfoContext(ctx, "Expense deleted",
		log.FieldUserID, sess.UserID, log.FieldExpenseID, id,
		"stored", stored, "working_rows", removed)
	return nil
}

// DeleteAt removes the working-set row at index. When that row has a
// persisted counterpart it is deleted from the store first, then dropped
// from the working set along with any other rows carrying the same id.
// A failed store delete leaves the working set untouched.
func (s *ExpenseService) DeleteAt(ctx context.Context, sess *session.Session, index int) (core.Expense, error) {
	if sess == nil {
		return core.Expense{}, session.ErrNotAuthenticated
	}
	e, err := sess.At(index)
	if err != nil {
		return core.Expense{}, err
	}
	if e.ID == 0 {
		return sess.RemoveAt(index)
	}
	if _, err := s.deleteStored(ctx, sess, e.ID); err != nil {
		return e, err
	}
	sess.RemoveID(e.ID)
	return e, nil
}

// deleteStored reports whether a persisted row was removed. A missing row
// is not an error.
func (s *ExpenseService) deleteStored(ctx context.Context, sess *session.Session, id int64) (bool, error) {
	err := s.store.DeleteExpense(ctx, sess.UserID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete expense %d: %w", id, err)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishExpenseDeleted(ctx, id, sess.UserID); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish deleted event",
				log.FieldExpenseID, id, log.FieldError, err)
		}
	}
	return true, nil
}

// Restore replaces the working set with the user's persisted rows and
// returns how many were loaded.
func (s *ExpenseService) Restore(ctx context.Context, sess *session.Session) (int, error) {
	rows, err := s.List(ctx, sess)
	if err != nil {
		return 0, err
	}
	sess.Replace(rows)
	return len(rows), nil
}

// Import parses a CSV file and, only if every line is valid, replaces the
// working set with its rows. Nothing is written to the store.
func (s *ExpenseService) Import(ctx context.Context, sess *session.Session, r io.Reader) (int, error) {
	if sess == nil {
		return 0, session.ErrNotAuthenticated
	}
	rows, err := csvfile.Read(r)
	if err != nil {
		s.logger.WarnContext(ctx, "CSV import rejected",
			log.FieldUserID, sess.UserID, log.FieldOperation, log.OpImport, log.FieldError, err)
		return 0, err
	}
	for i := range rows {
		rows[i].UserID = sess.UserID
	}
	sess.Replace(rows)
	s.logger.InfoContext(ctx, "CSV imported",
		log.FieldUserID, sess.UserID, log.FieldRows, len(rows))
	return len(rows), nil
}

// Save writes the working set to the configured export path, replacing
// the previous file.
func (s *ExpenseService) Save(ctx context.Context, sess *session.Session) (int, error) {
	if sess == nil {
		return 0, session.ErrNotAuthenticated
	}
	rows := sess.Rows()
	if err := csvfile.Save(s.exportPath, rows); err != nil {
		return 0, fmt.Errorf("save expenses: %w", err)
	}
	s.logger.InfoContext(ctx, "Expenses saved",
		log.FieldUserID, sess.UserID, log.FieldRows, len(rows), log.FieldFile, s.exportPath)
	return len(rows), nil
}

// Export streams the working set as CSV.
func (s *ExpenseService) Export(sess *session.Session, w io.Writer) error {
	if sess == nil {
		return session.ErrNotAuthenticated
	}
	return csvfile.Write(w, sess.Rows())
}

// Totals sums the working set by category.
func (s *ExpenseService) Totals(sess *session.Session) map[string]core.Money {
	return core.AggregateByCategory(s.History(sess))
}

// Breakdown returns the working-set totals ordered for display.
func (s *ExpenseService) Breakdown(sess *session.Session) []core.CategoryAmount {
	return core.Breakdown(s.History(sess))
}
