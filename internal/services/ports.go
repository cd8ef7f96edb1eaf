package services

import (
	"context"

	"moneymap/internal/core"
)

// ExpenseStore is the durable side of the repository.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	ListExpenses(ctx context.Context, userID int64) ([]core.Expense, error)
	DeleteExpense(ctx context.Context, userID, id int64) error
}

// EventPublisher announces persisted changes to other processes.
type EventPublisher interface {
	PublishExpenseCreated(ctx context.Context, id, userID int64) error
	PublishExpenseDeleted(ctx context.Context, id, userID int64) error
}
