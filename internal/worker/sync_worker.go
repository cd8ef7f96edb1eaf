// Package worker mirrors persisted expenses into a spreadsheet, driven by
// AMQP events with a periodic sweep of rows still marked pending.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"moneymap/internal/amqp"
	"moneymap/internal/core"
	"moneymap/internal/log"
	"moneymap/internal/sheets"
	"moneymap/internal/storage"
)

// ExpenseReader is the slice of the store the worker reads and updates.
type ExpenseReader interface {
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	SyncStatusOf(ctx context.Context, id int64) (storage.SyncStatus, error)
	GetPendingSyncExpenses(ctx context.Context, limit int) ([]storage.PendingSyncExpense, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkSyncError(ctx context.Context, id int64) error
}

// EventSource delivers expense events until ctx is done.
type EventSource interface {
	Consume(ctx context.Context, handler func(context.Context, *amqp.ExpenseEvent) error) error
}

// Config holds worker tuning.
type Config struct {
	BatchSize int
	Interval  time.Duration
}

// SyncWorker handles synchronization of expenses from SQLite to the mirror.
type SyncWorker struct {
	store  ExpenseReader
	mirror sheets.Mirror
	config Config
	logger *log.Logger

	mu      sync.Mutex
	running bool
}

func NewSyncWorker(store ExpenseReader, mirror sheets.Mirror, config Config, logger *log.Logger) *SyncWorker {
	if config.BatchSize < 1 {
		config.BatchSize = 10
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SyncWorker{
		store:  store,
		mirror: mirror,
		config: config,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent applies one expense event to the mirror. A returned error
// asks the broker to redeliver.
func (w *SyncWorker) HandleEvent(ctx context.Context, ev *amqp.ExpenseEvent) error {
	w.logger.InfoContext(ctx, "Processing expense event",
		log.FieldExpenseID, ev.ID,
		log.FieldUserID, ev.UserID,
		"type", ev.Type)

	switch ev.Type {
	case amqp.EventExpenseCreated:
		return w.syncExpense(ctx, ev.ID)
	case amqp.EventExpenseDeleted:
		if err := w.mirror.Remove(ctx, ev.ID); err != nil {
			return fmt.Errorf("remove expense %d from mirror: %w", ev.ID, err)
		}
		w.logger.InfoContext(ctx, "Removed expense from mirror", log.FieldExpenseID, ev.ID)
		return nil
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// syncExpense copies a stored expense into the mirror and records the
// outcome on the row. An expense deleted before its event arrived, or
// already mirrored by a sweep or an earlier delivery, is skipped.
func (w *SyncWorker) syncExpense(ctx context.Context, id int64) error {
	status, err := w.store.SyncStatusOf(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.InfoContext(ctx, "Expense no longer exists, skipping", log.FieldExpenseID, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get sync status: %w", err)
	}
	if status == storage.SyncDone {
		w.logger.DebugContext(ctx, "Expense already mirrored, skipping", log.FieldExpenseID, id)
		return nil
	}

	e, err := w.store.GetExpense(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.InfoContext(ctx, "Expense no longer exists, skipping", log.FieldExpenseID, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get expense from storage: %w", err)
	}

	ref, err := w.mirror.Upsert(ctx, e)
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, id); markErr != nil {
			w.logger.ErrorContext(ctx, "Failed to mark sync error", log.FieldExpenseID, id, log.FieldError, markErr)
		}
		return fmt.Errorf("upsert to mirror: %w", err)
	}

	if err := w.store.MarkSynced(ctx, id); err != nil {
		// The row is mirrored; a later sweep rewrites it in place.
		w.logger.ErrorContext(ctx, "Failed to mark as synced", log.FieldExpenseID, id, log.FieldError, err)
	}

	w.logger.InfoContext(ctx, "Successfully synced expense",
		log.FieldExpenseID, id,
		"sheets_ref", ref,
		log.FieldAmountCents, e.Amount.Cents)
	return nil
}

// SweepPending mirrors up to limit expenses still marked pending and
// reports how many succeeded.
func (w *SyncWorker) SweepPending(ctx context.Context, limit int) (int, error) {
	pending, err := w.store.GetPendingSyncExpenses(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending expenses: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	w.logger.InfoContext(ctx, "Processing pending expenses", "count", len(pending))

	synced := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if err := w.syncExpense(ctx, p.ID); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync expense", log.FieldExpenseID, p.ID, log.FieldError, err)
			continue
		}
		synced++
	}
	return synced, nil
}

// StartupSync sweeps a larger batch once, to catch up after downtime.
func (w *SyncWorker) StartupSync(ctx context.Context) error {
	n, err := w.SweepPending(ctx, w.config.BatchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup sync completed", "synced", n)
	return nil
}

// Run consumes events from src and sweeps pending rows on every interval
// until ctx is cancelled. Only one Run may be active at a time.
func (w *SyncWorker) Run(ctx context.Context, src EventSource) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("sync worker is already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.StartupSync(ctx); err != nil {
		w.logger.WarnContext(ctx, "Startup sync failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if src != nil {
		g.Go(func() error {
			return src.Consume(gctx, w.HandleEvent)
		})
	}
	g.Go(func() error {
		w.sweepLoop(gctx)
		return nil
	})

	w.logger.InfoContext(ctx, "Sync worker started",
		"batch_size", w.config.BatchSize,
		"interval", w.config.Interval)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// IsRunning returns whether Run is active.
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *SyncWorker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.SweepPending(ctx, w.config.BatchSize); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic sweep failed", log.FieldError, err)
			}
		}
	}
}
