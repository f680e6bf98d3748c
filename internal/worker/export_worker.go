package worker

import (
	"context"
	"fmt"
	"log/slog"

	"spendlog/internal/amqp"
	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/sheets"
)

// ExpenseSource lists stored expenses for the startup backfill.
type ExpenseSource interface {
	List(ctx context.Context, f core.ListFilter) ([]core.Expense, error)
}

// ExportWorker copies created expenses to the spreadsheet.
type ExportWorker struct {
	exporter sheets.ExpenseExporter
	source   ExpenseSource
	logger   *slog.Logger
}

// NewExportWorker creates a worker. source may be nil when no backfill is
// wanted.
func NewExportWorker(exporter sheets.ExpenseExporter, source ExpenseSource, logger *slog.Logger) *ExportWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportWorker{
		exporter: exporter,
		source:   source,
		logger:   logger.With(log.FieldComponent, log.ComponentWorker),
	}
}

// HandleExpenseCreated exports the record carried by msg. A returned error
// makes the consumer requeue the message; the exporter skips IDs already in
// the sheet, so redelivery is harmless.
func (w *ExportWorker) HandleExpenseCreated(ctx context.Context, msg *amqp.ExpenseCreatedMessage) error {
	w.logger.InfoContext(ctx, "Processing expense created message",
		log.FieldExpenseID, msg.ID,
		log.FieldIdempotencyKey, msg.IdempotencyKey)

	e, err := msg.Expense()
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return w.export(ctx, e)
}

// Backfill exports every stored expense in insertion order and returns how
// many were handled. It stops at the first failure.
func (w *ExportWorker) Backfill(ctx context.Context) (int, error) {
	if w.source == nil {
		return 0, nil
	}
	items, err := w.source.List(ctx, core.ListFilter{})
	if err != nil {
		return 0, fmt.Errorf("list expenses for backfill: %w", err)
	}
	if len(items) == 0 {
		w.logger.InfoContext(ctx, "No expenses to backfill")
		return 0, nil
	}

	w.logger.InfoContext(ctx, "Backfilling expenses", log.FieldCount, len(items))
	for i, e := range items {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := w.export(ctx, e); err != nil {
			return i, err
		}
	}
	w.logger.InfoContext(ctx, "Backfill completed", log.FieldCount, len(items))
	return len(items), nil
}

func (w *ExportWorker) export(ctx context.Context, e core.Expense) error {
	ref, err := w.exporter.Append(ctx, e)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to export expense",
			log.FieldExpenseID, e.ID,
			log.FieldError, err,
			log.FieldOperation, log.OpExport)
		return fmt.Errorf("export expense %s: %w", e.ID, err)
	}
	w.logger.InfoContext(ctx, "Expense exported",
		log.FieldExpenseID, e.ID,
		log.FieldAmountCents, e.Amount.Cents,
		log.FieldSheetsRef, ref,
		log.FieldOperation, log.OpExport)
	return nil
}
