package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"spendlog/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// single writer; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) GetByIdempotencyKey(ctx context.Context, key string) (core.Expense, error) {
	row, err := r.queries.GetExpenseByIdempotencyKey(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense by key: %w", err)
	}
	return rowToExpense(row)
}

// Insert relies on the unique index over idempotency_key. A conflicting
// insert is a no-op reported as ErrDuplicateKey.
func (r *SQLiteRepository) Insert(ctx context.Context, e core.Expense) error {
	n, err := r.queries.InsertExpense(ctx, expenseToRow(e))
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	if n == 0 {
		return ErrDuplicateKey
	}

	slog.DebugContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"amount", e.Amount.Cents,
		"category", e.Category,
		"date", e.Date.String())
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, f core.ListFilter) ([]core.Expense, error) {
	rows, err := r.queries.ListExpenses(ctx, ListExpensesParams{
		Category: f.Category,
		DateDesc: f.Sort == core.SortDateDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	out := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		e, err := rowToExpense(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	return r.queries.CountExpenses(ctx)
}

func expenseToRow(e core.Expense) ExpenseRow {
	return ExpenseRow{
		ID:             e.ID,
		Amount:         e.Amount.Cents,
		Category:       e.Category,
		Description:    sql.NullString{String: e.Description, Valid: e.Description != ""},
		Date:           e.Date.String(),
		CreatedAt:      e.CreatedAtString(),
		IdempotencyKey: e.IdempotencyKey,
	}
}

func rowToExpense(row ExpenseRow) (core.Expense, error) {
	d, err := core.ParseDate(row.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %s: bad date %q: %w", row.ID, row.Date, err)
	}
	created, err := core.ParseTimestamp(row.CreatedAt)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %s: %w", row.ID, err)
	}
	return core.Expense{
		ID:             row.ID,
		Amount:         core.Money{Cents: row.Amount},
		Category:       row.Category,
		Description:    row.Description.String,
		Date:           d,
		CreatedAt:      created,
		IdempotencyKey: row.IdempotencyKey,
	}, nil
}
