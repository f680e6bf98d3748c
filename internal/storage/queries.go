package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type ExpenseRow struct {
	ID             string
	Amount         int64
	Category       string
	Description    sql.NullString
	Date           string
	CreatedAt      string
	IdempotencyKey string
}

const expenseColumns = `id, amount, category, description, date, created_at, idempotency_key`

const insertExpense = `INSERT INTO expenses (` + expenseColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(idempotency_key) DO NOTHING`

type InsertExpenseParams = ExpenseRow

// InsertExpense returns the number of inserted rows: 0 when the
// idempotency key is already taken.
func (q *Queries) InsertExpense(ctx context.Context, arg InsertExpenseParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertExpense,
		arg.ID,
		arg.Amount,
		arg.Category,
		arg.Description,
		arg.Date,
		arg.CreatedAt,
		arg.IdempotencyKey,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getExpenseByIdempotencyKey = `SELECT ` + expenseColumns + ` FROM expenses WHERE idempotency_key = ? LIMIT 1`

func (q *Queries) GetExpenseByIdempotencyKey(ctx context.Context, key string) (ExpenseRow, error) {
	row := q.db.QueryRowContext(ctx, getExpenseByIdempotencyKey, key)
	var i ExpenseRow
	err := row.Scan(
		&i.ID,
		&i.Amount,
		&i.Category,
		&i.Description,
		&i.Date,
		&i.CreatedAt,
		&i.IdempotencyKey,
	)
	return i, err
}

const listExpensesBase = `SELECT ` + expenseColumns + ` FROM expenses`

type ListExpensesParams struct {
	Category string
	DateDesc bool
}

func (q *Queries) ListExpenses(ctx context.Context, arg ListExpensesParams) ([]ExpenseRow, error) {
	query := listExpensesBase
	var args []interface{}
	if arg.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, arg.Category)
	}
	if arg.DateDesc {
		query += ` ORDER BY date DESC, created_at DESC, rowid DESC`
	} else {
		query += ` ORDER BY rowid`
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExpenseRow
	for rows.Next() {
		var i ExpenseRow
		if err := rows.Scan(
			&i.ID,
			&i.Amount,
			&i.Category,
			&i.Description,
			&i.Date,
			&i.CreatedAt,
			&i.IdempotencyKey,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countExpenses = `SELECT COUNT(*) FROM expenses`

func (q *Queries) CountExpenses(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countExpenses)
	var count int64
	err := row.Scan(&count)
	return count, err
}
