package storage

import (
	"context"
	"errors"

	"spendlog/internal/core"
)

var (
	ErrNotFound = errors.New("expense not found")
	// ErrDuplicateKey is returned by Insert when a record with the same
	// idempotency key already exists.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// Repository is implemented by every expense store (sqlite, bolt, memory).
type Repository interface {
	GetByIdempotencyKey(ctx context.Context, key string) (core.Expense, error)
	Insert(ctx context.Context, e core.Expense) error
	List(ctx context.Context, f core.ListFilter) ([]core.Expense, error)
	Ping(ctx context.Context) error
	Close() error
}
