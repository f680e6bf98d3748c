package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"spendlog/internal/cache"
	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/storage"
)

// EventPublisher announces newly created expenses. The AMQP client
// implements it.
type EventPublisher interface {
	PublishExpenseCreated(ctx context.Context, e core.Expense) error
}

// ExpenseService implements idempotent creation and listing over a
// storage.Repository.
type ExpenseService struct {
	repo      storage.Repository
	publisher EventPublisher
	replay    cache.Cache[core.Expense]
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*ExpenseService)

func WithPublisher(p EventPublisher) Option {
	return func(s *ExpenseService) { s.publisher = p }
}

// WithReplayCache serves repeated idempotency keys from c. Records are
// immutable, so entries never go stale.
func WithReplayCache(c cache.Cache[core.Expense]) Option {
	return func(s *ExpenseService) { s.replay = c }
}

func WithIDGenerator(f func() string) Option {
	return func(s *ExpenseService) { s.newID = f }
}

func WithClock(f func() time.Time) Option {
	return func(s *ExpenseService) { s.now = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *ExpenseService) { s.logger = l }
}

func NewExpenseService(repo storage.Repository, opts ...Option) *ExpenseService {
	s := &ExpenseService{
		repo:   repo,
		newID:  func() string { return uuid.NewString() },
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(log.FieldComponent, log.ComponentExpense)
	return s
}

// Create stores a new expense unless one with the same idempotency key
// exists, in which case the existing record is returned unchanged and
// created is false.
func (s *ExpenseService) Create(ctx context.Context, in core.NewExpense) (e core.Expense, created bool, err error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return core.Expense{}, false, err
	}

	if existing, ok := s.lookup(ctx, in.IdempotencyKey); ok {
		return existing, false, nil
	}

	existing, err := s.repo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
	switch {
	case err == nil:
		s.remember(existing)
		s.logReplay(ctx, existing)
		return existing, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return core.Expense{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}

	e, err = in.Build(s.newID(), s.now())
	if err != nil {
		return core.Expense{}, false, err
	}

	if err := s.repo.Insert(ctx, e); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return core.Expense{}, false, fmt.Errorf("save expense: %w", err)
		}
		// lost a race with a concurrent request carrying the same key
		winner, gerr := s.repo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if gerr != nil {
			return core.Expense{}, false, fmt.Errorf("read back duplicate key: %w", gerr)
		}
		s.remember(winner)
		s.logReplay(ctx, winner)
		return winner, false, nil
	}

	s.remember(e)
	s.logger.InfoContext(ctx, "Expense created",
		log.NewFields().
			WithExpense(e.ID, e.Amount.Cents, e.Category, e.Date.String(), e.IdempotencyKey).
			WithOperation(log.OpCreate).
			ToSlice()...)

	if s.publisher != nil {
		if perr := s.publisher.PublishExpenseCreated(ctx, e); perr != nil {
			// the record is stored; export is best effort
			s.logger.ErrorContext(ctx, "Failed to publish expense created event",
				log.FieldExpenseID, e.ID,
				log.FieldError, perr)
		}
	}

	return e, true, nil
}

// List returns every expense matching f. The result is never nil.
func (s *ExpenseService) List(ctx context.Context, f core.ListFilter) ([]core.Expense, error) {
	items, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	if items == nil {
		items = []core.Expense{}
	}
	return items, nil
}

func (s *ExpenseService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *ExpenseService) lookup(ctx context.Context, key string) (core.Expense, bool) {
	if s.replay == nil {
		return core.Expense{}, false
	}
	e, ok := s.replay.Get(key)
	if ok {
		s.logReplay(ctx, e)
	}
	return e, ok
}

func (s *ExpenseService) remember(e core.Expense) {
	if s.replay != nil {
		s.replay.Set(e.IdempotencyKey, e)
	}
}

func (s *ExpenseService) logReplay(ctx context.Context, e core.Expense) {
	s.logger.InfoContext(ctx, "Idempotent replay",
		log.FieldExpenseID, e.ID,
		log.FieldIdempotencyKey, e.IdempotencyKey,
		log.FieldOperation, log.OpReplay)
}

// Close releases the repository.
func (s *ExpenseService) Close() error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Close(); err != nil {
		return fmt.Errorf("close expense service: %w", err)
	}
	return nil
}
