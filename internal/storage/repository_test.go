package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendlog/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "expenses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func expense(id, key, category, date string, cents int64, created time.Time) core.Expense {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return core.Expense{
		ID:             id,
		Amount:         core.Money{Cents: cents},
		Category:       category,
		Date:           d,
		CreatedAt:      created.UTC().Truncate(time.Millisecond),
		IdempotencyKey: key,
	}
}

func TestSQLiteRepository_InsertAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

	e := expense("id-1", "k1", "Food", "2024-01-01", 500, now)
	e.Description = "lunch"
	require.NoError(t, repo.Insert(ctx, e))

	got, err := repo.GetByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, int64(500), got.Amount.Cents)
	assert.Equal(t, "Food", got.Category)
	assert.Equal(t, "lunch", got.Description)
	assert.Equal(t, "2024-01-01", got.Date.String())
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.GetByIdempotencyKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRepository_DuplicateKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Insert(ctx, expense("id-1", "k1", "Food", "2024-01-01", 500, now)))
	err := repo.Insert(ctx, expense("id-2", "k1", "Travel", "2024-02-01", 900, now))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	got, err := repo.GetByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID, "first write wins")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteRepository_ConcurrentDuplicateInsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Insert(ctx, expense(fmt.Sprintf("id-%d", i), "same", "Food", "2024-01-01", 100, now))
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, err := range errs {
		if err == nil {
			inserted++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateKey)
	}
	assert.Equal(t, 1, inserted)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, expense("a", "k-a", "Food", "2024-01-01", 100, base)))
	require.NoError(t, repo.Insert(ctx, expense("b", "k-b", "Travel", "2024-03-01", 200, base.Add(time.Second))))
	require.NoError(t, repo.Insert(ctx, expense("c", "k-c", "Food", "2024-02-01", 300, base.Add(2*time.Second))))
	require.NoError(t, repo.Insert(ctx, expense("d", "k-d", "Food", "2024-02-01", 400, base.Add(3*time.Second))))

	all, err := repo.List(ctx, core.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(all), "insertion order by default")

	sorted, err := repo.List(ctx, core.ListFilter{Sort: core.SortDateDesc})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids(sorted))

	food, err := repo.List(ctx, core.ListFilter{Category: "Food", Sort: core.SortDateDesc})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "a"}, ids(food))

	none, err := repo.List(ctx, core.ListFilter{Category: "food"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSQLiteRepository_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expenses.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(context.Background(), expense("a", "k-a", "Food", "2024-01-01", 100, time.Now())))
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Ping(context.Background()))
	got, err := repo.GetByIdempotencyKey(context.Background(), "k-a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}

func ids(es []core.Expense) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}
