// Package bolt stores expenses in a single bbolt file.
//
// Records live in the "expenses" bucket keyed by a big-endian sequence
// number, so cursor order is insertion order. The "idempotency" bucket maps
// each idempotency key to the sequence of its record. Both are written in
// the same transaction, which is what makes Insert safe under concurrency.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

var (
	expensesBucket    = []byte("expenses")
	idempotencyBucket = []byte("idempotency")
)

type DB struct {
	db *bbolt.DB
}

var _ storage.Repository = (*DB)(nil)

type record struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	Category       string `json:"category"`
	Description    string `json:"description,omitempty"`
	Date           string `json:"date"`
	CreatedAt      string `json:"created_at"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Open opens (or creates) the bbolt file at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(expensesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(idempotencyBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &DB{db: db}, nil
}

func (b *DB) GetByIdempotencyKey(_ context.Context, key string) (core.Expense, error) {
	var e core.Expense
	err := b.db.View(func(tx *bbolt.Tx) error {
		seq := tx.Bucket(idempotencyBucket).Get([]byte(key))
		if seq == nil {
			return storage.ErrNotFound
		}
		data := tx.Bucket(expensesBucket).Get(seq)
		if data == nil {
			return fmt.Errorf("dangling idempotency entry for key %q", key)
		}
		var err error
		e, err = decode(data)
		return err
	})
	if err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (b *DB) Insert(_ context.Context, e core.Expense) error {
	data, err := json.Marshal(record{
		ID:             e.ID,
		Amount:         e.Amount.Cents,
		Category:       e.Category,
		Description:    e.Description,
		Date:           e.Date.String(),
		CreatedAt:      e.CreatedAtString(),
		IdempotencyKey: e.IdempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("marshaling expense: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		keys := tx.Bucket(idempotencyBucket)
		if keys.Get([]byte(e.IdempotencyKey)) != nil {
			return storage.ErrDuplicateKey
		}
		expenses := tx.Bucket(expensesBucket)
		n, err := expenses.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		seq := itob(n)
		if err := expenses.Put(seq, data); err != nil {
			return err
		}
		return keys.Put([]byte(e.IdempotencyKey), seq)
	})
}

func (b *DB) List(_ context.Context, f core.ListFilter) ([]core.Expense, error) {
	out := make([]core.Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(expensesBucket).ForEach(func(_, v []byte) error {
			e, err := decode(v)
			if err != nil {
				return err
			}
			if f.Matches(e) {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if f.Sort == core.SortDateDesc {
		sort.SliceStable(out, func(i, j int) bool { return core.DateDescLess(out[i], out[j]) })
	}
	return out, nil
}

func (b *DB) Ping(context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(expensesBucket) == nil {
			return fmt.Errorf("bucket %s missing", expensesBucket)
		}
		return nil
	})
}

func (b *DB) Close() error {
	return b.db.Close()
}

func decode(data []byte) (core.Expense, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return core.Expense{}, fmt.Errorf("unmarshaling expense: %w", err)
	}
	d, err := core.ParseDate(r.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %s: bad date %q: %w", r.ID, r.Date, err)
	}
	created, err := core.ParseTimestamp(r.CreatedAt)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %s: %w", r.ID, err)
	}
	return core.Expense{
		ID:             r.ID,
		Amount:         core.Money{Cents: r.Amount},
		Category:       r.Category,
		Description:    r.Description,
		Date:           d,
		CreatedAt:      created,
		IdempotencyKey: r.IdempotencyKey,
	}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
