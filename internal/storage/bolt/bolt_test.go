package bolt

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

var _ = Describe("DB", func() {
	var (
		ctx    context.Context
		dbPath string
		db     *DB
		base   time.Time
	)

	newExpense := func(id, key, category string, d core.Date, offset time.Duration) core.Expense {
		return core.Expense{
			ID:             id,
			Amount:         core.Money{Cents: 500},
			Category:       category,
			Date:           d,
			CreatedAt:      base.Add(offset),
			IdempotencyKey: key,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		dbPath = filepath.Join(GinkgoT().TempDir(), "data", "test.bolt")
		var err error
		db, err = Open(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("Insert", func() {
		var (
			e   core.Expense
			err error
		)

		BeforeEach(func() {
			e = newExpense("id-1", "k1", "Food", core.NewDate(2024, 1, 1), 0)
			e.Description = "lunch"
		})

		JustBeforeEach(func() {
			err = db.Insert(ctx, e)
		})

		When("the key is new", func() {
			It("stores the record", func() {
				Expect(err).NotTo(HaveOccurred())
				got, getErr := db.GetByIdempotencyKey(ctx, "k1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(got.ID).To(Equal("id-1"))
				Expect(got.Description).To(Equal("lunch"))
				Expect(got.Date.String()).To(Equal("2024-01-01"))
				Expect(got.CreatedAt.Equal(e.CreatedAt)).To(BeTrue())
			})
		})

		When("the key is already taken", func() {
			It("returns ErrDuplicateKey and keeps the first record", func() {
				Expect(err).NotTo(HaveOccurred())
				dup := newExpense("id-2", "k1", "Travel", core.NewDate(2024, 2, 1), time.Second)
				Expect(db.Insert(ctx, dup)).To(MatchError(storage.ErrDuplicateKey))

				got, getErr := db.GetByIdempotencyKey(ctx, "k1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(got.ID).To(Equal("id-1"))

				all, listErr := db.List(ctx, core.ListFilter{})
				Expect(listErr).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(1))
			})
		})
	})

	Describe("concurrent inserts with one key", func() {
		It("stores exactly one record", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_ = db.Insert(ctx, newExpense(fmt.Sprintf("id-%d", i), "same", "Food", core.NewDate(2024, 1, 1), 0))
				}(i)
			}
			wg.Wait()

			all, err := db.List(ctx, core.ListFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})
	})

	Describe("GetByIdempotencyKey", func() {
		When("the key is unknown", func() {
			It("returns ErrNotFound", func() {
				_, err := db.GetByIdempotencyKey(ctx, "missing")
				Expect(err).To(MatchError(storage.ErrNotFound))
			})
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			Expect(db.Insert(ctx, newExpense("a", "ka", "Food", core.NewDate(2024, 1, 1), 0))).To(Succeed())
			Expect(db.Insert(ctx, newExpense("b", "kb", "Travel", core.NewDate(2024, 3, 1), time.Second))).To(Succeed())
			Expect(db.Insert(ctx, newExpense("c", "kc", "Food", core.NewDate(2024, 2, 1), 2*time.Second))).To(Succeed())
			Expect(db.Insert(ctx, newExpense("d", "kd", "Food", core.NewDate(2024, 2, 1), 3*time.Second))).To(Succeed())
		})

		ids := func(es []core.Expense) []string {
			out := make([]string, 0, len(es))
			for _, e := range es {
				out = append(out, e.ID)
			}
			return out
		}

		It("returns insertion order by default", func() {
			all, err := db.List(ctx, core.ListFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(all)).To(Equal([]string{"a", "b", "c", "d"}))
		})

		It("sorts by date descending with newer creations first on ties", func() {
			all, err := db.List(ctx, core.ListFilter{Sort: core.SortDateDesc})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(all)).To(Equal([]string{"b", "d", "c", "a"}))
		})

		It("filters by exact category", func() {
			food, err := db.List(ctx, core.ListFilter{Category: "Food"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(food)).To(Equal([]string{"a", "c", "d"}))

			none, err := db.List(ctx, core.ListFilter{Category: "food"})
			Expect(err).NotTo(HaveOccurred())
			Expect(none).To(BeEmpty())
		})
	})

	Describe("reopening the file", func() {
		It("keeps stored records", func() {
			Expect(db.Insert(ctx, newExpense("a", "ka", "Food", core.NewDate(2024, 1, 1), 0))).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = Open(dbPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Ping(ctx)).To(Succeed())

			got, err := db.GetByIdempotencyKey(ctx, "ka")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("a"))
		})
	})
})
