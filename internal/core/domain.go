package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DateLayout is the calendar date format used on the wire and in storage.
	DateLayout = "2006-01-02"
	// TimestampLayout renders created_at with millisecond precision in UTC.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

	MaxDescriptionLength = 200
	MaxCategoryLength    = 64
	MaxKeyLength         = 128
)

const (
	SortInsertion SortOrder = ""
	SortDateDesc  SortOrder = "date_desc"
)

type (
	SortOrder string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Expense is an immutable record. Once stored it is never updated.
	Expense struct {
		ID             string
		Amount         Money
		Category       string
		Description    string
		Date           Date
		CreatedAt      time.Time
		IdempotencyKey string
	}

	// NewExpense carries the client supplied fields of a create request.
	NewExpense struct {
		Amount         Money
		Category       string
		Description    string
		Date           string
		IdempotencyKey string
	}

	ListFilter struct {
		Category string
		Sort     SortOrder
	}
)

// ErrInvalidRequest is wrapped by every validation failure. Callers that
// only need to know "was the input bad" match on it with errors.Is.
var ErrInvalidRequest = errors.New("invalid request data")

var (
	ErrInvalidDate        = fmt.Errorf("%w: invalid date", ErrInvalidRequest)
	ErrInvalidAmount      = fmt.Errorf("%w: invalid amount", ErrInvalidRequest)
	ErrEmptyCategory      = fmt.Errorf("%w: empty category", ErrInvalidRequest)
	ErrCategoryTooLong    = fmt.Errorf("%w: category too long", ErrInvalidRequest)
	ErrDescriptionTooLong = fmt.Errorf("%w: description too long", ErrInvalidRequest)
	ErrEmptyKey           = fmt.Errorf("%w: empty idempotency key", ErrInvalidRequest)
	ErrKeyTooLong         = fmt.Errorf("%w: idempotency key too long", ErrInvalidRequest)
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string. Out of range days such as
// 2024-02-30 are rejected rather than normalized.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrInvalidDate
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Normalize trims surrounding whitespace from the text fields.
func (n NewExpense) Normalize() NewExpense {
	n.Category = strings.TrimSpace(n.Category)
	n.Description = strings.TrimSpace(n.Description)
	n.Date = strings.TrimSpace(n.Date)
	n.IdempotencyKey = strings.TrimSpace(n.IdempotencyKey)
	return n
}

func (n NewExpense) Validate() error {
	if err := n.Amount.Validate(); err != nil {
		return err
	}
	if n.Category == "" {
		return ErrEmptyCategory
	}
	if len([]rune(n.Category)) > MaxCategoryLength {
		return ErrCategoryTooLong
	}
	if len([]rune(n.Description)) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if _, err := ParseDate(n.Date); err != nil {
		return err
	}
	if n.IdempotencyKey == "" {
		return ErrEmptyKey
	}
	if len(n.IdempotencyKey) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Build turns a validated request into a record with the given identity.
func (n NewExpense) Build(id string, createdAt time.Time) (Expense, error) {
	d, err := ParseDate(n.Date)
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		ID:             id,
		Amount:         n.Amount,
		Category:       n.Category,
		Description:    n.Description,
		Date:           d,
		CreatedAt:      createdAt.UTC().Truncate(time.Millisecond),
		IdempotencyKey: n.IdempotencyKey,
	}, nil
}

// CreatedAtString renders CreatedAt in TimestampLayout.
func (e Expense) CreatedAtString() string {
	return FormatTimestamp(e.CreatedAt)
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		// rows written by other tools may lack the millisecond part
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// ParseSortOrder maps the sort query value. Anything other than
// "date_desc" means insertion order.
func ParseSortOrder(s string) SortOrder {
	if strings.TrimSpace(s) == string(SortDateDesc) {
		return SortDateDesc
	}
	return SortInsertion
}

// Matches reports whether e passes the category filter.
func (f ListFilter) Matches(e Expense) bool {
	return f.Category == "" || e.Category == f.Category
}

// DateDescLess orders by date descending, newer creations first on ties.
func DateDescLess(a, b Expense) bool {
	if !a.Date.Equal(b.Date.Time) {
		return a.Date.After(b.Date.Time)
	}
	return a.CreatedAt.After(b.CreatedAt)
}
