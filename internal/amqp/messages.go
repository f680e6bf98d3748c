package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"spendlog/internal/core"
)

// ExpenseCreatedMessage carries a full expense record. Records are
// immutable, so consumers never need to read the store back.
type ExpenseCreatedMessage struct {
	ID             string    `json:"id"`
	Amount         int64     `json:"amount"`
	Category       string    `json:"category"`
	Description    string    `json:"description,omitempty"`
	Date           string    `json:"date"`
	CreatedAt      string    `json:"created_at"`
	IdempotencyKey string    `json:"idempotency_key"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewExpenseCreatedMessage(e core.Expense) *ExpenseCreatedMessage {
	return &ExpenseCreatedMessage{
		ID:             e.ID,
		Amount:         e.Amount.Cents,
		Category:       e.Category,
		Description:    e.Description,
		Date:           e.Date.String(),
		CreatedAt:      e.CreatedAtString(),
		IdempotencyKey: e.IdempotencyKey,
		Timestamp:      time.Now().UTC(),
	}
}

func (m *ExpenseCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Expense converts the message back into a domain record.
func (m *ExpenseCreatedMessage) Expense() (core.Expense, error) {
	if m.ID == "" {
		return core.Expense{}, errors.New("message has no expense id")
	}
	d, err := core.ParseDate(m.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("message %s: %w", m.ID, err)
	}
	created, err := core.ParseTimestamp(m.CreatedAt)
	if err != nil {
		return core.Expense{}, fmt.Errorf("message %s: %w", m.ID, err)
	}
	return core.Expense{
		ID:             m.ID,
		Amount:         core.Money{Cents: m.Amount},
		Category:       m.Category,
		Description:    m.Description,
		Date:           d,
		CreatedAt:      created,
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

func ExpenseCreatedMessageFromJSON(data []byte) (*ExpenseCreatedMessage, error) {
	var msg ExpenseCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
