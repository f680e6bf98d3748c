// Package http provides the HTTP server and its handlers.
//
// This file turns request bodies, forms and query strings into core types.
// Every parse failure wraps core.ErrInvalidRequest so handlers can map it
// to a single generic 400 response.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"spendlog/internal/core"
)

// maxExactAmount is the largest integer a JSON number can carry exactly.
const maxExactAmount = 1 << 53

// CreateExpenseRequest is the JSON body of POST /expenses. Amount is a
// float so that a fractional value can be told apart from a type error.
type CreateExpenseRequest struct {
	Amount         *float64 `json:"amount"`
	Category       string   `json:"category"`
	Description    *string  `json:"description"`
	Date           string   `json:"date"`
	IdempotencyKey string   `json:"idempotencyKey"`
}

// ToNewExpense checks the amount and converts the request. Other fields are
// validated by core.NewExpense.Validate.
func (req CreateExpenseRequest) ToNewExpense() (core.NewExpense, error) {
	if req.Amount == nil {
		return core.NewExpense{}, core.ErrInvalidAmount
	}
	v := *req.Amount
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || v <= 0 || v > maxExactAmount {
		return core.NewExpense{}, core.ErrInvalidAmount
	}

	n := core.NewExpense{
		Amount:         core.Money{Cents: int64(v)},
		Category:       sanitizeInput(req.Category),
		Date:           strings.TrimSpace(req.Date),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}
	if req.Description != nil {
		n.Description = sanitizeInput(*req.Description)
	}
	return n, nil
}

// DecodeCreateExpense reads at most maxBodyBytes of JSON from r.
func DecodeCreateExpense(w http.ResponseWriter, r *http.Request) (core.NewExpense, error) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)

	var req CreateExpenseRequest
	if err := dec.Decode(&req); err != nil {
		return core.NewExpense{}, fmt.Errorf("%w: decode body: %v", core.ErrInvalidRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return core.NewExpense{}, fmt.Errorf("%w: trailing data after JSON body", core.ErrInvalidRequest)
	}

	n, err := req.ToNewExpense()
	if err != nil {
		return core.NewExpense{}, err
	}
	if err := n.Validate(); err != nil {
		return core.NewExpense{}, err
	}
	return n, nil
}

// ParseListFilter reads ?category= and ?sort= from the query string.
func ParseListFilter(query url.Values) core.ListFilter {
	return core.ListFilter{
		Category: sanitizeInput(query.Get("category")),
		Sort:     core.ParseSortOrder(query.Get("sort")),
	}
}

// ExpenseForm holds the raw values posted by the UI form, kept for
// re-rendering after an error.
type ExpenseForm struct {
	Amount         string
	Category       string
	Description    string
	Date           string
	IdempotencyKey string
}

func ParseExpenseForm(form url.Values) ExpenseForm {
	return ExpenseForm{
		Amount:         strings.TrimSpace(form.Get("amount")),
		Category:       sanitizeInput(form.Get("category")),
		Description:    sanitizeInput(form.Get("description")),
		Date:           strings.TrimSpace(form.Get("date")),
		IdempotencyKey: strings.TrimSpace(form.Get("idempotency_key")),
	}
}

// ToNewExpense converts the major-unit amount text to minor units.
func (f ExpenseForm) ToNewExpense() (core.NewExpense, error) {
	cents, err := core.ParseDecimalToCents(f.Amount)
	if err != nil {
		return core.NewExpense{}, err
	}
	n := core.NewExpense{
		Amount:         core.Money{Cents: cents},
		Category:       f.Category,
		Description:    f.Description,
		Date:           f.Date,
		IdempotencyKey: f.IdempotencyKey,
	}
	if err := n.Validate(); err != nil {
		return core.NewExpense{}, err
	}
	return n, nil
}
