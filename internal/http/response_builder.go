// Package http provides the HTTP server and its handlers.
//
// This file implements a small builder for JSON responses so that every
// handler writes status, headers and body the same way.

package http

import (
	"encoding/json"
	"net/http"

	"spendlog/internal/core"
)

const (
	msgInvalidRequest = "Invalid request data"
	msgInternalError  = "Internal server error"
)

// ResponseBuilder provides a fluent API for building JSON responses.
type ResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewResponse creates a builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A nil body writes no content.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"` + msgInternalError + `"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(payload, '\n'))
}

type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse creates a JSON error response {"error": message}.
func ErrorResponse(statusCode int, message string) *ResponseBuilder {
	return NewResponse().Status(statusCode).JSON(errorBody{Error: message})
}

// BadRequestError never carries field detail.
func BadRequestError() *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, msgInvalidRequest)
}

func InternalServerError() *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, msgInternalError)
}

// ExpenseResponse is the wire form of a record. Description is null when
// empty.
type ExpenseResponse struct {
	ID             string  `json:"id"`
	Amount         int64   `json:"amount"`
	Category       string  `json:"category"`
	Description    *string `json:"description"`
	Date           string  `json:"date"`
	CreatedAt      string  `json:"created_at"`
	IdempotencyKey string  `json:"idempotency_key"`
}

func NewExpenseResponse(e core.Expense) ExpenseResponse {
	r := ExpenseResponse{
		ID:             e.ID,
		Amount:         e.Amount.Cents,
		Category:       e.Category,
		Date:           e.Date.String(),
		CreatedAt:      e.CreatedAtString(),
		IdempotencyKey: e.IdempotencyKey,
	}
	if e.Description != "" {
		d := e.Description
		r.Description = &d
	}
	return r
}

// NewExpenseListResponse never returns nil so an empty list encodes as [].
func NewExpenseListResponse(items []core.Expense) []ExpenseResponse {
	out := make([]ExpenseResponse, 0, len(items))
	for _, e := range items {
		out = append(out, NewExpenseResponse(e))
	}
	return out
}
