// Package client is a Go API client for the expense service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"spendlog/internal/core"
	"spendlog/internal/log"
)

// ErrUnavailable is returned once every attempt has failed. Hosted
// deployments often sleep when idle, so the first calls may time out.
var ErrUnavailable = errors.New("backend is waking up, please retry in a few seconds")

const (
	defaultAttemptTimeout = 15 * time.Second
	defaultRetryDelay     = 2 * time.Second
	defaultMaxRetries     = 2
)

type Client struct {
	baseURL        string
	httpClient     *http.Client
	attemptTimeout time.Duration
	retryDelay     time.Duration
	maxRetries     uint64
	newKey         func() string
	logger         *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAttemptTimeout bounds each single request.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithRetry sets the fixed delay between attempts and how many retries
// follow the first attempt.
func WithRetry(delay time.Duration, retries uint64) Option {
	return func(c *Client) {
		c.retryDelay = delay
		c.maxRetries = retries
	}
}

func WithKeyGenerator(f func() string) Option {
	return func(c *Client) { c.newKey = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the service at baseURL, e.g. http://localhost:4000.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		attemptTimeout: defaultAttemptTimeout,
		retryDelay:     defaultRetryDelay,
		maxRetries:     defaultMaxRetries,
		newKey:         uuid.NewString,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(log.FieldComponent, log.ComponentClient)
	return c
}

type createRequest struct {
	Amount         int64   `json:"amount"`
	Category       string  `json:"category"`
	Description    *string `json:"description,omitempty"`
	Date           string  `json:"date"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

type record struct {
	ID             string  `json:"id"`
	Amount         int64   `json:"amount"`
	Category       string  `json:"category"`
	Description    *string `json:"description"`
	Date           string  `json:"date"`
	CreatedAt      string  `json:"created_at"`
	IdempotencyKey string  `json:"idempotency_key"`
}

func (r record) expense() (core.Expense, error) {
	d, err := core.ParseDate(r.Date)
	if err != nil {
		return core.Expense{}, err
	}
	createdAt, err := core.ParseTimestamp(r.CreatedAt)
	if err != nil {
		return core.Expense{}, err
	}
	e := core.Expense{
		ID:             r.ID,
		Amount:         core.Money{Cents: r.Amount},
		Category:       r.Category,
		Date:           d,
		CreatedAt:      createdAt,
		IdempotencyKey: r.IdempotencyKey,
	}
	if r.Description != nil {
		e.Description = *r.Description
	}
	return e, nil
}

// CreateExpense posts in, retrying on any transport error, timeout or
// non-2xx status. Every attempt carries the same idempotency key, generated
// here when in has none, so a retry never creates a second record. created
// is false when the server answered with an existing record.
func (c *Client) CreateExpense(ctx context.Context, in core.NewExpense) (e core.Expense, created bool, err error) {
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		in.IdempotencyKey = c.newKey()
	}
	body := createRequest{
		Amount:         in.Amount.Cents,
		Category:       in.Category,
		Date:           in.Date,
		IdempotencyKey: in.IdempotencyKey,
	}
	if in.Description != "" {
		body.Description = &in.Description
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return core.Expense{}, false, fmt.Errorf("marshal request: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(actx, http.MethodPost, c.baseURL+"/expenses", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		var rec record
		status, err := c.do(req, &rec)
		if err != nil {
			return err
		}
		if e, err = rec.expense(); err != nil {
			return fmt.Errorf("decoding record: %w", err)
		}
		created = status == http.StatusCreated
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "Create expense attempt failed",
			log.FieldError, err,
			"attempt", attempt,
			"retry_in", wait.String(),
			log.FieldIdempotencyKey, in.IdempotencyKey)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctx.Err() != nil {
			return core.Expense{}, false, fmt.Errorf("create expense: %w", ctx.Err())
		}
		c.logger.ErrorContext(ctx, "Create expense gave up",
			log.FieldError, err,
			"attempts", attempt,
			log.FieldIdempotencyKey, in.IdempotencyKey)
		return core.Expense{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e, created, nil
}

// ListExpenses fetches the expenses matching f in a single attempt.
func (c *Client) ListExpenses(ctx context.Context, f core.ListFilter) ([]core.Expense, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	q := url.Values{}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Sort != core.SortInsertion {
		q.Set("sort", string(f.Sort))
	}
	target := c.baseURL + "/expenses"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	var recs []record
	if _, err := c.do(req, &recs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]core.Expense, 0, len(recs))
	for _, r := range recs {
		e, err := r.expense()
		if err != nil {
			return nil, fmt.Errorf("decoding record %s: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Health reports whether the service answers its liveness check.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	var body struct {
		Status string `json:"status"`
	}
	if _, err := c.do(req, &body); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("%w: health status %q", ErrUnavailable, body.Status)
	}
	return nil
}

// do sends req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}
