package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/middleware/ratelimit"
	"spendlog/internal/services"
	"spendlog/internal/storage/memory"
)

type brokenService struct{}

func (brokenService) Create(context.Context, core.NewExpense) (core.Expense, bool, error) {
	return core.Expense{}, false, errors.New("database is locked")
}

func (brokenService) List(context.Context, core.ListFilter) ([]core.Expense, error) {
	return nil, errors.New("database is locked")
}

func (brokenService) Ping(context.Context) error { return errors.New("database is locked") }

func quietLogger() *log.Logger {
	return log.New(log.Config{Output: io.Discard})
}

func newTestServer(t *testing.T, svc ExpenseService, limit int) *Server {
	t.Helper()
	srv, err := NewServer(Config{
		Addr:           ":0",
		CurrencySymbol: "₹",
		Limiter:        ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: limit}),
		Logger:         quietLogger(),
	}, svc)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func newMemoryService() *services.ExpenseService {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return services.NewExpenseService(memory.New(),
		services.WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}))
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeExpense(t *testing.T, rr *httptest.ResponseRecorder) ExpenseResponse {
	t.Helper()
	var e ExpenseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return e
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, newMemoryService(), 60)

	rr := do(t, srv.Handler, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("health: %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("health should carry CORS header")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}

	if rr := do(t, srv.Handler, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rr.Code)
	}

	broken := newTestServer(t, brokenService{}, 60)
	if rr := do(t, broken.Handler, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with broken store: %d", rr.Code)
	}
	if rr := do(t, broken.Handler, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health must not depend on the store: %d", rr.Code)
	}
}

func TestCreateExpenseIdempotent(t *testing.T) {
	srv := newTestServer(t, newMemoryService(), 60)
	body := `{"amount":500,"category":"Food","date":"2024-01-01","idempotencyKey":"k1"}`

	first := do(t, srv.Handler, http.MethodPost, "/expenses", body)
	if first.Code != http.StatusCreated {
		t.Fatalf("first create: %d %s", first.Code, first.Body.String())
	}
	created := decodeExpense(t, first)
	if created.ID == "" || created.Amount != 500 || created.Description != nil {
		t.Fatalf("unexpected record: %+v", created)
	}
	if !strings.Contains(first.Body.String(), `"description":null`) {
		t.Fatalf("empty description should render null: %s", first.Body.String())
	}

	second := do(t, srv.Handler, http.MethodPost, "/expenses",
		`{"amount":999,"category":"Other","date":"2024-05-05","idempotencyKey":"k1"}`)
	if second.Code != http.StatusOK {
		t.Fatalf("replay: %d %s", second.Code, second.Body.String())
	}
	if replayed := decodeExpense(t, second); replayed != created {
		t.Fatalf("replay returned a different record:\n%+v\n%+v", replayed, created)
	}

	list := do(t, srv.Handler, http.MethodGet, "/expenses?category=Food", "")
	var items []ExpenseResponse
	if err := json.Unmarshal(list.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 1 || items[0].ID != created.ID {
		t.Fatalf("list = %+v", items)
	}
}

func TestCreateExpenseValidation(t *testing.T) {
	srv := newTestServer(t, newMemoryService(), 60)

	bodies := []string{
		`{"amount":12.5,"category":"Food","date":"2024-01-01","idempotencyKey":"k"}`,
		`{"amount":"12","category":"Food","date":"2024-01-01","idempotencyKey":"k"}`,
		`{"amount":12,"category":"","date":"2024-01-01","idempotencyKey":"k"}`,
		`{"amount":12,"category":"Food","date":"01/01/2024","idempotencyKey":"k"}`,
		`{"amount":12,"category":"Food","date":"2024-01-01"}`,
		`not json`,
	}
	for _, b := range bodies {
		rr := do(t, srv.Handler, http.MethodPost, "/expenses", b)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: code %d", b, rr.Code)
		}
		if strings.TrimSpace(rr.Body.String()) != `{"error":"Invalid request data"}` {
			t.Fatalf("%s: body %s", b, rr.Body.String())
		}
	}

	list := do(t, srv.Handler, http.MethodGet, "/expenses", "")
	if strings.TrimSpace(list.Body.String()) != "[]" {
		t.Fatalf("rejected requests must not store rows: %s", list.Body.String())
	}
}

func TestStoreFailureIs500(t *testing.T) {
	srv := newTestServer(t, brokenService{}, 60)

	rr := do(t, srv.Handler, http.MethodPost, "/expenses",
		`{"amount":5,"category":"Food","date":"2024-01-01","idempotencyKey":"k"}`)
	if rr.Code != http.StatusInternalServerError ||
		strings.TrimSpace(rr.Body.String()) != `{"error":"Internal server error"}` {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}

	if rr := do(t, srv.Handler, http.MethodGet, "/expenses", ""); rr.Code != http.StatusInternalServerError {
		t.Fatalf("list: %d", rr.Code)
	}
}

func TestListExpensesSortAndFilter(t *testing.T) {
	srv := newTestServer(t, newMemoryService(), 60)
	for _, b := range []string{
		`{"amount":100,"category":"Food","date":"2024-01-01","idempotencyKey":"a"}`,
		`{"amount":200,"category":"Travel","date":"2024-03-01","idempotencyKey":"b"}`,
		`{"amount":300,"category":"Food","date":"2024-02-01","idempotencyKey":"c"}`,
	} {
		if rr := do(t, srv.Handler, http.MethodPost, "/expenses", b); rr.Code != http.StatusCreated {
			t.Fatalf("seed: %d", rr.Code)
		}
	}

	tests := []struct {
		target string
		keys   []string
	}{
		{"/expenses", []string{"a", "b", "c"}},
		{"/expenses?sort=date_desc", []string{"b", "c", "a"}},
		{"/expenses?category=Food&sort=date_desc", []string{"c", "a"}},
		{"/expenses?category=Nope", []string{}},
	}
	for _, tt := range tests {
		rr := do(t, srv.Handler, http.MethodGet, tt.target, "")
		var items []ExpenseResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
			t.Fatalf("%s: %v", tt.target, err)
		}
		if len(items) != len(tt.keys) {
			t.Fatalf("%s: got %d items", tt.target, len(items))
		}
		for i, k := range tt.keys {
			if items[i].IdempotencyKey != k {
				t.Fatalf("%s: item %d = %s, want %s", tt.target, i, items[i].IdempotencyKey, k)
			}
		}
	}
}

func TestPreflightAndMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, newMemoryService(), 60)

	if rr := do(t, srv.Handler, http.MethodOptions, "/expenses", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: %d", rr.Code)
	}
	if rr := do(t, srv.Handler, http.MethodDelete, "/expenses", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("delete: %d", rr.Code)
	}
}

func TestRateLimitOnlyOnPost(t *testing.T) {
	srv := newTestServer(t, newMemoryService(), 1)

	if rr := do(t, srv.Handler, http.MethodPost, "/expenses",
		`{"amount":5,"category":"Food","date":"2024-01-01","idempotencyKey":"k"}`); rr.Code != http.StatusCreated {
		t.Fatalf("first post: %d", rr.Code)
	}
	rr := do(t, srv.Handler, http.MethodPost, "/expenses",
		`{"amount":5,"category":"Food","date":"2024-01-01","idempotencyKey":"k"}`)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("second post: %d", rr.Code)
	}
	if rr := do(t, srv.Handler, http.MethodGet, "/expenses", ""); rr.Code != http.StatusOK {
		t.Fatalf("GET must not be limited: %d", rr.Code)
	}
}

func TestIndexRendersListAndSummary(t *testing.T) {
	srv := newTestServer(t, newMemoryService(), 60)
	for _, b := range []string{
		`{"amount":1234,"category":"Food","date":"2024-01-01","idempotencyKey":"a"}`,
		`{"amount":500,"category":"Travel","date":"2024-01-02","idempotencyKey":"b"}`,
	} {
		do(t, srv.Handler, http.MethodPost, "/expenses", b)
	}

	rr := do(t, srv.Handler, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("index: %d", rr.Code)
	}
	page := rr.Body.String()
	for _, want := range []string{
		"₹17.34",
		`2024-01-01</span> — <span class="category">Food</span> — <span class="amount">₹12.34</span>`,
		`name="idempotency_key"`,
		`<option value="Travel"`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("index missing %q", want)
		}
	}

	rr = do(t, srv.Handler, http.MethodGet, "/?category=Travel", "")
	page = rr.Body.String()
	if !strings.Contains(page, "₹5.00") || strings.Contains(page, "₹12.34") {
		t.Errorf("filtered page should only show Travel rows")
	}
	if !strings.Contains(page, `<option value="Food"`) {
		t.Errorf("filter options should list every category")
	}

	if rr := do(t, srv.Handler, http.MethodGet, "/static/app.css", ""); rr.Code != http.StatusOK {
		t.Errorf("static css: %d", rr.Code)
	}
	if rr := do(t, srv.Handler, http.MethodGet, "/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path: %d", rr.Code)
	}
}

func postForm(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ui/expenses", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestFormSubmission(t *testing.T) {
	svc := newMemoryService()
	srv := newTestServer(t, svc, 60)

	form := url.Values{
		"amount":          {"12.34"},
		"category":        {"Food"},
		"description":     {"lunch"},
		"date":            {"2024-01-01"},
		"idempotency_key": {"form-1"},
	}
	rr := postForm(srv.Handler, form)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Fatalf("submit: %d %s", rr.Code, rr.Header().Get("Location"))
	}

	// double submit of the same rendered form
	if rr := postForm(srv.Handler, form); rr.Code != http.StatusSeeOther {
		t.Fatalf("resubmit: %d", rr.Code)
	}
	items, err := svc.List(context.Background(), core.ListFilter{})
	if err != nil || len(items) != 1 || items[0].Amount.Cents != 1234 {
		t.Fatalf("items = %+v, err = %v", items, err)
	}

	form.Set("amount", "abc")
	form.Set("idempotency_key", "form-2")
	rr = postForm(srv.Handler, form)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Invalid request data") {
		t.Fatalf("invalid form: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `value="form-2"`) {
		t.Fatalf("re-rendered form should keep its idempotency key")
	}
}

func TestFormSubmissionStoreFailure(t *testing.T) {
	srv := newTestServer(t, brokenService{}, 60)
	rr := postForm(srv.Handler, url.Values{
		"amount":          {"1"},
		"category":        {"Food"},
		"date":            {"2024-01-01"},
		"idempotency_key": {"k"},
	})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Please retry in a few seconds") {
		t.Fatalf("missing retry message")
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, newMemoryService(), 60)
	body := `{"amount":500,"category":"Food","date":"2024-01-01","idempotencyKey":"m1"}`
	do(t, srv.Handler, http.MethodPost, "/expenses", body)
	do(t, srv.Handler, http.MethodPost, "/expenses", body)

	rr := do(t, srv.Handler, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rr.Code)
	}
	out := rr.Body.String()
	for _, want := range []string{
		"expenses_created_total 1\n",
		"expenses_replayed_total 1\n",
		"rate_limit_rejections_total 0\n",
		"# TYPE uptime_seconds gauge",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q in:\n%s", want, out)
		}
	}
}

func TestWithoutLimiter(t *testing.T) {
	srv, err := NewServer(Config{Addr: ":0", Logger: quietLogger()}, newMemoryService())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	for i := 0; i < 5; i++ {
		body := `{"amount":100,"category":"Food","date":"2024-01-01","idempotencyKey":"n` + string(rune('a'+i)) + `"}`
		if rr := do(t, srv.Handler, http.MethodPost, "/expenses", body); rr.Code != http.StatusCreated {
			t.Fatalf("post %d: %d %s", i, rr.Code, rr.Body.String())
		}
	}
	if rr := do(t, srv.Handler, http.MethodGet, "/metrics", ""); !strings.Contains(rr.Body.String(), "active_rate_limit_clients 0\n") {
		t.Errorf("unexpected metrics:\n%s", rr.Body.String())
	}
}
