package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/middleware/ratelimit"
)

// handleHealth is the liveness check. It does not touch the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]string{"status": "ok"}).Write(w)
}

// handleReady reports whether the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
		NewResponse().
			Status(http.StatusServiceUnavailable).
			JSON(map[string]string{"status": "not_ready"}).
			Write(w)
		return
	}
	NewResponse().JSON(map[string]string{"status": "ready"}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.tracer.GetMetrics()
	var rateLimitMetrics ratelimit.Metrics
	if s.rateLimiter != nil {
		rateLimitMetrics = s.rateLimiter.GetMetrics()
	}
	securityMetrics := s.detector.GetMetrics()

	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP http_server_errors_total Responses with a 5xx status\n")
	fmt.Fprintf(w, "# TYPE http_server_errors_total counter\n")
	fmt.Fprintf(w, "http_server_errors_total %d\n\n", traceMetrics.ServerErrors)

	fmt.Fprintf(w, "# HELP expenses_created_total Expenses created\n")
	fmt.Fprintf(w, "# TYPE expenses_created_total counter\n")
	fmt.Fprintf(w, "expenses_created_total %d\n\n", s.metrics.created.Load())

	fmt.Fprintf(w, "# HELP expenses_replayed_total Create requests answered with an existing record\n")
	fmt.Fprintf(w, "# TYPE expenses_replayed_total counter\n")
	fmt.Fprintf(w, "expenses_replayed_total %d\n\n", s.metrics.replayed.Load())

	fmt.Fprintf(w, "# HELP rate_limit_rejections_total Requests rejected by the rate limiter\n")
	fmt.Fprintf(w, "# TYPE rate_limit_rejections_total counter\n")
	fmt.Fprintf(w, "rate_limit_rejections_total %d\n\n", rateLimitMetrics.Rejected)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", rateLimitMetrics.ClientCount)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", securityMetrics.SuspiciousRequests)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", time.Since(s.metrics.started).Seconds())
}

// handleCreateExpense answers 201 for a new record and 200 when the
// idempotency key was already used.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	in, err := DecodeCreateExpense(w, r)
	if err != nil {
		logger.InfoContext(ctx, "Rejected create request",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeValidation,
			log.FieldOperation, log.OpValidate)
		BadRequestError().Write(w)
		return
	}

	e, created, err := s.service.Create(ctx, in)
	if err != nil {
		s.writeServiceError(ctx, w, err, log.OpCreate)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.metrics.created.Add(1)
	} else {
		s.metrics.replayed.Add(1)
	}
	NewResponse().Status(status).JSON(NewExpenseResponse(e)).Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items, err := s.service.List(ctx, ParseListFilter(r.URL.Query()))
	if err != nil {
		s.writeServiceError(ctx, w, err, log.OpList)
		return
	}
	NewResponse().JSON(NewExpenseListResponse(items)).Write(w)
}

func (s *Server) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	if errors.Is(err, core.ErrInvalidRequest) {
		BadRequestError().Write(w)
		return
	}
	log.FromContext(ctx).ErrorContext(ctx, "Expense operation failed",
		log.FieldError, err,
		log.FieldErrorType, log.ErrorTypeDatabase,
		log.FieldOperation, op)
	InternalServerError().Write(w)
}
