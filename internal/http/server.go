package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync/atomic"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/middleware/ratelimit"
	"spendlog/internal/middleware/security"
	"spendlog/internal/middleware/trace"
	appweb "spendlog/web"
)

const maxBodyBytes = 100 << 10

// ExpenseService is the subset of services.ExpenseService the handlers use.
type ExpenseService interface {
	Create(ctx context.Context, in core.NewExpense) (core.Expense, bool, error)
	List(ctx context.Context, f core.ListFilter) ([]core.Expense, error)
	Ping(ctx context.Context) error
}

type Config struct {
	Addr              string
	CORSAllowedOrigin string
	CurrencySymbol    string
	TrustedProxies    []string
	// Limiter is shared with the caller so it can run the stale entry sweep.
	// POST requests are not limited when nil.
	Limiter *ratelimit.Limiter
	Logger  *log.Logger
}

type Server struct {
	http.Server
	service   ExpenseService
	templates *template.Template
	logger    *log.Logger
	currency  string

	detector    *security.Detector
	rateLimiter *ratelimit.Limiter
	tracer      *trace.Middleware
	metrics     appMetrics
}

type appMetrics struct {
	created  atomic.Int64
	replayed atomic.Int64
	started  time.Time
}

// NewServer configures routes, templates and the middleware chain.
func NewServer(cfg Config, svc ExpenseService) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	for _, p := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(p); err != nil {
			return nil, fmt.Errorf("trusted proxies: %w", err)
		}
	}

	currency := cfg.CurrencySymbol
	if currency == "" {
		currency = "₹"
	}

	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		service:     svc,
		templates:   t,
		logger:      logger,
		currency:    currency,
		detector:    detector,
		rateLimiter: cfg.Limiter,
		tracer:      trace.NewMiddleware(logger, detector.ExtractClientIP),
		metrics:     appMetrics{started: time.Now()},
	}

	mux := http.NewServeMux()

	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(
		http.StripPrefix("/static/", http.FileServer(http.FS(static)))))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /expenses", s.handleCreateExpense)
	mux.HandleFunc("GET /expenses", s.handleListExpenses)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /ui/expenses", s.handleSubmitForm)

	corsCfg := security.DefaultCORSConfig()
	corsCfg.AllowedOrigin = cfg.CORSAllowedOrigin

	var h http.Handler = mux
	if s.rateLimiter != nil {
		h = s.rateLimiter.Middleware(detector.ExtractClientIP, s.writeRateLimited, http.MethodPost)(h)
	}
	h = security.CORS(corsCfg)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = detector.Middleware(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) writeRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Too many requests").Write(w)
}
