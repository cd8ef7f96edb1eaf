// Package http serves the MoneyMap web interface: server-rendered pages
// with HTMX fragments over a chi router.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"moneymap/internal/auth"
	"moneymap/internal/cache"
	"moneymap/internal/log"
	"moneymap/internal/middleware/ratelimit"
	"moneymap/internal/middleware/security"
	"moneymap/internal/middleware/trace"
	"moneymap/internal/services"
	appweb "moneymap/web"
)

const (
	// SessionCookie carries the opaque session token.
	SessionCookie = "moneymap_session"

	defaultMaxUpload = 1 << 20
	readyTimeout     = 5 * time.Second
)

// Pinger is the readiness probe of the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Server. Auth and Expenses are required.
type Options struct {
	Addr               string
	Auth               *auth.Service
	Expenses           *services.ExpenseService
	Store              Pinger
	Logger             *log.Logger
	Caches             *cache.Manager
	RateLimitPerMinute int
	MaxUploadBytes     int64
	SecureCookies      bool
	Now                func() time.Time
}

type appMetrics struct {
	started       time.Time
	expensesAdded int64
	logins        int64
	failedLogins  int64
	imports       int64
}

type Server struct {
	http.Server
	templates *template.Template
	auth      *auth.Service
	expenses  *services.ExpenseService
	store     Pinger
	logger    *log.Logger

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	headers  *security.HeadersMiddleware

	maxUpload     int64
	secureCookies bool
	now           func() time.Time
	metrics       appMetrics

	shutdownOnce sync.Once
}

// NewServer parses the embedded templates and builds the router.
func NewServer(opts Options) (*Server, error) {
	if opts.Auth == nil || opts.Expenses == nil {
		return nil, fmt.Errorf("http server needs auth and expense services")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}

	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		Server:        http.Server{Addr: opts.Addr, ReadHeaderTimeout: 10 * time.Second},
		templates:     tmpl,
		auth:          opts.Auth,
		expenses:      opts.Expenses,
		store:         opts.Store,
		logger:        logger.WithComponent(log.ComponentHTTP),
		limiter:       ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:      security.NewDetector(logger),
		headers:       security.NewHeadersMiddleware(security.DefaultHeadersConfig()),
		maxUpload:     opts.MaxUploadBytes,
		secureCookies: opts.SecureCookies,
		now:           opts.Now,
		metrics:       appMetrics{started: opts.Now()},
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)
	if opts.Caches != nil {
		opts.Caches.Register("rate_limiter", s.limiter.Cleaner())
	}

	s.Handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.tracer.Middleware)
	r.Use(s.detector.Middleware)
	r.Use(s.headers.Middleware)
	r.Use(s.loadSession)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.With(security.StaticAssetMiddleware(3600)).Handle("/static/*", static)
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit)

	r.With(security.NoStore).Get("/", s.handleIndex)
	r.With(limited).Post("/register", s.handleRegister)
	r.With(limited).Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession, security.NoStore)

		r.Get("/ui/history", s.handleHistory)
		r.Get("/ui/stored", s.handleStored)
		r.Get("/ui/visualization", s.handleVisualization)
		r.Get("/expenses/export.csv", s.handleExportCSV)

		r.Group(func(r chi.Router) {
			r.Use(limited)
			r.Post("/expenses", s.handleCreateExpense)
			r.Delete("/expenses/{id}", s.handleDeleteExpense)
			r.Post("/expenses/{id}/delete", s.handleDeleteExpense)
			r.Post("/history/{index}/delete", s.handleDeleteHistoryRow)
			r.Post("/expenses/save", s.handleSave)
			r.Post("/expenses/load", s.handleLoad)
			r.Post("/expenses/restore", s.handleRestore)
		})
	})

	return r
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r), log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Too many requests. Please try again in a minute.").
		Header("Retry-After", "60").
		Write(w)
}

// Shutdown gracefully shuts down the server. It is safe to call twice.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Server.Shutdown(ctx)
	})
	return err
}
