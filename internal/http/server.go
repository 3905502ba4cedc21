// Package http exposes the ledger and budget services as a JSON API. The
// surface is deliberately small: writes go through the ledger's unit of
// work, reads serve budget metrics and admin balance checks.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	applog "bilancio/internal/log"
	"bilancio/internal/services"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// writeRateLimit bounds mutating requests per client IP per minute.
const writeRateLimit = 60

// Server wires the HTTP routes to the application services.
type Server struct {
	http.Server

	ledger     *services.LedgerService
	budgets    *services.BudgetService
	categories *services.CategoryService

	logger       *applog.Logger
	structured   *applog.StructuredLogger
	rateLimiter  *rateLimiter
	metrics      *securityMetrics
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, logger *applog.Logger, ledger *services.LedgerService, budgets *services.BudgetService, categories *services.CategoryService) *Server {
	mux := http.NewServeMux()

	httpLogger := logger.WithComponent(applog.ComponentHTTP)
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ledger:      ledger,
		budgets:     budgets,
		categories:  categories,
		logger:      httpLogger,
		structured:  applog.NewStructuredLogger(httpLogger),
		rateLimiter: newRateLimiter(writeRateLimit, time.Minute),
		metrics:     &securityMetrics{},
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/transactions", s.withSecurityHeaders(s.handleCreateTransaction))
	mux.HandleFunc("PUT /api/transactions/{id}", s.withSecurityHeaders(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.withSecurityHeaders(s.handleDeleteTransaction))

	mux.HandleFunc("POST /api/accounts", s.withSecurityHeaders(s.handleCreateAccount))
	mux.HandleFunc("POST /api/categories", s.withSecurityHeaders(s.handleCreateCategory))

	mux.HandleFunc("POST /api/budgets", s.withSecurityHeaders(s.handleCreateBudget))
	mux.HandleFunc("PUT /api/budgets/{id}", s.withSecurityHeaders(s.handleUpdateBudget))
	mux.HandleFunc("GET /api/budgets/{id}/metrics", s.withSecurityHeaders(s.handleBudgetMetrics))
	mux.HandleFunc("GET /api/budgets/{id}/breakdown", s.withSecurityHeaders(s.handleBudgetBreakdown))
	mux.HandleFunc("POST /api/budgets/{id}/refresh", s.withSecurityHeaders(s.handleBudgetRefresh))
	mux.HandleFunc("POST /api/budgets/{id}/clear", s.withSecurityHeaders(s.handleBudgetClear))
	mux.HandleFunc("POST /api/budgets/refresh", s.withSecurityHeaders(s.handleBudgetRefreshAll))
	mux.HandleFunc("POST /api/budgets/clear", s.withSecurityHeaders(s.handleBudgetClearAll))

	mux.HandleFunc("GET /api/admin/balances", s.withSecurityHeaders(s.handleValidateBalances))
	mux.HandleFunc("POST /api/admin/accounts/{id}/reconcile", s.withSecurityHeaders(s.handleReconcileAccount))

	return s
}

// withSecurityHeaders adds security headers, rate limiting, and request
// logging to a handler.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		ctx = context.WithValue(ctx, applog.LoggerContextKey, s.logger.With(applog.FieldRequestID, requestID))
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		s.structured.LogHTTPStart(ctx, r, clientIP)

		if detectSuspiciousRequest(r, s.metrics) {
			s.logger.WarnContext(ctx, "Suspicious request rejected",
				applog.FieldRequestID, requestID,
				applog.FieldClientIP, clientIP,
				applog.FieldPath, r.URL.Path)
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		// Rate limit mutating requests only.
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP, s.metrics) {
			s.logger.WarnContext(ctx, "Rate limit exceeded",
				applog.FieldRequestID, requestID,
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.structured.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
