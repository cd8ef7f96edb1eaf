package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"moneymap/internal/chart"
	"moneymap/internal/core"
	"moneymap/internal/log"
	"moneymap/internal/session"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.metrics.started).String(),
	})
}

// handleReady verifies the store answers within readyTimeout.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{
		"templates":    "ok",
		"rate_limiter": map[string]any{"active_clients": s.limiter.ActiveClients()},
	}

	switch {
	case s.store == nil:
		checks["store"] = "not_configured"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	default:
		if err := s.store.Ping(ctx); err != nil {
			checks["store"] = fmt.Sprintf("failed: %v", err)
			status, httpStatus = "not_ready", http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	traceMetrics := s.tracer.GetMetrics()
	securityMetrics := s.detector.GetMetrics()
	rateLimitMetrics := s.limiter.GetMetrics()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_server_errors_total", "counter", "Responses with a 5xx status", traceMetrics.ServerErrors)
	metric("http_response_time_avg_ms", "gauge", "Average response time in milliseconds", traceMetrics.AverageResponseTime.Milliseconds())
	metric("expenses_added_total", "counter", "Expenses recorded", atomic.LoadInt64(&s.metrics.expensesAdded))
	metric("logins_total", "counter", "Successful logins", atomic.LoadInt64(&s.metrics.logins))
	metric("failed_logins_total", "counter", "Rejected logins", atomic.LoadInt64(&s.metrics.failedLogins))
	metric("csv_imports_total", "counter", "Accepted CSV imports", atomic.LoadInt64(&s.metrics.imports))
	metric("suspicious_requests_total", "counter", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	metric("rate_limit_hits_total", "counter", "Total rate limit hits", rateLimitMetrics.TotalHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", fmt.Sprintf("%.0f", s.now().Sub(s.metrics.started).Seconds()))
}

type pageData struct {
	User       *session.Session
	Categories []core.Category
	Today      string
	Rows       []core.Expense
	Total      core.Money
	Donut      chart.Donut
	ExportPath string
}

func (s *Server) pageData(sess *session.Session) pageData {
	now := s.now()
	rows := s.expenses.History(sess)
	return pageData{
		User:       sess,
		Categories: core.Categories(),
		Today:      core.NewDate(now.Year(), int(now.Month()), now.Day()).String(),
		Rows:       rows,
		Total:      core.Total(rows),
		Donut:      chart.NewDonut(s.expenses.Breakdown(sess)),
		ExportPath: s.expenses.ExportPath(),
	}
}

// handleIndex renders the login page, or the dashboard once a session is
// attached.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	s.render(w, r, "index.html", s.pageData(sess))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r, s.maxUpload)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	u, err := s.auth.Register(r.Context(), p.Get("username"), p.GetRaw("password"), p.Get("email"))
	if err != nil {
		s.errorResponse(r, err, log.OpRegister).Write(w)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Registration completed",
		log.FieldUserID, u.ID, log.FieldUsername, u.Username)
	SuccessResponse("User registered successfully!").
		TriggerFormReset().
		Write(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r, s.maxUpload)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	sess, err := s.auth.Login(r.Context(), p.Get("username"), p.GetRaw("password"))
	if err != nil {
		atomic.AddInt64(&s.metrics.failedLogins, 1)
		s.errorResponse(r, err, log.OpLogin).Write(w)
		return
	}
	atomic.AddInt64(&s.metrics.logins, 1)
	s.setSessionCookie(w, sess.Token)
	s.redirectHome(w, r, "Logged in successfully!")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		s.auth.Logout(r.Context(), c.Value)
	}
	s.clearSessionCookie(w)
	s.redirectHome(w, r, "Logged out successfully.")
}

// redirectHome sends HTMX clients an HX-Redirect and plain form posts a 303.
func (s *Server) redirectHome(w http.ResponseWriter, r *http.Request, msg string) {
	if isHTMX(r) {
		NewHTMXResponse().Redirect("/").Message("success", msg).Write(w)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
