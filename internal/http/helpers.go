package http

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"moneymap/internal/auth"
	"moneymap/internal/core"
	"moneymap/internal/csvfile"
	"moneymap/internal/log"
	"moneymap/internal/services"
	"moneymap/internal/session"
	"moneymap/internal/storage"
)

var templateFuncs = template.FuncMap{
	"amount": formatAmount,
	// inc turns a zero-based index into a row number.
	"inc": func(i int) int { return i + 1 },
}

// formatAmount renders money the way the history table shows it ("$12.34").
func formatAmount(m core.Money) string {
	if m.Cents < 0 {
		return "-$" + core.Money{Cents: -m.Cents}.String()
	}
	return "$" + m.String()
}

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s))
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// errorResponse maps domain errors to a status and a message the user can
// act on. Unknown errors are logged and reported as a 500. CSV parse
// errors wrap field errors, so they are matched first.
func (s *Server) errorResponse(r *http.Request, err error, op string) *HTMXResponseBuilder {
	var parseErr *csvfile.ParseError
	switch {
	case errors.As(err, &parseErr):
		return WarningResponse("Invalid CSV file, nothing was loaded: " + parseErr.Error())
	case errors.Is(err, session.ErrNotAuthenticated):
		return UnauthorizedError("Please log in to continue.")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return UnauthorizedError("Invalid credentials.")
	case errors.Is(err, auth.ErrMissingFields):
		return WarningResponse("Please fill in all fields.")
	case errors.Is(err, auth.ErrPasswordTooLong):
		return WarningResponse("Password is too long (max 72 bytes).")
	case errors.Is(err, storage.ErrDuplicateUsername):
		return ConflictError("Registration failed: username already taken.")
	case errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrEmptyDescription):
		return WarningResponse("Please enter a valid amount and description.")
	case errors.Is(err, core.ErrDescriptionLong):
		return WarningResponse("Description is too long (max 200 characters).")
	case errors.Is(err, core.ErrInvalidDate):
		return WarningResponse("Please enter a valid date.")
	case errors.Is(err, core.ErrEmptyCategory), errors.Is(err, core.ErrUnknownCategory):
		return WarningResponse("Please choose one of the listed categories.")
	case errors.Is(err, csvfile.ErrEmptyFile):
		return WarningResponse("The uploaded file is empty.")
	case errors.Is(err, services.ErrExpenseNotFound), errors.Is(err, session.ErrIndexOutOfRange):
		return NotFoundError("Expense not found.")
	case errors.Is(err, errInvalidIndex):
		return BadRequestError("Invalid expense reference.")
	}

	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogError(r.Context(), "Request failed", err, op, nil)
	return InternalServerError("Something went wrong. Please try again.")
}

// render executes a template into a buffer first so a failing template
// never leaves a half-written page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err, "template", name, log.FieldOperation, log.OpRender)
		InternalServerError("Could not render page.").Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// loadSession attaches the session named by the cookie, if it is live,
// and tags the request logger with the user.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(SessionCookie)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, ok := s.auth.Session(c.Value)
		if !ok {
			s.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}
		ctx := session.WithSession(r.Context(), sess)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, sess.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := session.FromContext(r.Context()); err != nil {
			s.errorResponse(r, err, "").Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
