package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"moneymap/internal/auth"
	"moneymap/internal/log"
	"moneymap/internal/services"
	"moneymap/internal/session"
	"moneymap/internal/storage"
)

type testEnv struct {
	srv        *Server
	repo       *storage.SQLiteRepository
	exportPath string
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	dir := t.TempDir()
	repo, err := storage.NewSQLiteRepository(filepath.Join(dir, "moneymap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	quiet := log.New(log.Config{Output: io.Discard})
	authSvc, err := auth.NewService(repo, session.NewStore(100, time.Hour),
		auth.WithCost(bcrypt.MinCost), auth.WithLogger(quiet))
	require.NoError(t, err)

	exportPath := filepath.Join(dir, "expenses.csv")
	srv, err := NewServer(Options{
		Auth:               authSvc,
		Expenses:           services.NewExpenseService(repo, exportPath, services.WithLogger(quiet)),
		Store:              repo,
		Logger:             quiet,
		RateLimitPerMinute: rateLimit,
		Now:                func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, repo: repo, exportPath: exportPath}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", cookie)
}

func (e *testEnv) login(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	rec := e.postForm(t, "/register", url.Values{"username": {username}, "password": {password}, "email": {username + "@example.com"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.postForm(t, "/login", url.Values{"username": {username}, "password": {password}}, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			require.NotEmpty(t, c.Value)
			require.True(t, c.HttpOnly)
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func addExpense(t *testing.T, e *testEnv, cookie *http.Cookie, category, amount, desc string) *httptest.ResponseRecorder {
	t.Helper()
	return e.postForm(t, "/expenses", url.Values{
		"date": {"2024-06-01"}, "category": {category}, "amount": {amount}, "description": {desc},
	}, cookie)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodGet, "/healthz", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = env.do(t, http.MethodGet, "/readyz", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"store":"ok"`)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestReadyReportsStoreFailure(t *testing.T) {
	env := newTestEnv(t, 0)
	env.srv.store = failingPinger{}

	rec := env.do(t, http.MethodGet, "/readyz", nil, "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "database is locked")
}

func TestIndexShowsLoginUntilAuthenticated(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodGet, "/", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "MoneyMap Tracer")
	require.Contains(t, rec.Body.String(), `action="/login"`)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	cookie := env.login(t, "alice", "s3cret")
	rec = env.do(t, http.MethodGet, "/", nil, "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "Welcome, alice")
	require.Contains(t, body, "Add Expense")
	require.Contains(t, body, "No expenses recorded yet.")
	require.Contains(t, body, "No expenses to visualize!")
	require.Contains(t, body, `value="2024-06-15"`)
}

func TestRegisterAndLoginErrors(t *testing.T) {
	env := newTestEnv(t, 0)
	env.login(t, "bob", "pw")

	tests := []struct {
		name string
		path string
		form url.Values
		code int
		msg  string
	}{
		{"duplicate username", "/register", url.Values{"username": {"bob"}, "password": {"x"}, "email": {"b@x.io"}}, http.StatusConflict, "Registration failed"},
		{"missing register fields", "/register", url.Values{"username": {"carol"}}, http.StatusUnprocessableEntity, "Please fill in all fields."},
		{"missing login fields", "/login", url.Values{"username": {"bob"}}, http.StatusUnprocessableEntity, "Please fill in all fields."},
		{"wrong password", "/login", url.Values{"username": {"bob"}, "password": {"nope"}}, http.StatusUnauthorized, "Invalid credentials."},
		{"unknown user", "/login", url.Values{"username": {"zed"}, "password": {"pw"}}, http.StatusUnauthorized, "Invalid credentials."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postForm(t, tt.path, tt.form, nil)
			require.Equal(t, tt.code, rec.Code)
			require.Contains(t, rec.Body.String(), tt.msg)
		})
	}
}

func TestLoginWithHTMXUsesRedirectHeader(t *testing.T) {
	env := newTestEnv(t, 0)
	env.login(t, "dana", "pw")

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("username=dana&password=pw"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "/", rec.Header().Get("HX-Redirect"))
	require.Contains(t, rec.Body.String(), "Logged in successfully!")
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, path := range []string{"/ui/history", "/ui/stored", "/ui/visualization", "/expenses/export.csv"} {
		rec := env.do(t, http.MethodGet, path, nil, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := addExpense(t, env, nil, "Food", "1", "x")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	bogus := &http.Cookie{Name: SessionCookie, Value: "not-a-token"}
	rec = env.do(t, http.MethodGet, "/ui/history", nil, "", bogus)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAddListAndDeleteExpense(t *testing.T) {
	env := newTestEnv(t, 0)
	cookie := env.login(t, "erin", "pw")

	rec := addExpense(t, env, cookie, "Food", "12.50", "Lunch")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "Lunch")
	require.Contains(t, rec.Body.String(), "$12.50")
	trigger := rec.Header().Get("HX-Trigger")
	require.Contains(t, trigger, EventExpensesChanged)
	require.Contains(t, trigger, EventFormReset)
	require.Contains(t, trigger, "Expense added successfully!")

	rec = addExpense(t, env, cookie, "Transport", "3", "Bus")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/ui/history", nil, "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "$15.50")

	rec = env.do(t, http.MethodGet, "/ui/visualization", nil, "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<svg")
	require.Contains(t, rec.Body.String(), "80.6%")
	require.Contains(t, rec.Body.String(), `<rect width="1" height="1" rx="0.15" fill="rgba(54, 162, 235, 0.8)"/>`)
	require.Contains(t, rec.Body.String(), `fill="rgba(255, 162, 235, 0.8)"/>`)
	require.NotContains(t, rec.Body.String(), "ZgotmplZ")

	rows, err := env.repo.ListExpenses(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rec = env.do(t, http.MethodDelete, "/expenses/"+itoa(rows[0].ID), nil, "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "Lunch")
	require.Contains(t, rec.Header().Get("HX-Trigger"), "Expense deleted successfully!")

	rec = env.do(t, http.MethodDelete, "/expenses/"+itoa(rows[0].ID), nil, "", cookie)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/history/0/delete", nil, "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "No expenses recorded yet.")

	rows, err = env.repo.ListExpenses(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, rows)

	rec = env.do(t, http.MethodPost, "/history/5/delete", nil, "", cookie)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddExpenseValidation(t *testing.T) {
	env := newTestEnv(t, 0)
	cookie := env.login(t, "finn", "pw")

	tests := []struct {
		name     string
		category string
		amount   string
		desc     string
		msg      string
	}{
		{"bad amount", "Food", "abc", "Lunch", "Please enter a valid amount and description."},
		{"zero amount", "Food", "0", "Lunch", "Please enter a valid amount and description."},
		{"blank description", "Food", "5", "  ", "Please enter a valid amount and description."},
		{"unknown category", "Gadgets", "5", "Phone", "Please choose one of the listed categories."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := addExpense(t, env, cookie, tt.category, tt.amount, tt.desc)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			require.Contains(t, rec.Body.String(), tt.msg)
		})
	}

	rows, err := env.repo.ListExpenses(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestSaveExportLoadAndRestore(t *testing.T) {
	env := newTestEnv(t, 0)
	cookie := env.login(t, "gus", "pw")
	require.Equal(t, http.StatusOK, addExpense(t, env, cookie, "Food", "12.50", "Lunch").Code)

	rec := env.do(t, http.MethodPost, "/expenses/save", nil, "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Expenses saved successfully")
	saved, err := os.ReadFile(env.exportPath)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(saved), "ID,Date,Category,Amount,Description\n"))
	require.Contains(t, string(saved), "2024-06-01,Food,12.50,Lunch")

	rec = env.do(t, http.MethodGet, "/expenses/export.csv", nil, "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	require.Equal(t, string(saved), rec.Body.String())

	t.Run("malformed file keeps working set", func(t *testing.T) {
		bad := "ID,Date,Category,Amount,Description\n,2024-01-01,Food,oops,Bad\n"
		rec := env.do(t, http.MethodPost, "/expenses/load", strings.NewReader(bad), "text/csv", cookie)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.Contains(t, rec.Body.String(), "line 2")

		rec = env.do(t, http.MethodGet, "/ui/history", nil, "", cookie)
		require.Contains(t, rec.Body.String(), "Lunch")
	})

	t.Run("missing file", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/expenses/load", nil, "", cookie)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("multipart upload replaces working set", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "expenses.csv")
		require.NoError(t, err)
		_, _ = io.WriteString(fw, "ID,Date,Category,Amount,Description\n,2024-02-01,Pets,40,Vet\n,2024-02-02,Food,2,Coffee\n")
		require.NoError(t, mw.Close())

		rec := env.do(t, http.MethodPost, "/expenses/load", &buf, mw.FormDataContentType(), cookie)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := rec.Body.String()
		require.Contains(t, body, "Vet")
		require.Contains(t, body, "Coffee")
		require.NotContains(t, body, "Lunch")
		require.Contains(t, rec.Header().Get("HX-Trigger"), "Loaded 2 expenses")
	})

	t.Run("stored rows are untouched by import", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/ui/stored", nil, "", cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "Lunch")
		require.NotContains(t, rec.Body.String(), "Vet")
	})

	t.Run("restore reloads from database", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/expenses/restore", nil, "", cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "Lunch")
		require.NotContains(t, rec.Body.String(), "Vet")
	})
}

func TestSessionsAreIsolatedPerUser(t *testing.T) {
	env := newTestEnv(t, 0)
	a := env.login(t, "hana", "pw")
	b := env.login(t, "ivan", "pw")
	require.Equal(t, http.StatusOK, addExpense(t, env, a, "Food", "9", "Hana lunch").Code)

	rec := env.do(t, http.MethodGet, "/ui/stored", nil, "", b)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "Hana lunch")

	rows, err := env.repo.ListExpenses(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	rec = env.do(t, http.MethodDelete, "/expenses/"+itoa(rows[0].ID), nil, "", b)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t, 0)
	cookie := env.login(t, "jo", "pw")

	rec := env.do(t, http.MethodPost, "/logout", nil, "", cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared)

	rec = env.do(t, http.MethodGet, "/ui/history", nil, "", cookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitedLogin(t *testing.T) {
	env := newTestEnv(t, 2)
	form := url.Values{"username": {"nobody"}, "password": {"x"}}
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusUnauthorized, env.postForm(t, "/login", form, nil).Code)
	}
	rec := env.postForm(t, "/login", form, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)
	cookie := env.login(t, "kim", "pw")
	require.Equal(t, http.StatusOK, addExpense(t, env, cookie, "Health", "20", "Pharmacy").Code)
	env.postForm(t, "/login", url.Values{"username": {"kim"}, "password": {"bad"}}, nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "expenses_added_total 1\n")
	require.Contains(t, body, "logins_total 1\n")
	require.Contains(t, body, "failed_logins_total 1\n")
	require.Contains(t, body, "# TYPE http_requests_total counter")
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
