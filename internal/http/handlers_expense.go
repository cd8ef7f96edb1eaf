package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"moneymap/internal/core"
	"moneymap/internal/log"
	"moneymap/internal/session"
)

var errNoUpload = errors.New("no csv file in request")

// fragment renders a named partial to a string for use in a response body.
func (s *Server) fragment(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// historyResponse answers a working-set change with the refreshed history
// table and the matching HX-Trigger events.
func (s *Server) historyResponse(w http.ResponseWriter, r *http.Request, sess *session.Session, msg string) {
	html, err := s.fragment("history", s.pageData(sess))
	if err != nil {
		s.errorResponse(r, err, log.OpRender).Write(w)
		return
	}
	NewHTMXResponse().
		BodyHTML(html).
		TriggerExpensesChanged(sess.Len()).
		TriggerSuccessNotification(msg).
		Write(w)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	s.render(w, r, "history", s.pageData(sess))
}

// handleStored lists what the database holds for the user, independent
// of the working set.
func (s *Server) handleStored(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	rows, err := s.expenses.List(r.Context(), sess)
	if err != nil {
		s.errorResponse(r, err, log.OpList).Write(w)
		return
	}
	s.render(w, r, "stored", struct {
		Rows  []core.Expense
		Total core.Money
	}{rows, core.Total(rows)})
}

func (s *Server) handleVisualization(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	s.render(w, r, "visualization", s.pageData(sess))
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	var buf bytes.Buffer
	if err := s.expenses.Export(sess, &buf); err != nil {
		s.errorResponse(r, err, log.OpExport).Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="expenses.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	p := NewRequestBodyParser(w, r, s.maxUpload)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	e, err := ParseExpenseInput(p, s.now())
	if err != nil {
		s.errorResponse(r, err, log.OpCreate).Write(w)
		return
	}
	if _, err := s.expenses.Add(r.Context(), sess, e); err != nil {
		s.errorResponse(r, err, log.OpCreate).Write(w)
		return
	}
	atomic.AddInt64(&s.metrics.expensesAdded, 1)

	html, err := s.fragment("history", s.pageData(sess))
	if err != nil {
		s.errorResponse(r, err, log.OpRender).Write(w)
		return
	}
	NewHTMXResponse().
		BodyHTML(html).
		TriggerExpensesChanged(sess.Len()).
		TriggerStoredChanged().
		TriggerFormReset().
		TriggerSuccessNotification("Expense added successfully!").
		Write(w)
}

// handleDeleteExpense removes a persisted expense by id.
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	id, err := ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.errorResponse(r, err, log.OpDelete).Write(w)
		return
	}
	if err := s.expenses.Delete(r.Context(), sess, id); err != nil {
		s.errorResponse(r, err, log.OpDelete).Write(w)
		return
	}

	html, err := s.fragment("history", s.pageData(sess))
	if err != nil {
		s.errorResponse(r, err, log.OpRender).Write(w)
		return
	}
	NewHTMXResponse().
		BodyHTML(html).
		TriggerExpensesChanged(sess.Len()).
		TriggerStoredChanged().
		TriggerSuccessNotification("Expense deleted successfully!").
		Write(w)
}

// handleDeleteHistoryRow removes a working-set row by position, which also
// covers imported rows that have no id.
func (s *Server) handleDeleteHistoryRow(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	idx, err := ParseIndex(chi.URLParam(r, "index"))
	if err != nil {
		s.errorResponse(r, err, log.OpDelete).Write(w)
		return
	}
	e, err := s.expenses.DeleteAt(r.Context(), sess, idx)
	if err != nil {
		s.errorResponse(r, err, log.OpDelete).Write(w)
		return
	}
	if e.ID != 0 {
		w.Header().Set("HX-Trigger-After-Swap", EventStoredChanged)
	}
	s.historyResponse(w, r, sess, "Expense deleted successfully!")
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	n, err := s.expenses.Save(r.Context(), sess)
	if err != nil {
		s.errorResponse(r, err, log.OpExport).Write(w)
		return
	}
	SuccessResponse(fmt.Sprintf("Expenses saved successfully (%d rows to %s)", n, s.expenses.ExportPath())).
		Write(w)
}

// handleLoad imports an uploaded CSV. The file may arrive as the "file"
// field of a multipart form or as a raw text/csv body.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	src, closeFn, err := s.uploadedCSV(r)
	if err != nil {
		if errors.Is(err, errNoUpload) {
			WarningResponse("Please choose a CSV file to load.").Write(w)
			return
		}
		BadRequestError("Invalid upload").Write(w)
		return
	}
	defer closeFn()

	n, err := s.expenses.Import(r.Context(), sess, src)
	if err != nil {
		s.errorResponse(r, err, log.OpImport).Write(w)
		return
	}
	atomic.AddInt64(&s.metrics.imports, 1)
	s.historyResponse(w, r, sess, fmt.Sprintf("Loaded %d expenses from file.", n))
}

func (s *Server) uploadedCSV(r *http.Request) (io.Reader, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(s.maxUpload); err != nil {
			return nil, nil, err
		}
		f, _, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil, errNoUpload
		}
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	case mediaType == "text/csv" || strings.HasPrefix(mediaType, "text/plain"):
		return r.Body, func() {}, nil
	default:
		return nil, nil, errNoUpload
	}
}

// handleRestore reloads the working set from the database.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	n, err := s.expenses.Restore(r.Context(), sess)
	if err != nil {
		s.errorResponse(r, err, log.OpRead).Write(w)
		return
	}
	s.historyResponse(w, r, sess, fmt.Sprintf("Restored %d stored expenses.", n))
}
