// Package csvfile reads and writes expense rows in the
// ID,Date,Category,Amount,Description format.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"moneymap/internal/core"
)

// Header is the column layout of every file this package produces and accepts.
var Header = []string{"ID", "Date", "Category", "Amount", "Description"}

var ErrEmptyFile = errors.New("file is empty")

// ParseError reports the first malformed line of a rejected file.
type ParseError struct {
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d, column %s: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Write encodes rows with a header line. Rows without an id get an empty
// ID column.
func Write(w io.Writer, rows []core.Expense) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range rows {
		id := ""
		if e.ID != 0 {
			id = strconv.FormatInt(e.ID, 10)
		}
		rec := []string{id, e.Date.String(), string(e.Category), e.Amount.String(), e.Description}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes rows to path, replacing any previous file. The file is
// written beside the target and renamed into place.
func Save(path string, rows []core.Expense) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".expenses-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Read decodes a whole file. Any malformed line rejects the file: the
// returned error is a *ParseError naming the line, and no rows are returned.
func Read(r io.Reader) ([]core.Expense, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, asParseError(err, 1)
	}
	if err := checkHeader(head); err != nil {
		return nil, &ParseError{Line: 1, Err: err}
	}

	var rows []core.Expense
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, asParseError(err, 0)
		}
		line, _ := cr.FieldPos(0)
		e, err := parseRecord(rec, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, e)
	}
	return rows, nil
}

func checkHeader(head []string) error {
	for i, want := range Header {
		got := strings.TrimSpace(strings.TrimPrefix(head[i], "\ufeff"))
		if !strings.EqualFold(got, want) {
			return fmt.Errorf("unexpected header %q, want %s", strings.Join(head, ","), strings.Join(Header, ","))
		}
	}
	return nil
}

func parseRecord(rec []string, line int) (core.Expense, error) {
	var e core.Expense

	if s := strings.TrimSpace(rec[0]); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return e, &ParseError{Line: line, Column: "ID", Err: fmt.Errorf("invalid id %q", s)}
		}
		e.ID = id
	}

	d, err := core.ParseDate(rec[1])
	if err != nil {
		return e, &ParseError{Line: line, Column: "Date", Err: fmt.Errorf("%w %q", err, rec[1])}
	}
	e.Date = d

	e.Category = core.Category(strings.TrimSpace(rec[2]))
	if e.Category == "" {
		return e, &ParseError{Line: line, Column: "Category", Err: core.ErrEmptyCategory}
	}

	m, err := core.ParseMoney(rec[3])
	if err != nil {
		return e, &ParseError{Line: line, Column: "Amount", Err: fmt.Errorf("%w %q", err, rec[3])}
	}
	e.Amount = m

	e.Description = strings.TrimSpace(rec[4])
	if e.Description == "" {
		return e, &ParseError{Line: line, Column: "Description", Err: core.ErrEmptyDescription}
	}
	if err := e.Validate(); err != nil {
		return e, &ParseError{Line: line, Err: err}
	}
	return e, nil
}

func asParseError(err error, line int) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Err: pe.Err}
	}
	return &ParseError{Line: line, Err: err}
}
