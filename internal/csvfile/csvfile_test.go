package csvfile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"moneymap/internal/core"
)

func sampleRows() []core.Expense {
	return []core.Expense{
		{ID: 1, Date: core.NewDate(2025, 1, 2), Category: core.Food, Amount: core.Money{Cents: 1000}, Description: "Groceries"},
		{ID: 2, Date: core.NewDate(2025, 1, 3), Category: core.Transport, Amount: core.Money{Cents: 1}, Description: `Bus, "night" line`},
		{Date: core.NewDate(2025, 1, 4), Category: "Pets", Amount: core.Money{Cents: 2550}, Description: "Cat food"},
	}
}

func TestWriteFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleRows()[:1]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := "ID,Date,Category,Amount,Description\n1,2025-01-02,Food,10.00,Groceries\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestRoundTrip(t *testing.T) {
	in := sampleRows()
	var buf bytes.Buffer
	if err := Write(&buf, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d rows, got %d", len(in), len(out))
	}
	for i := range in {
		a, b := in[i], out[i]
		if a.ID != b.ID || a.Date.String() != b.Date.String() || a.Category != b.Category ||
			a.Amount != b.Amount || a.Description != b.Description {
			t.Fatalf("row %d: got %+v, want %+v", i, b, a)
		}
	}
}

func TestReadRejectsWholeFile(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		line   int
		column string
	}{
		{"bad header", "Id,When,Category,Amount,Description\n", 1, ""},
		{"bad amount", "ID,Date,Category,Amount,Description\n1,2025-01-01,Food,10,ok\n2,2025-01-01,Food,abc,bad\n", 3, "Amount"},
		{"zero amount", "ID,Date,Category,Amount,Description\n,2025-01-01,Food,0,zero\n", 2, "Amount"},
		{"bad date", "ID,Date,Category,Amount,Description\n1,01/02/2025,Food,1,x\n", 2, "Date"},
		{"bad id", "ID,Date,Category,Amount,Description\nx,2025-01-01,Food,1,x\n", 2, "ID"},
		{"empty description", "ID,Date,Category,Amount,Description\n1,2025-01-01,Food,1,\n", 2, "Description"},
		{"empty category", "ID,Date,Category,Amount,Description\n1,2025-01-01,,1,x\n", 2, "Category"},
		{"missing column", "ID,Date,Category,Amount,Description\n1,2025-01-01,Food,1\n", 2, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := Read(strings.NewReader(tc.body))
			if rows != nil {
				t.Fatalf("expected no rows, got %d", len(rows))
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if pe.Line != tc.line || pe.Column != tc.column {
				t.Fatalf("expected line %d column %q, got %+v", tc.line, tc.column, pe)
			}
		})
	}
}

func TestReadEmpty(t *testing.T) {
	if _, err := Read(strings.NewReader("")); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
	rows, err := Read(strings.NewReader("ID,Date,Category,Amount,Description\n"))
	if err != nil || len(rows) != 0 {
		t.Fatalf("header-only file should yield no rows, got %v %v", rows, err)
	}
}

func TestReadAcceptsHeaderVariants(t *testing.T) {
	body := "\ufeffid, date, category, amount, description\n7,2025-02-01,Health,\"3,50\",Pharmacy\n"
	rows, err := Read(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 7 || rows[0].Amount.Cents != 350 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "expenses.csv")
	if err := Save(path, sampleRows()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(path, sampleRows()[:1]); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Fatalf("expected header plus one row, got %d lines:\n%s", got, data)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}
