// Package google mirrors persisted expenses into a Google spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"moneymap/internal/cache"
	"moneymap/internal/core"
	"moneymap/internal/sheets"
)

// header is written to row 1 of an empty sheet. Column A holds the
// expense id and is what rows are looked up by.
var header = []any{"ID", "Date", "Category", "Amount", "Description", "User ID"}

const (
	rowCacheSize = 10000
	rowCacheTTL  = 10 * time.Minute
)

var _ sheets.Mirror = (*Client)(nil)

// Options configures a Client.
type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	values    valuesAPI
	sheetName string

	mu          sync.Mutex
	headerReady bool
	rows        *cache.LRUCache[int]
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, opts.CredentialsJSON, opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(&sheetsValues{svc: svc, spreadsheetID: opts.SpreadsheetID}, opts.SheetName), nil
}

func newClient(values valuesAPI, sheetName string) *Client {
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Expenses"
	}
	return &Client{
		values:    values,
		sheetName: sheetName,
		rows:      cache.NewLRUCache[int](rowCacheSize, rowCacheTTL),
	}
}

// RowCache exposes the id-to-row cache for periodic expiry.
func (c *Client) RowCache() cache.Cleaner { return c.rows }

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Inline JSON wins over the file; GOOGLE_APPLICATION_CREDENTIALS is the last resort.
func newSheetsService(ctx context.Context, credentialsJSON, credentialsFile string) (*gsheet.Service, error) {
	credentialsJSON = strings.TrimSpace(credentialsJSON)
	credentialsFile = strings.TrimSpace(credentialsFile)
	if credentialsJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var creds []byte
	switch {
	case credentialsJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		creds = []byte(credentialsJSON)
	case credentialsFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", credentialsFile)
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		creds = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created")
	return service, nil
}

// Upsert writes e to the row already holding its id, or appends a new row.
func (c *Client) Upsert(ctx context.Context, e core.Expense) (string, error) {
	if e.ID <= 0 {
		return "", errors.New("mirror expense without id")
	}
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if err := c.ensureHeader(ctx); err != nil {
		return "", err
	}

	values := [][]any{{e.ID, e.Date.String(), string(e.Category), e.Amount.Float64(), e.Description, e.UserID}}

	row, err := c.findRow(ctx, e.ID)
	if err != nil {
		return "", err
	}
	if row > 0 {
		rng := c.rowRange(row)
		if err := c.values.Update(ctx, rng, values); err != nil {
			return "", fmt.Errorf("update row %d in sheet %s: %w", row, c.sheetName, err)
		}
		return rng, nil
	}

	updated, err := c.values.Append(ctx, c.a1("A:F"), values)
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheetName, err)
	}
	if row, ok := parseRowNumber(updated); ok {
		c.rows.Set(idKey(e.ID), row)
	}
	return updated, nil
}

// Remove clears the row holding id. Rows are cleared rather than deleted
// so that cached row numbers of other ids stay valid.
func (c *Client) Remove(ctx context.Context, id int64) error {
	row, err := c.findRow(ctx, id)
	if err != nil {
		return err
	}
	if row == 0 {
		slog.DebugContext(ctx, "Expense not present in sheet", "id", id)
		return nil
	}
	if err := c.values.Clear(ctx, c.rowRange(row)); err != nil {
		return fmt.Errorf("clear row %d in sheet %s: %w", row, c.sheetName, err)
	}
	c.rows.Delete(idKey(id))
	return nil
}

func (c *Client) ensureHeader(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headerReady {
		return nil
	}
	got, err := c.values.Get(ctx, c.a1("A1:F1"))
	if err != nil {
		return fmt.Errorf("read header of sheet %s: %w", c.sheetName, err)
	}
	if len(got) == 0 || len(got[0]) == 0 {
		if err := c.values.Update(ctx, c.a1("A1:F1"), [][]any{header}); err != nil {
			return fmt.Errorf("write header of sheet %s: %w", c.sheetName, err)
		}
	}
	c.headerReady = true
	return nil
}

// findRow returns the 1-based row holding id, or 0 when absent. A cached
// row number is trusted only after its cell is re-read.
func (c *Client) findRow(ctx context.Context, id int64) (int, error) {
	want := strconv.FormatInt(id, 10)
	if row, ok := c.rows.Get(idKey(id)); ok {
		cell, err := c.values.Get(ctx, c.a1(fmt.Sprintf("A%d", row)))
		if err != nil {
			return 0, fmt.Errorf("read cached row %d: %w", row, err)
		}
		if len(cell) > 0 && len(cell[0]) > 0 && cellString(cell[0][0]) == want {
			return row, nil
		}
		c.rows.Delete(idKey(id))
	}

	col, err := c.values.Get(ctx, c.a1("A:A"))
	if err != nil {
		return 0, fmt.Errorf("read id column of sheet %s: %w", c.sheetName, err)
	}
	for i, r := range col {
		if i == 0 || len(r) == 0 {
			continue
		}
		if cellString(r[0]) == want {
			c.rows.Set(idKey(id), i+1)
			return i + 1, nil
		}
	}
	return 0, nil
}

func (c *Client) rowRange(row int) string {
	return c.a1(fmt.Sprintf("A%d:F%d", row, row))
}

// a1 prefixes a cell range with the quoted sheet name.
func (c *Client) a1(rng string) string {
	return quoteSheet(c.sheetName) + "!" + rng
}

func quoteSheet(name string) string {
	if strings.ContainsAny(name, " '!") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}

var rowNumberRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// parseRowNumber extracts the first row number of an A1 range such as
// "Expenses!A5:F5".
func parseRowNumber(rng string) (int, bool) {
	m := rowNumberRe.FindStringSubmatch(rng)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func cellString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }
