//go:build integration

package google

import (
	"context"
	"os"
	"testing"
	"time"

	"moneymap/internal/core"
)

// Integration tests require a real spreadsheet shared with a service account.
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_UpsertAndRemove(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := New(ctx, Options{
		SpreadsheetID:   spreadsheetID,
		SheetName:       os.Getenv("GOOGLE_SHEET_NAME"),
		CredentialsJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		CredentialsFile: os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"),
	})
	if err != nil {
		t.Skipf("credentials not usable: %v", err)
	}

	e := core.Expense{
		ID:          time.Now().UnixNano() % 1_000_000_000,
		UserID:      1,
		Date:        core.NewDate(2025, 1, 15),
		Category:    core.Utilities,
		Amount:      core.Money{Cents: 4200},
		Description: "integration test",
	}
	first, err := client.Upsert(ctx, e)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	e.Description = "integration test, updated"
	second, err := client.Upsert(ctx, e)
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same row, got %q then %q", first, second)
	}
	if err := client.Remove(ctx, e.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
