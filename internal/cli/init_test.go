package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"moneymap/internal/config"
)

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MONEYMAP_TEST_VAR=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MONEYMAP_TEST_VAR", "")
	os.Unsetenv("MONEYMAP_TEST_VAR")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("MONEYMAP_TEST_VAR"); got != "from-dotenv" {
		t.Fatalf("MONEYMAP_TEST_VAR = %q", got)
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, "test", &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	if _, err := LoadConfig((*config.Config).Validate); err == nil {
		t.Fatal("expected validation error")
	}
	t.Setenv("PORT", "8082")
	cfg, err := LoadConfig((*config.Config).Validate)
	if err != nil || cfg.Port != "8082" {
		t.Fatalf("LoadConfig = %+v, %v", cfg, err)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&config.Config{LogLevel: "info"}, "test", &buf)

	ctx, cancel := context.WithCancel(context.Background())
	var shutdownCalled int32
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, logger, time.Second,
			func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
			func(context.Context) error { atomic.StoreInt32(&shutdownCalled, 1); return nil })
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if atomic.LoadInt32(&shutdownCalled) != 1 {
		t.Fatal("shutdown was not called")
	}
}

func TestRunPropagatesFailure(t *testing.T) {
	logger := SetupLogger(&config.Config{}, "test", &bytes.Buffer{})
	boom := errors.New("listen failed")
	err := Run(context.Background(), logger, time.Second,
		func(context.Context) error { return boom }, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestInitSQLite(t *testing.T) {
	logger := SetupLogger(&config.Config{}, "test", &bytes.Buffer{})
	repo, err := InitSQLite(context.Background(), logger, filepath.Join(t.TempDir(), "sub", "app.db"))
	if err != nil {
		t.Fatalf("InitSQLite: %v", err)
	}
	defer repo.Close()
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
