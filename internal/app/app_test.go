package app_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/scorer"
	"github.com/MrWong99/speakwell/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

// start runs a on ln and returns a function that stops it.
func start(t *testing.T, a *app.App) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := a.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}
}

func get(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func TestApp_ServesProbes(t *testing.T) {
	t.Parallel()
	ln := listen(t)
	base := "http://" + ln.Addr().String()

	a, err := app.New(config.Default(), app.WithListener(ln), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := start(t, a)
	defer stop()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if code := get(t, base+path); code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, code)
		}
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	a, err := app.New(config.Default(), app.WithListener(listen(t)), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestBuildScorer_MissingDictionary(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Scoring.CMUDictPath = filepath.Join(t.TempDir(), "missing.dict")
	if _, err := app.BuildScorer(cfg, config.NewRegistry(), testMetrics(t)); err == nil {
		t.Fatal("expected error for missing dictionary, got nil")
	}
}

func TestBuildScorer_PhonemeHints(t *testing.T) {
	t.Parallel()
	dict := filepath.Join(t.TempDir(), "cmudict.dict")
	content := ";;; test dictionary\nhello HH AH0 L OW1\nhello(2) HH EH0 L OW1\nworld W ER1 L D\n"
	if err := os.WriteFile(dict, []byte(content), 0o644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}
	cfg := config.Default()
	cfg.Scoring.CMUDictPath = dict

	sc, err := app.BuildScorer(cfg, config.NewRegistry(), testMetrics(t))
	if err != nil {
		t.Fatalf("BuildScorer: %v", err)
	}
	res, err := sc.Score(context.Background(), scorer.Request{
		ExpectedText: "Hello world",
		Words: []types.TimedWord{
			{Word: "hello", Start: 0, End: 0.4},
			{Word: "word", Start: 0.5, End: 0.9},
		},
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := []string{"HH AH0 L OW1", "W ER1 L D"}
	for i, rec := range res.PerWord {
		if rec.Phonemes == nil || *rec.Phonemes != want[i] {
			t.Errorf("record %d phonemes = %v, want %q", i, rec.Phonemes, want[i])
		}
	}
}

func TestApp_ConfigReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "speakwell.yaml")
	if err := os.WriteFile(path, []byte("server:\n  log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var levels slog.LevelVar
	a, err := app.New(cfg,
		app.WithListener(listen(t)),
		app.WithMetrics(testMetrics(t)),
		app.WithLevelVar(&levels),
		app.WithConfigWatch(path, 20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	// Ensure a distinct mtime on filesystems with coarse timestamps.
	time.Sleep(50 * time.Millisecond)
	updated := "server:\n  log_level: debug\nscoring:\n  replace_default_score: 0.5\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	later := time.Now().Add(2 * time.Second)
	_ = os.Chtimes(path, later, later)

	deadline := time.Now().Add(3 * time.Second)
	for levels.Level() != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatalf("log level = %v after reload, want debug", levels.Level())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNew_WatchMissingFile(t *testing.T) {
	t.Parallel()
	_, err := app.New(config.Default(),
		app.WithListener(listen(t)),
		app.WithMetrics(testMetrics(t)),
		app.WithConfigWatch(filepath.Join(t.TempDir(), "nope.yaml"), time.Second),
	)
	if err == nil {
		t.Fatal("expected error for missing watched config, got nil")
	}
}
