package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInit(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger := Init("test-service", slog.LevelInfo, "json")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if slog.Default() != logger {
		t.Error("expected Init to install the default logger")
	}
}

func TestNew_JSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "backtest", slog.LevelInfo, "json").Info("run finished", "trades", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v (%s)", err, buf.String())
	}
	if rec["service"] != "backtest" || rec["msg"] != "run finished" || rec["trades"] != float64(3) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNew_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "trader", slog.LevelWarn, "text")
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "service=trader") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := RunID(ctx); id != "" {
		t.Errorf("expected empty run id, got %q", id)
	}
	if attrs := LogWithRun(ctx); attrs != nil {
		t.Errorf("expected nil attrs, got %v", attrs)
	}

	ctx = WithRunID(ctx, "run-123")
	if id := RunID(ctx); id != "run-123" {
		t.Errorf("expected 'run-123', got %q", id)
	}
	attrs := LogWithRun(ctx)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attr, got %d", len(attrs))
	}
	if a := attrs[0].(slog.Attr); a.Key != "run_id" || a.Value.String() != "run-123" {
		t.Errorf("unexpected attr %v", a)
	}
}
