package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tailored-agentic-units/readfish/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level observability.Level
		want  slog.Level
	}{
		{level: observability.LevelVerbose, want: slog.LevelDebug},
		{level: observability.LevelInfo, want: slog.LevelInfo},
		{level: observability.LevelWarning, want: slog.LevelWarn},
		{level: observability.LevelError, want: slog.LevelError},
	}

	for _, tt := range tests {
		if got := tt.level.SlogLevel(); got != tt.want {
			t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSlogObserver_Filtering(t *testing.T) {
	tests := []struct {
		name      string
		level     observability.Level
		minLevel  slog.Level
		expectLog bool
	}{
		{name: "verbose at debug handler", level: observability.LevelVerbose, minLevel: slog.LevelDebug, expectLog: true},
		{name: "verbose at info handler", level: observability.LevelVerbose, minLevel: slog.LevelInfo, expectLog: false},
		{name: "info at warn handler", level: observability.LevelInfo, minLevel: slog.LevelWarn, expectLog: false},
		{name: "error at error handler", level: observability.LevelError, minLevel: slog.LevelError, expectLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.minLevel}))

			observability.NewSlogObserver(logger).OnEvent(context.Background(), observability.Event{
				Type:  "readuntil.cycle.complete",
				Level: tt.level,
			})

			if got := buf.Len() > 0; got != tt.expectLog {
				t.Errorf("logged = %v, want %v (buf: %q)", got, tt.expectLog, buf.String())
			}
		})
	}
}

func TestSlogObserver_Attributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	observability.NewSlogObserver(logger).OnEvent(context.Background(), observability.Event{
		Type:      "readuntil.cycle.complete",
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "readuntil.Run",
		RunID:     "run-1",
		Data: map[string]any{
			"chunks":   12,
			"duration": "4ms",
			"cycle":    3,
		},
	})

	out := buf.String()
	for _, want := range []string{"readuntil.cycle.complete", "source=readuntil.Run", "run_id=run-1", "chunks=12"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}

	// Data attributes are emitted in key order.
	chunks := strings.Index(out, "chunks=")
	cycle := strings.Index(out, "cycle=")
	duration := strings.Index(out, "duration=")
	if !(chunks < cycle && cycle < duration) {
		t.Errorf("attributes not sorted: %s", out)
	}
}

func TestMultiObserver(t *testing.T) {
	first := observability.NewCounter()
	second := observability.NewCounter()

	multi := observability.NewMultiObserver(nil, first, nil, second)
	multi.OnEvent(context.Background(), observability.Event{Type: "test.event"})

	if first.Count("test.event") != 1 || second.Count("test.event") != 1 {
		t.Errorf("got counts %d/%d, want 1/1", first.Count("test.event"), second.Count("test.event"))
	}
}

func TestNoOpObserver(t *testing.T) {
	observability.NoOpObserver{}.OnEvent(context.Background(), observability.Event{Type: "test.event"})
}

func TestCounter_Concurrent(t *testing.T) {
	counter := observability.NewCounter()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				counter.OnEvent(context.Background(), observability.Event{Type: "a"})
			}
		}()
	}
	wg.Wait()
	counter.OnEvent(context.Background(), observability.Event{Type: "b"})

	if got := counter.Count("a"); got != 800 {
		t.Errorf("got %d events of type a, want 800", got)
	}

	snap := counter.Snapshot()
	if snap["b"] != 1 || len(snap) != 2 {
		t.Errorf("got snapshot %v, want a=800 b=1", snap)
	}
	if counter.Count("missing") != 0 {
		t.Error("unknown type should count 0")
	}
}
