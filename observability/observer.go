// Package observability carries structured events out of the decision loop
// and the session lifecycle. Level values follow OpenTelemetry
// SeverityNumber ranges so events forward to an OTel collector unchanged.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Level is event severity on the OTel SeverityNumber scale.
type Level int

const (
	LevelVerbose Level = 5  // OTel DEBUG (5-8)
	LevelInfo    Level = 9  // OTel INFO (9-12)
	LevelWarning Level = 13 // OTel WARN (13-16)
	LevelError   Level = 17 // OTel ERROR (17-20)
)

// String returns the OTel severity text for the level.
func (l Level) String() string {
	switch {
	case l <= 4:
		return "TRACE"
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	case l <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// SlogLevel maps l onto the nearest slog level.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType names an event. Packages declare their own constants,
// e.g. "readuntil.cycle.complete".
type EventType string

// Event is one observation. RunID ties every event of a sequencing run
// together; Data becomes flat log attributes.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	RunID     string
	Data      map[string]any
}

// Observer receives events. Implementations are called synchronously on the
// emitting goroutine and must not block.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}
