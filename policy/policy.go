// Package policy decides what to do with a classified read. It is the single
// point where selection rules plug into the decision loop.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tailored-agentic-units/readfish/core/read"
)

var ErrNotFound = errors.New("policy not found")

// Action is the decision for one read.
type Action int

const (
	// Proceed leaves the read undecided; it may be reconsidered when a
	// later chunk arrives.
	Proceed Action = iota
	// Unblock ejects the read and stops receiving its chunks.
	Unblock
	// StopReceiving keeps sequencing the read but stops streaming it.
	StopReceiving
)

func (a Action) String() string {
	switch a {
	case Proceed:
		return "proceed"
	case Unblock:
		return "unblock"
	case StopReceiving:
		return "stop_receiving"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Policy maps a classifier output to an Action.
type Policy interface {
	Decide(ctx context.Context, out read.Output) Action
}

// Func adapts a function to Policy.
type Func func(ctx context.Context, out read.Output) Action

func (f Func) Decide(ctx context.Context, out read.Output) Action {
	return f(ctx, out)
}

// UnblockAll rejects every read. Run against a live flow cell it produces
// a read length histogram peaked at the shortest obtainable chunk, which
// verifies unblock latency.
type UnblockAll struct{}

func (UnblockAll) Decide(context.Context, read.Output) Action {
	return Unblock
}

// Observe never acts. It logs the called length of reads on the watched
// channels and is used to check a caller against live signal.
type Observe struct {
	logger  *slog.Logger
	watch   map[int]bool
	printer *message.Printer
}

// NewObserve logs reads from the given channels at INFO and all others at
// DEBUG. With no channels every read is logged at INFO.
func NewObserve(logger *slog.Logger, channels ...int) *Observe {
	watch := make(map[int]bool, len(channels))
	for _, ch := range channels {
		watch[ch] = true
	}
	return &Observe{
		logger:  logger,
		watch:   watch,
		printer: message.NewPrinter(language.English),
	}
}

func (o *Observe) Decide(ctx context.Context, out read.Output) Action {
	level := slog.LevelDebug
	if len(o.watch) == 0 || o.watch[out.Channel] {
		level = slog.LevelInfo
	}
	o.logger.Log(ctx, level, "called read",
		"channel", out.Channel,
		"read_id", string(out.ID),
		"length", o.printer.Sprintf("%5d", len(out.Sequence)))
	return Proceed
}

// Names of the built-in policies.
const (
	NameUnblockAll = "unblock-all"
	NameObserve    = "observe"
)

var registry = map[string]func(logger *slog.Logger, watch []int) Policy{
	NameUnblockAll: func(*slog.Logger, []int) Policy { return UnblockAll{} },
	NameObserve:    func(l *slog.Logger, watch []int) Policy { return NewObserve(l, watch...) },
}

// New returns the built-in policy registered under name.
func New(name string, logger *slog.Logger, watch ...int) (Policy, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrNotFound, name, strings.Join(Names(), ", "))
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return ctor(logger, watch), nil
}

// Names lists the built-in policies in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
