// Package readuntil implements the adaptive-sampling decision loop: it polls
// the newest chunk of every channel at a throttled rate, classifies the
// undecided reads, asks the policy what to do with each, and sends the
// resulting control commands back to the instrument.
//
// The loop initializes from configuration via New. Functional options
// override any collaborator for testing.
//
//	loop, err := readuntil.New(&cfg, client, readuntil.WithLogger(logger))
//	result, err := loop.Run(ctx)
package readuntil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/readfish/classifier"
	"github.com/tailored-agentic-units/readfish/core/read"
	"github.com/tailored-agentic-units/readfish/instrument"
	"github.com/tailored-agentic-units/readfish/ledger"
	"github.com/tailored-agentic-units/readfish/observability"
	"github.com/tailored-agentic-units/readfish/policy"
	"github.com/tailored-agentic-units/readfish/throttle"
)

// Session is the part of the instrument session the loop drives. The loop
// references the session; the lifecycle manager owns it.
type Session interface {
	GetReadChunks(ctx context.Context, batchSize int, last bool) (read.Batch, error)
	UnblockRead(ctx context.Context, channel int, number uint32, id read.ReadID, duration time.Duration) error
	StopReceivingRead(ctx context.Context, channel int, number uint32) error
	IsRunning() bool
	SignalEncoding() read.Encoding
}

// Result holds the outcome of a Run.
type Result struct {
	RunID           string
	Cycles          int           // Polling cycles started.
	Chunks          int           // Chunks retrieved across all cycles.
	Decisions       int           // Reads newly recorded in the ledger.
	Unblocks        int           // Unblock commands accepted.
	StopReceived    int           // Stop-receiving commands accepted.
	ReadFailures    int           // Reads the classifier could not process.
	CommandFailures int           // Control commands that failed.
	StopReason      StopReason    // Why the loop stopped.
	Elapsed         time.Duration // Wall time from start to stop.
}

// Option configures a Loop after config-driven initialization.
type Option func(*Loop)

// WithClassifier overrides the configured classifier.
func WithClassifier(c classifier.Classifier) Option {
	return func(l *Loop) { l.classifier = c }
}

// WithPolicy overrides the configured policy.
func WithPolicy(p policy.Policy) Option {
	return func(l *Loop) { l.policy = p }
}

// WithLedger supplies the decision ledger, e.g. one backed by a journal.
// The run adopts the ledger's run ID unless WithRunID is also given.
func WithLedger(lg *ledger.Ledger) Option {
	return func(l *Loop) { l.ledger = lg }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(l *Loop) { l.observer = o }
}

// WithLogger sets the logger used by the default observer and policies.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithClock overrides the system clock for the throttle and deadline.
func WithClock(c throttle.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithRunID sets the run identifier.
func WithRunID(id string) Option {
	return func(l *Loop) { l.runID = id }
}

// Loop is the decision loop of one run. It owns its ledger and throttle
// and is not safe for concurrent Runs.
type Loop struct {
	session    Session
	classifier classifier.Classifier
	policy     policy.Policy
	ledger     *ledger.Ledger
	throttle   *throttle.Throttle
	observer   observability.Observer
	logger     *slog.Logger
	clock      throttle.Clock
	runID      string

	runTime         time.Duration
	batchSize       int
	unblockDuration time.Duration
}

// New creates a Loop from configuration. Options applied afterwards replace
// any config-created collaborator.
func New(cfg *Config, session Session, opts ...Option) (*Loop, error) {
	if session == nil {
		return nil, ErrNoSession
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size %d", ErrInvalidConfig, cfg.BatchSize)
	}

	l := &Loop{
		session:         session,
		clock:           throttle.SystemClock{},
		runTime:         cfg.RunDuration(),
		batchSize:       cfg.BatchSize,
		unblockDuration: cfg.UnblockFor(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.observer == nil {
		l.observer = observability.NewSlogObserver(l.logger)
	}
	if l.runID == "" && l.ledger != nil {
		l.runID = l.ledger.RunID()
	}
	if l.runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate run id: %w", err)
		}
		l.runID = id.String()
	}
	if l.ledger == nil {
		l.ledger = ledger.New(l.runID, ledger.WithNow(l.clock.Now))
	}
	if l.classifier == nil {
		c, err := classifier.New(cfg.Classifier)
		if err != nil {
			return nil, fmt.Errorf("failed to create classifier: %w", err)
		}
		l.classifier = c
	}
	if l.policy == nil {
		p, err := policy.New(cfg.Policy, l.logger, cfg.Watch...)
		if err != nil {
			return nil, fmt.Errorf("failed to create policy: %w", err)
		}
		l.policy = p
	}
	l.throttle = throttle.New(cfg.ThrottleInterval(), throttle.WithClock(l.clock))

	return l, nil
}

// RunID returns the identifier attached to every event and journal entry of
// the run.
func (l *Loop) RunID() string {
	return l.runID
}

// Ledger returns the run's decision ledger.
func (l *Loop) Ledger() *ledger.Ledger {
	return l.ledger
}

// Run polls, classifies and acts until the deadline passes, the session
// stops running, or ctx is cancelled. None of these is an error; the reason
// is reported in Result.StopReason. The deadline is fixed when Run starts;
// a cycle already in progress when it passes completes, and the throttle
// never waits beyond it.
//
// Per-read classification failures and failed commands are counted and
// logged. Run returns an error only when the classifier as a whole fails.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	start := l.clock.Now()
	deadline := start.Add(l.runTime)
	result := &Result{RunID: l.runID}

	l.emit(ctx, EventRunStart, observability.LevelInfo, map[string]any{
		"deadline":         deadline.Format(time.RFC3339),
		"batch_size":       l.batchSize,
		"throttle":         l.throttle.Interval().String(),
		"unblock_duration": l.unblockDuration.String(),
	})

	err := l.loop(ctx, deadline, result)
	result.Elapsed = l.clock.Now().Sub(start)

	level := observability.LevelInfo
	data := map[string]any{
		"reason":    string(result.StopReason),
		"cycles":    result.Cycles,
		"chunks":    result.Chunks,
		"decisions": result.Decisions,
		"unblocks":  result.Unblocks,
		"elapsed":   result.Elapsed.String(),
	}
	if err != nil {
		level = observability.LevelError
		data["error"] = err.Error()
	}
	l.emit(ctx, EventRunStop, level, data)

	return result, err
}

func (l *Loop) loop(ctx context.Context, deadline time.Time, result *Result) error {
	for {
		if reason, stop := l.stopReason(ctx, l.clock.Now(), deadline); stop {
			result.StopReason = reason
			return nil
		}

		started, ok, err := l.throttle.WaitUntil(ctx, deadline)
		switch {
		case err != nil:
			result.StopReason = StopCancelled
			return nil
		case !ok:
			result.StopReason = StopDeadline
			return nil
		}
		if reason, stop := l.stopReason(ctx, started, deadline); stop {
			result.StopReason = reason
			return nil
		}

		if err := l.cycle(ctx, started, result); err != nil {
			if errors.Is(err, instrument.ErrSessionClosed) {
				result.StopReason = StopDisconnected
				return nil
			}
			return err
		}
	}
}

// stopReason reports whether the loop must stop before a cycle starting at
// now, and why.
func (l *Loop) stopReason(ctx context.Context, now, deadline time.Time) (StopReason, bool) {
	switch {
	case ctx.Err() != nil:
		return StopCancelled, true
	case !l.session.IsRunning():
		return StopDisconnected, true
	case !now.Before(deadline):
		return StopDeadline, true
	}
	return "", false
}

// cycle runs one poll/classify/decide/act pass. It returns
// instrument.ErrSessionClosed when the session is gone and a classifier
// error when the classifier failed as a whole.
func (l *Loop) cycle(ctx context.Context, started time.Time, result *Result) error {
	result.Cycles++

	batch, err := l.session.GetReadChunks(ctx, l.batchSize, true)
	if err != nil {
		if errors.Is(err, instrument.ErrSessionClosed) {
			return err
		}
		l.emit(ctx, EventPollFailed, observability.LevelWarning, map[string]any{
			"cycle": result.Cycles,
			"error": err.Error(),
		})
		return nil
	}
	result.Chunks += len(batch)

	decisions := 0
	issued := make(map[read.ReadID]struct{}, len(batch))

	for out, err := range l.classifier.Classify(ctx, batch, l.session.SignalEncoding(), l.ledger) {
		if err != nil {
			if errors.Is(err, classifier.ErrUnavailable) {
				return fmt.Errorf("classifier failed: %w", err)
			}
			result.ReadFailures++
			l.emit(ctx, EventReadFailed, observability.LevelWarning, map[string]any{
				"channel": out.Channel,
				"read_id": string(out.ID),
				"error":   err.Error(),
			})
			continue
		}

		if l.ledger.Has(out.ID) {
			continue
		}
		if _, dup := issued[out.ID]; dup {
			continue
		}

		action := l.policy.Decide(ctx, out)
		if action == policy.Proceed {
			continue
		}
		issued[out.ID] = struct{}{}

		decided, err := l.act(ctx, action, out, result)
		if decided {
			decisions++
		}
		if err != nil {
			return err
		}
	}

	level := observability.LevelVerbose
	if len(batch) > 0 {
		level = observability.LevelInfo
	}
	l.emit(ctx, EventCycleComplete, level, map[string]any{
		"cycle":     result.Cycles,
		"chunks":    len(batch),
		"decisions": decisions,
		"duration":  l.clock.Now().Sub(started).String(),
	})
	return nil
}

// act issues the commands for action. The ledger is marked once the
// instrument accepts the decisive command: the unblock for Unblock, the
// stop-receiving for StopReceiving. A failed command leaves the read
// undecided so a later chunk can retry it.
//
// Commands go out on a context detached from cancellation so an interrupt
// never splits an unblock from its stop-receiving. The instrument client
// bounds each call with its own timeout.
func (l *Loop) act(ctx context.Context, action policy.Action, out read.Output, result *Result) (bool, error) {
	ctx = context.WithoutCancel(ctx)

	switch action {
	case policy.Unblock:
		if err := l.session.UnblockRead(ctx, out.Channel, out.Number, out.ID, l.unblockDuration); err != nil {
			return false, l.commandFailed(ctx, "unblock", out, err, result)
		}
		result.Unblocks++
		decided := l.mark(ctx, out, ledger.OutcomeUnblocked, result)

		if err := l.session.StopReceivingRead(ctx, out.Channel, out.Number); err != nil {
			return decided, l.commandFailed(ctx, "stop_receiving", out, err, result)
		}
		result.StopReceived++
		return decided, nil

	case policy.StopReceiving:
		if err := l.session.StopReceivingRead(ctx, out.Channel, out.Number); err != nil {
			return false, l.commandFailed(ctx, "stop_receiving", out, err, result)
		}
		result.StopReceived++
		return l.mark(ctx, out, ledger.OutcomeStopReceiving, result), nil

	default:
		return false, nil
	}
}

func (l *Loop) mark(ctx context.Context, out read.Output, outcome ledger.Outcome, result *Result) bool {
	added, err := l.ledger.Mark(ctx, ledger.Entry{
		ID:      out.ID,
		Outcome: outcome,
		Channel: out.Channel,
		Number:  out.Number,
	})
	if err != nil {
		l.emit(ctx, EventJournalFailed, observability.LevelWarning, map[string]any{
			"read_id": string(out.ID),
			"error":   err.Error(),
		})
	}
	if !added {
		return false
	}

	result.Decisions++
	l.emit(ctx, EventReadDecided, observability.LevelVerbose, map[string]any{
		"channel": out.Channel,
		"number":  out.Number,
		"read_id": string(out.ID),
		"outcome": outcome.String(),
	})
	return true
}

// commandFailed records a failed command. Only a closed session is
// returned; every other failure is absorbed.
func (l *Loop) commandFailed(ctx context.Context, command string, out read.Output, err error, result *Result) error {
	result.CommandFailures++
	l.emit(ctx, EventCommandFailed, observability.LevelWarning, map[string]any{
		"command": command,
		"channel": out.Channel,
		"number":  out.Number,
		"read_id": string(out.ID),
		"error":   err.Error(),
	})
	if errors.Is(err, instrument.ErrSessionClosed) {
		return err
	}
	return nil
}

func (l *Loop) emit(ctx context.Context, t observability.EventType, level observability.Level, data map[string]any) {
	l.observer.OnEvent(ctx, observability.Event{
		Type:      t,
		Level:     level,
		Timestamp: l.clock.Now(),
		Source:    "readuntil.Loop",
		RunID:     l.runID,
		Data:      data,
	})
}
