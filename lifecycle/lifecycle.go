// Package lifecycle owns an instrument session for the duration of one run.
// It acquires the session, starts chunk streaming, hands the session to the
// run, and releases it exactly once on every exit path: normal completion,
// cancellation, error and panic.
//
//	m := lifecycle.New(acquire, cfg, lifecycle.WithLogger(logger))
//	err := m.Run(ctx, func(ctx context.Context, s *instrument.Client) error {
//		_, err := loop.Run(ctx)
//		return err
//	})
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailored-agentic-units/readfish/core/read"
	"github.com/tailored-agentic-units/readfish/observability"
)

// Session is the part of an instrument session the manager drives.
// Reset must be callable after a partial failure.
type Session interface {
	Start(ctx context.Context, first, last int) error
	SendMessage(ctx context.Context, text string, severity read.Severity) error
	Reset(ctx context.Context) error
}

// AcquireFunc connects to the instrument. On error no session exists and
// nothing is released.
type AcquireFunc[S Session] func(ctx context.Context) (S, error)

// RunFunc is the work done while the session is held.
type RunFunc[S Session] func(ctx context.Context, session S) error

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer observability.Observer
}

// WithLogger sets the logger for notification and release failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(obs observability.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Manager runs a single scoped session. It is not reusable: a second Run
// returns ErrReused.
type Manager[S Session] struct {
	acquire  AcquireFunc[S]
	cfg      Config
	logger   *slog.Logger
	observer observability.Observer

	ran      atomic.Bool
	release  sync.Once
	released atomic.Bool
}

// New creates a Manager. Zero-valued fields of cfg take their defaults.
func New[S Session](acquire AcquireFunc[S], cfg Config, opts ...Option) *Manager[S] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.observer == nil {
		o.observer = observability.NewSlogObserver(o.logger)
	}

	merged := DefaultConfig()
	merged.Merge(&cfg)

	return &Manager[S]{
		acquire:  acquire,
		cfg:      merged,
		logger:   o.logger,
		observer: o.observer,
	}
}

// Released reports whether the session has been released.
func (m *Manager[S]) Released() bool {
	return m.released.Load()
}

// Run acquires the session, starts streaming, calls run and releases the
// session. Cancellation of ctx is an orderly stop and is not reported as an
// error. A panic in run is re-raised after the session is released.
//
// The final notification and the release use a context detached from ctx,
// bounded by Config.ReleaseTimeout, so they run even after cancellation.
func (m *Manager[S]) Run(ctx context.Context, run RunFunc[S]) (err error) {
	if !m.ran.CompareAndSwap(false, true) {
		return ErrReused
	}

	session, err := m.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	m.emit(ctx, EventSessionAcquired, observability.LevelInfo, map[string]any{
		"first_channel": m.cfg.FirstChannel,
		"last_channel":  m.cfg.LastChannel,
	})

	defer func() {
		if r := recover(); r != nil {
			m.finish(ctx, session, fmt.Errorf("%w: %v", ErrPanic, r))
			panic(r)
		}
		err = m.finish(ctx, session, err)
	}()

	if err := session.Start(ctx, m.cfg.FirstChannel, m.cfg.LastChannel); err != nil {
		return fmt.Errorf("%w: %w", ErrStart, err)
	}

	if m.cfg.StartMessage != "" {
		m.notify(ctx, session, m.cfg.StartMessage, read.SeverityWarn)
	}

	return run(ctx, session)
}

// finish sends the end-of-run notification and releases the session. It
// returns runErr, minus cancellation, joined with any release failure.
func (m *Manager[S]) finish(ctx context.Context, session S, runErr error) error {
	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ReleaseTimeout)
	defer cancel()

	cancelled := ctx.Err() != nil || errors.Is(runErr, context.Canceled)

	switch {
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		m.notify(final, session, fmt.Sprintf("%s stopped with an error: %v", m.cfg.Name, runErr), read.SeverityError)
	case cancelled:
		m.notify(final, session, fmt.Sprintf("%s stopped by the operator.", m.cfg.Name), read.SeverityWarn)
		runErr = nil
	default:
		m.notify(final, session, fmt.Sprintf("%s finished.", m.cfg.Name), read.SeverityInfo)
	}

	return errors.Join(runErr, m.releaseOnce(final, session))
}

func (m *Manager[S]) releaseOnce(ctx context.Context, session S) error {
	var err error
	m.release.Do(func() {
		start := time.Now()
		err = session.Reset(ctx)
		m.released.Store(true)

		if err != nil {
			m.logger.Error("session release failed", "error", err)
			m.emit(ctx, EventReleaseFailed, observability.LevelError, map[string]any{
				"error": err.Error(),
			})
			err = fmt.Errorf("%w: %w", ErrRelease, err)
			return
		}
		m.emit(ctx, EventSessionReleased, observability.LevelInfo, map[string]any{
			"duration": time.Since(start).String(),
		})
	})
	return err
}

// notify sends an operator message. Failures are logged and never fatal.
func (m *Manager[S]) notify(ctx context.Context, session S, text string, severity read.Severity) {
	if err := session.SendMessage(ctx, text, severity); err != nil {
		m.logger.Warn("operator notification failed", "severity", severity.String(), "error", err)
		m.emit(ctx, EventNotifyFailed, observability.LevelWarning, map[string]any{
			"severity": severity.String(),
			"error":    err.Error(),
		})
	}
}

func (m *Manager[S]) emit(ctx context.Context, t observability.EventType, level observability.Level, data map[string]any) {
	m.observer.OnEvent(ctx, observability.Event{
		Type:      t,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "lifecycle.Manager",
		Data:      data,
	})
}
