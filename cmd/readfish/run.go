package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tailored-agentic-units/readfish/classifier"
	"github.com/tailored-agentic-units/readfish/instrument"
	"github.com/tailored-agentic-units/readfish/ledger"
	"github.com/tailored-agentic-units/readfish/lifecycle"
	"github.com/tailored-agentic-units/readfish/observability"
	"github.com/tailored-agentic-units/readfish/policy"
	"github.com/tailored-agentic-units/readfish/readuntil"
)

// runFlags are shared by every command that drives a live run. Zero values
// leave the loaded configuration untouched.
type runFlags struct {
	configPath      string
	device          string
	host            string
	port            int
	channels        []int
	runTime         float64
	batchSize       int
	throttle        float64
	unblockDuration float64
	cacheSize       int
	ledgerPath      string
	logFile         string
	verbose         bool
	watch           []int
}

func (f *runFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "Path to a TOML, YAML or JSON config file")
	flags.StringVar(&f.device, "device", "", "Flow cell position name")
	flags.StringVar(&f.host, "host", "", "RPC host of the position (default 127.0.0.1)")
	flags.IntVar(&f.port, "port", 0, "RPC port of the position (default 8000)")
	flags.IntSliceVar(&f.channels, "channels", nil, "Channel range as first,last (default 1,512)")
	flags.Float64Var(&f.runTime, "run-time", 0, "Run duration in seconds (default 172800)")
	flags.IntVar(&f.batchSize, "batch-size", 0, "Reads retrieved per cycle (default 512)")
	flags.Float64Var(&f.throttle, "throttle", 0, "Minimum seconds between cycles; 0 disables (default 0.1)")
	flags.Float64Var(&f.unblockDuration, "unblock-duration", 0, "Seconds of reject voltage per unblock (default 0.1)")
	flags.IntVar(&f.cacheSize, "cache-size", 0, "Read cache capacity in channels (default 512)")
	flags.StringVar(&f.ledgerPath, "ledger", "", "SQLite file journaling every decision")
	flags.StringVar(&f.logFile, "log-file", "", "Also write DEBUG logs as JSON to this file")
	flags.BoolVar(&f.verbose, "verbose", false, "Log at DEBUG to stderr")
}

func (f *runFlags) overrides() readuntil.Config {
	var cfg readuntil.Config
	cfg.RunTime = f.runTime
	cfg.BatchSize = f.batchSize
	cfg.Throttle = f.throttle
	cfg.UnblockDuration = f.unblockDuration
	cfg.Watch = f.watch
	cfg.Instrument = instrument.Config{
		Device:    f.device,
		Host:      f.host,
		Port:      f.port,
		Channels:  f.channels,
		CacheSize: f.cacheSize,
	}
	cfg.Ledger.Path = f.ledgerPath
	return cfg
}

// mode fixes the policy, classifier and operator messages of a run command.
type mode struct {
	title      string
	policy     string
	classifier string
	start      string
}

func newUnblockAllCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "unblock-all",
		Short: "Eject every read as soon as its first chunk arrives",
		Long: "unblock-all truncates every read on the selected channels. It is used to measure " +
			"the latency of the read-until loop and to test unblocking on a live flow cell.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReadUntil(cmd, f, mode{
				title:      "Unblock All",
				policy:     policy.NameUnblockAll,
				classifier: classifier.NamePassthrough,
				start:      "ReadFish sending Unblock All messages. All reads will be prematurely truncated. This will affect a live sequencing run.",
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func newObserveCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:     "observe",
		Aliases: []string{"deepnano-call"},
		Short:   "Call bases on live reads and log them without intervening",
		Long: "observe classifies the newest chunk of every read with the signal caller and logs " +
			"the called length. Reads on --watch channels are logged at INFO. No read is ejected.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReadUntil(cmd, f, mode{
				title:      "Observe",
				policy:     policy.NameObserve,
				classifier: classifier.NameSignal,
				start:      "ReadFish observing reads. No read will be unblocked.",
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().IntSliceVar(&f.watch, "watch", nil, "Channels whose calls are logged at INFO")
	return cmd
}

// runReadUntil loads and validates the configuration, then runs the decision
// loop inside a managed instrument session.
func runReadUntil(cmd *cobra.Command, f *runFlags, m mode) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := readuntil.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	overrides := f.overrides()
	cfg.Merge(&overrides)
	// Merge skips zero values; an explicit --throttle 0 disables throttling.
	if cmd.Flags().Changed("throttle") {
		cfg.Throttle = f.throttle
	}
	cfg.Policy = m.policy
	cfg.Classifier = m.classifier
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cmd.ErrOrStderr(), f.logFile, f.verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("readfish started", "command", cmd.CommandPath(), "args", strings.Join(os.Args[1:], " "))
	logger.Info("effective config", "config", fmt.Sprintf("%+v", *cfg))

	journal, err := ledger.NewJournal(&cfg.Ledger)
	if err != nil {
		return fmt.Errorf("failed to open decision journal: %w", err)
	}
	var ledgerOpts []ledger.Option
	if journal != nil {
		defer journal.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithJournal(journal))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate run id: %w", err)
	}
	decisions := ledger.New(id.String(), ledgerOpts...)

	first, last, err := cfg.Instrument.Range()
	if err != nil {
		return err
	}

	counter := observability.NewCounter()
	observer := observability.NewMultiObserver(observability.NewSlogObserver(logger), counter)

	manager := lifecycle.New(
		func(ctx context.Context) (*instrument.Client, error) {
			return instrument.Dial(ctx, cfg.Instrument)
		},
		lifecycle.Config{
			FirstChannel: first,
			LastChannel:  last,
			Name:         "ReadFish " + m.title,
			StartMessage: m.start,
		},
		lifecycle.WithLogger(logger),
		lifecycle.WithObserver(observer),
	)

	var result *readuntil.Result
	err = manager.Run(ctx, func(ctx context.Context, client *instrument.Client) error {
		loop, err := readuntil.New(cfg, client,
			readuntil.WithLogger(logger),
			readuntil.WithObserver(observer),
			readuntil.WithLedger(decisions))
		if err != nil {
			return err
		}
		result, err = loop.Run(ctx)
		return err
	})

	if result != nil {
		printSummary(cmd.OutOrStdout(), result, counter)
	}
	return err
}

func printSummary(w io.Writer, r *readuntil.Result, counter *observability.Counter) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "run %s stopped (%s) after %v\n", r.RunID, r.StopReason, r.Elapsed.Round(time.Millisecond))
	p.Fprintf(w, "  cycles:    %d\n", r.Cycles)
	p.Fprintf(w, "  chunks:    %d\n", r.Chunks)
	p.Fprintf(w, "  decisions: %d (%d unblocked, %d stop-receiving)\n", r.Decisions, r.Unblocks, r.StopReceived)
	p.Fprintf(w, "  failures:  %d reads, %d commands, %d polls\n",
		r.ReadFailures, r.CommandFailures, counter.Count(readuntil.EventPollFailed))
}

// newLogger builds the process logger: text to stderr at INFO, or DEBUG when
// verbose, plus JSON at DEBUG to logFile when one is given.
func newLogger(stderr io.Writer, logFile string, verbose bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	console := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})

	if logFile == "" {
		return slog.New(console), func() {}, nil
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	jsonHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})

	return slog.New(teeHandler{console, jsonHandler}), func() { file.Close() }, nil
}

// teeHandler sends each record to every handler that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
