package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/readfish/core/read"
	"github.com/tailored-agentic-units/readfish/instrument"
	"github.com/tailored-agentic-units/readfish/ledger"
	"github.com/tailored-agentic-units/readfish/lifecycle"
	"github.com/tailored-agentic-units/readfish/readuntil"
	"github.com/tailored-agentic-units/readfish/simulator"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCommandTable(t *testing.T) {
	root := newRootCmd()

	for _, c := range commands {
		found, _, err := root.Find([]string{c.name})
		require.NoError(t, err, c.name)
		assert.Equal(t, c.name, found.Name())
	}

	found, _, err := root.Find([]string{"deepnano-call"})
	require.NoError(t, err)
	assert.Equal(t, "observe", found.Name())
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", stdout)
}

func TestConfig_PrintsDefaults(t *testing.T) {
	stdout, _, err := executeCLI(t, "config")
	require.NoError(t, err)

	var got readuntil.Config
	require.NoError(t, toml.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, readuntil.DefaultConfig(), got)
	assert.Contains(t, stdout, "[instrument]")
}

func TestConfig_WritesFileThatLoads(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.toml")
	require.NoError(t, os.WriteFile(src, []byte("batch_size = 64\n\n[instrument]\nchannels = [1, 256]\n"), 0o644))
	out := filepath.Join(dir, "conf", "readfish.toml")

	stdout, _, err := executeCLI(t, "config", "--config", src, "--output", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+out)

	cfg, err := readuntil.LoadConfig(out)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, []int{1, 256}, cfg.Instrument.Channels)

	leftovers, err := filepath.Glob(filepath.Join(dir, "conf", ".readfish-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestConfig_RejectsInvalid(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(src, []byte("[instrument]\nport = 70000\n"), 0o644))

	_, _, err := executeCLI(t, "config", "--config", src)
	assert.ErrorIs(t, err, readuntil.ErrInvalidConfig)
}

func writeJournal(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "decisions.db")
	journal, err := ledger.OpenSQLite(path)
	require.NoError(t, err)
	defer journal.Close()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	entries := []struct {
		run string
		e   ledger.Entry
	}{
		{"run-1", ledger.Entry{ID: "read-0001", Outcome: ledger.OutcomeUnblocked, Channel: 12, Number: 301, DecidedAt: base.Add(125 * time.Millisecond)}},
		{"run-1", ledger.Entry{ID: "read-0002", Outcome: ledger.OutcomeStopReceiving, Channel: 7, Number: 44, DecidedAt: base.Add(250 * time.Millisecond)}},
		{"run-1", ledger.Entry{ID: "read-0003", Outcome: ledger.OutcomeUnblocked, Channel: 512, Number: 9, DecidedAt: base.Add(1500 * time.Millisecond)}},
		{"run-2", ledger.Entry{ID: "read-0004", Outcome: ledger.OutcomeUnblocked, Channel: 3, Number: 2, DecidedAt: base.Add(time.Hour)}},
	}
	for _, x := range entries {
		require.NoError(t, journal.Append(ctx, x.run, x.e))
	}
	return path
}

func TestDecisions_Golden(t *testing.T) {
	db := writeJournal(t)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	stdout, _, err := executeCLI(t, "decisions", "--db", db)
	require.NoError(t, err)
	g.Assert(t, "decisions_runs", []byte(stdout))

	stdout, _, err = executeCLI(t, "decisions", "--db", db, "--run", "run-1")
	require.NoError(t, err)
	g.Assert(t, "decisions_run", []byte(stdout))
}

func TestDecisions_Errors(t *testing.T) {
	_, _, err := executeCLI(t, "decisions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)

	missing := filepath.Join(t.TempDir(), "absent.db")
	_, _, err = executeCLI(t, "decisions", "--db", missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr), "listing must not create the journal")

	_, _, err = executeCLI(t, "decisions", "--db", writeJournal(t), "--run", "run-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no decisions recorded")
}

func TestUnblockAll_InvalidFlags(t *testing.T) {
	_, _, err := executeCLI(t, "unblock-all", "--channels", "40,3")
	assert.ErrorIs(t, err, readuntil.ErrInvalidConfig)

	_, _, err = executeCLI(t, "unblock-all", "--port", "99999")
	assert.ErrorIs(t, err, readuntil.ErrInvalidConfig)
}

func TestUnblockAll_NoInstrument(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	stdout, _, err := executeCLI(t, "unblock-all",
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--run-time", "1")

	assert.ErrorIs(t, err, lifecycle.ErrAcquire)
	assert.ErrorIs(t, err, instrument.ErrAcquire)
	assert.Empty(t, stdout)
}

func TestUnblockAll_ExplicitZeroThrottle(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, l.Close())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "flag omitted", want: "Throttle:0.1 "},
		{name: "flag zero", args: []string{"--throttle", "0"}, want: "Throttle:0 "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"unblock-all", "--host", "127.0.0.1", "--port", port, "--run-time", "1"}, tt.args...)
			_, stderr, err := executeCLI(t, args...)

			assert.ErrorIs(t, err, lifecycle.ErrAcquire)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

// serveSimulated serves a small simulated position producing a chunk round
// every 20ms, and returns the device with its host and port.
func serveSimulated(t *testing.T) (*simulator.Device, string, string) {
	t.Helper()

	sc := simulator.DefaultScenario()
	sc.Channels = 8
	sc.ChunkInterval = 20 * time.Millisecond
	sc.SamplesPerChunk = 400
	sc.ChunksPerRead = 10
	sc.CacheSize = 8

	device, err := simulator.New(sc)
	require.NoError(t, err)

	path, h := instrument.NewHandler(device)
	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = device.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return device, host, port
}

func TestUnblockAll_EndToEnd(t *testing.T) {
	device, host, port := serveSimulated(t)
	db := filepath.Join(t.TempDir(), "decisions.db")

	stdout, stderr, err := executeCLI(t, "unblock-all",
		"--host", host,
		"--port", port,
		"--channels", "1,4",
		"--run-time", "0.5",
		"--throttle", "0.05",
		"--ledger", db)
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "stopped (deadline)")
	assert.Contains(t, stderr, "readfish started")

	stats := device.Stats()
	assert.Positive(t, stats.Unblocks)
	assert.Equal(t, stats.Unblocks, stats.StopReceiving)
	assert.Equal(t, 1, stats.Resets)
	assert.False(t, device.Running())

	messages := device.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, read.SeverityWarn, messages[0].Severity)
	assert.Contains(t, messages[0].Text, "Unblock All")
	assert.Equal(t, read.SeverityInfo, messages[1].Severity)

	listing, _, err := executeCLI(t, "decisions", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, listing, "RUN ID")
	assert.Contains(t, listing, strconv.Itoa(stats.Unblocks))
}

func TestObserve_EndToEnd(t *testing.T) {
	device, host, port := serveSimulated(t)
	logFile := filepath.Join(t.TempDir(), "readfish.jsonl")

	stdout, stderr, err := executeCLI(t, "deepnano-call",
		"--host", host,
		"--port", port,
		"--channels", "1,2",
		"--run-time", "0.3",
		"--throttle", "0.05",
		"--watch", "1",
		"--log-file", logFile)
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "0 unblocked")
	assert.Contains(t, stderr, "called read")
	assert.Zero(t, device.Stats().Unblocks)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"readuntil.cycle.complete"`)
}
