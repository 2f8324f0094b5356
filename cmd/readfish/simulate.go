package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/readfish/instrument"
	"github.com/tailored-agentic-units/readfish/simulator"
)

const shutdownTimeout = 5 * time.Second

func newSimulateCmd() *cobra.Command {
	var (
		listen       string
		scenarioPath string
		channels     int
		runFor       time.Duration
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve a simulated sequencing position for dry runs",
		Long: "simulate serves the read-until RPC surface backed by synthetic signal, so " +
			"unblock-all and observe can run without hardware. It exits when the simulated " +
			"run ends, when a client resets the position, or on interrupt.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := simulator.DefaultScenario()
			if scenarioPath != "" {
				loaded, err := simulator.LoadScenario(scenarioPath)
				if err != nil {
					return err
				}
				sc = loaded
			}
			if channels > 0 {
				sc.Channels = channels
			}
			if runFor > 0 {
				sc.RunFor = runFor
			}

			logger, closeLog, err := newLogger(cmd.ErrOrStderr(), "", verbose)
			if err != nil {
				return err
			}
			defer closeLog()

			device, err := simulator.New(sc, simulator.WithLogger(logger))
			if err != nil {
				return err
			}

			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", listen, err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return serveSimulator(ctx, cmd, device, listener)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", "127.0.0.1:8000", "Address to serve the position on")
	flags.StringVar(&scenarioPath, "scenario", "", "YAML scenario file")
	flags.IntVar(&channels, "channels", 0, "Number of simulated channels (overrides the scenario)")
	flags.DurationVar(&runFor, "run-for", 0, "Simulated run length (overrides the scenario)")
	flags.BoolVar(&verbose, "verbose", false, "Log at DEBUG to stderr")
	return cmd
}

// serveSimulator serves device on listener until ctx ends or the device
// stops running, then prints the device statistics.
func serveSimulator(ctx context.Context, cmd *cobra.Command, device *simulator.Device, listener net.Listener) error {
	path, handler := instrument.NewHandler(device)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	fmt.Fprintf(cmd.OutOrStdout(), "simulating %d channels on %s\n", device.Scenario().Channels, listener.Addr())

	runErr := device.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	stats := device.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "simulated %d rounds: %d chunks, %d unblocks, %d stop-receiving, %d reads completed\n",
		stats.Rounds, stats.Produced, stats.Unblocks, stats.StopReceiving, stats.Completed)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
