package main

import "github.com/spf13/cobra"

// command is one entry of the static command table.
type command struct {
	name string
	new  func() *cobra.Command
}

// commands is the complete set of subcommands. Entry points are fixed at
// build time; nothing is looked up by name at runtime.
var commands = []command{
	{"unblock-all", newUnblockAllCmd},
	{"observe", newObserveCmd},
	{"simulate", newSimulateCmd},
	{"decisions", newDecisionsCmd},
	{"config", newConfigCmd},
	{"version", newVersionCmd},
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "readfish",
		Short: "Adaptive sampling for nanopore sequencing",
		Long: "readfish drives the read-until API of a sequencing position: it polls the newest " +
			"signal chunk of every channel, classifies undecided reads and ejects or accepts " +
			"them while the run is live.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	for _, c := range commands {
		root.AddCommand(c.new())
	}
	return root
}
