package readuntil

import "github.com/tailored-agentic-units/readfish/observability"

const (
	EventRunStart      observability.EventType = "readuntil.run.start"
	EventRunStop       observability.EventType = "readuntil.run.stop"
	EventCycleComplete observability.EventType = "readuntil.cycle.complete"
	EventPollFailed    observability.EventType = "readuntil.poll.failed"
	EventReadDecided   observability.EventType = "readuntil.read.decided"
	EventReadFailed    observability.EventType = "readuntil.read.failed"
	EventCommandFailed observability.EventType = "readuntil.command.failed"
	EventJournalFailed observability.EventType = "readuntil.journal.failed"
)

// StopReason records why a run ended.
type StopReason string

const (
	StopDeadline     StopReason = "deadline"
	StopDisconnected StopReason = "disconnected"
	StopCancelled    StopReason = "cancelled"
)
