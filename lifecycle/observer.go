package lifecycle

import "github.com/tailored-agentic-units/readfish/observability"

const (
	EventSessionAcquired observability.EventType = "lifecycle.session.acquired"
	EventSessionReleased observability.EventType = "lifecycle.session.released"
	EventNotifyFailed    observability.EventType = "lifecycle.notify.failed"
	EventReleaseFailed   observability.EventType = "lifecycle.release.failed"
)
