package read

import (
	"errors"
	"strings"
)

var (
	ErrUnknownEncoding = errors.New("unknown signal encoding")
	ErrTruncatedSignal = errors.New("truncated signal")
)

// Severity grades an out-of-band operator message.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity is the inverse of Severity.String. Unknown names map to SeverityInfo.
func ParseSeverity(name string) Severity {
	switch strings.ToUpper(name) {
	case "WARN", "WARNING":
		return SeverityWarn
	case "ERROR":
		return SeverityError
	default:
		return SeverityInfo
	}
}
