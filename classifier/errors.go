package classifier

import "errors"

var (
	// ErrUnavailable marks a failure of the classifier as a whole rather
	// than of one read. The decision loop stops on it.
	ErrUnavailable = errors.New("classifier unavailable")
	ErrFlatSignal  = errors.New("signal has no variance")
	ErrShortSignal = errors.New("signal too short to call")
	ErrNotFound    = errors.New("classifier not found")
)
