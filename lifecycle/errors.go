package lifecycle

import "errors"

var (
	ErrAcquire = errors.New("failed to acquire session")
	ErrStart   = errors.New("failed to start streaming")
	ErrRelease = errors.New("failed to release session")
	ErrPanic   = errors.New("run panicked")
	ErrReused  = errors.New("manager already ran")
)
