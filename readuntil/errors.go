package readuntil

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid read-until configuration")
	ErrNoSession     = errors.New("read-until loop requires a session")
)
