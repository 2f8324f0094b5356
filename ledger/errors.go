package ledger

import "errors"

var (
	ErrInvalidReadID  = errors.New("read identifier is empty")
	ErrUnknownOutcome = errors.New("unknown outcome")
	ErrJournal        = errors.New("journal write failed")
)
