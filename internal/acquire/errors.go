package acquire

import (
	"errors"
	"io/fs"
)

// ErrNoTextExtracted is returned when every strategy failed or produced
// too little text
var ErrNoTextExtracted = errors.New("no text extracted")

// ErrUnsupported is returned by a strategy that cannot handle the
// document's kind. The pipeline moves on without retrying.
var ErrUnsupported = errors.New("document kind not supported by strategy")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. The pipeline aborts on it without
// trying later strategies.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried. Missing files and
// permission failures are always permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}
