package gtfs

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSnapshot means no static snapshot has been adopted yet; queries
	// and live merges cannot run.
	ErrNoSnapshot = errors.New("gtfs: no snapshot adopted")

	// ErrSnapshotMismatch means a stored or bundled snapshot was built with
	// a different format version or stop filter and must be rebuilt.
	ErrSnapshotMismatch = errors.New("gtfs: snapshot does not match configuration")
)

// FetchError reports a failed retrieval of a remote or local source.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("gtfs: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports source data that was retrieved but could not be
// understood.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gtfs: %s: %v", e.Reason, e.Err)
	}
	return "gtfs: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }
