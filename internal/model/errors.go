package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSyncActive is returned when a run for the same source (or sync type,
	// when source-less) is already running inside the staleness window.
	ErrSyncActive = errors.New("sync already active")

	ErrRunNotFound   = errors.New("sync run not found")
	ErrRunFinished   = errors.New("sync run already finished")
	ErrUnknownSource = errors.New("unknown source")

	// ErrDuplicateListing signals a unique-key violation on source_url.
	ErrDuplicateListing = errors.New("listing with this source url already exists")

	// ErrUnstructuredResponse marks a response body that is not JSON.
	ErrUnstructuredResponse = errors.New("unstructured response")

	// ErrUnmappable marks a provider value the normalizer cannot convert,
	// such as an unparseable timestamp. It aborts the run.
	ErrUnmappable = errors.New("provider value cannot be normalized")
)

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err carries an HTTP 404 from a provider.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 404
}

// FetchError is a provider failure scoped to one unit of work (a company
// board or a feed page). The orchestrator skips the unit and keeps going.
type FetchError struct {
	Source string
	Unit   string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch for %s: %v", e.Source, e.Unit, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ActiveRunError is returned by the orchestrator when mutual exclusion
// rejects a start. It unwraps to ErrSyncActive.
type ActiveRunError struct {
	RunID     string
	StartedAt time.Time
}

func (e *ActiveRunError) Error() string {
	return fmt.Sprintf("%v: run %s started at %s", ErrSyncActive, e.RunID, e.StartedAt.Format(time.RFC3339))
}

func (e *ActiveRunError) Unwrap() error {
	return ErrSyncActive
}
