package fhir

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData is returned when the first search page carries nothing
	// usable. It is distinct from a successful search with zero matches.
	ErrNoData = errors.New("fhir: no data returned")

	// ErrMalformedResponse marks a response body that decoded but is not the
	// expected resource (for example a later search page that is not a Bundle).
	ErrMalformedResponse = errors.New("fhir: malformed response")

	// ErrForeignOrigin rejects an absolute reference (attachment url or next
	// link) whose scheme or host differs from the client's base URL. The
	// bearer token is only ever sent to the configured server.
	ErrForeignOrigin = errors.New("fhir: reference points outside the FHIR server")
)

// FetchError is a network failure or non-success HTTP status from the FHIR
// server. It is never retried by this package.
type FetchError struct {
	URL        string
	StatusCode int
	Outcome    *OperationOutcome
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Outcome != nil:
		return fmt.Sprintf("fhir: GET %s: status %d: %s", e.URL, e.StatusCode, e.Outcome.Summary())
	case e.StatusCode != 0:
		return fmt.Sprintf("fhir: GET %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fhir: GET %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is, or wraps, a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
