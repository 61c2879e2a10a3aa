package aggregator

import "fmt"

// FetchError is a transient aggregator failure (network error, 5xx, 429).
// Callers retry it with bounded backoff.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("aggregator fetch failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("aggregator fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AuthError means the access token is expired or revoked. It is fatal for the
// run: the account must be re-linked by the user, so retrying is pointless.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("aggregator credential rejected: status %d", e.StatusCode)
}
