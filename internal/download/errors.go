package download

import (
	"fmt"
	"time"
)

// DownloadError is returned once every attempt has failed.
type DownloadError struct {
	Attempts int
	LastErr  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download: failed after %d attempt(s): %v", e.Attempts, e.LastErr)
}

func (e *DownloadError) Unwrap() error { return e.LastErr }

// TimeoutError marks an attempt that exceeded the per-attempt timeout.
type TimeoutError struct {
	Attempt int
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("download: attempt %d timed out after %s", e.Attempt, e.Limit)
}

// Timeout satisfies the net.Error style timeout check.
func (e *TimeoutError) Timeout() bool { return true }

// HTTPError is a non-2xx response from the vendor endpoint.
type HTTPError struct {
	Attempt    int
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("download: attempt %d: unexpected status %s", e.Attempt, e.Status)
	}
	return fmt.Sprintf("download: attempt %d: unexpected status %s: %s", e.Attempt, e.Status, e.Body)
}
