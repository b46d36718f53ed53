package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidInference  = errors.New("invalid inference response")
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrLockHeld          = errors.New("lock already held")
)

// FetchError is a transport-level page-fetch failure: DNS, connection, TLS,
// or a blocked request that never produced a usable page. HTTP error statuses
// are not FetchErrors; they are reported in the PageSnapshot.
type FetchError struct {
	URL string
	// Blocked marks responses that indicate the marketplace refused the
	// request (anti-bot interstitial, expired session). These surface a
	// user-actionable message instead of a generic one.
	Blocked bool
	Err     error
}

func (e *FetchError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("fetch %s: request blocked by marketplace: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsBlockedFetch reports whether err is a FetchError flagged as blocked.
func IsBlockedFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Blocked
}
