package domain

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a sync is requested for an account
// that already has a run in flight.
var ErrSyncInProgress = errors.New("a sync is already running for this account")

// AuthConfigError means OAuth client credentials are missing or invalid.
// Fatal for the account; the user must configure or reconnect.
type AuthConfigError struct {
	Provider string
	Reason   string
}

func (e *AuthConfigError) Error() string {
	return fmt.Sprintf("oauth credentials for %s unavailable: %s", e.Provider, e.Reason)
}

// TokenExpiredError means the access token is expired and cannot be
// refreshed. Fatal per account, never retried automatically; the user
// must reconnect the account.
type TokenExpiredError struct {
	AccountID string
	Err       error
}

func (e *TokenExpiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token expired for account %s: %v", e.AccountID, e.Err)
	}
	return fmt.Sprintf("token expired for account %s: no refresh token available", e.AccountID)
}

func (e *TokenExpiredError) Unwrap() error { return e.Err }

// ProviderFetchError means listing or hydration against the provider
// failed in a way that aborts the current run. The next scheduled tick
// retries from the unchanged checkpoint.
type ProviderFetchError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderFetchError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderFetchError) Unwrap() error { return e.Err }

// ActionExecutionError means a single message mutation failed. Recorded
// on the run; the run continues.
type ActionExecutionError struct {
	Action    string
	MessageID string
	Err       error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %q on message %s failed: %v", e.Action, e.MessageID, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// PersistenceError means a datastore write failed. Aborts the run and is
// surfaced in the ProcessingLog.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
