package domain

import (
	"errors"
	"fmt"
)

// ErrSyncRunning is returned when a sync is requested while another one is in progress.
var ErrSyncRunning = errors.New("sync already running")

// CredentialsError means the stored credentials are missing, expired or revoked
// and cannot be recovered within a cycle. The authorization flow has to be re-run.
type CredentialsError struct {
	Source string
	Err    error
}

func (e *CredentialsError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: invalid credentials", e.Source)
	}
	return fmt.Sprintf("%s: invalid credentials: %v", e.Source, e.Err)
}

func (e *CredentialsError) Unwrap() error { return e.Err }

// AuthExchangeError is returned when a token endpoint rejects a code or refresh exchange.
type AuthExchangeError struct {
	StatusCode int
	Body       string
}

func (e *AuthExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
}

// SourceNotFoundError means an expected upstream resource does not exist.
type SourceNotFoundError struct {
	Resource string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// HTTPError is an unexpected non-2xx response from a resource server.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
