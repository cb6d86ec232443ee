package domain

import "errors"

// Error taxonomy shared by transports, caches and usecases. Callers branch
// with errors.Is; everything else is treated as transient.
var (
	// ErrAuthExpired means the account credentials are invalid and need an
	// external refresh. Fatal for the account's sync/fetch, never retried
	// automatically.
	ErrAuthExpired = errors.New("credentials expired or revoked")

	// ErrTransient covers timeouts and connection resets. Retried on the
	// next natural cycle.
	ErrTransient = errors.New("transient network error")

	// ErrNotFound means the message (or record) vanished upstream. Stale
	// cache and index entries should be invalidated.
	ErrNotFound = errors.New("not found")

	// ErrValidation rejects malformed identifiers or inputs immediately.
	ErrValidation = errors.New("validation failed")

	// ErrAnalyzer means the AI call failed or returned unusable output.
	// The message simply lacks an analysis until the next pass.
	ErrAnalyzer = errors.New("analyzer failure")
)
