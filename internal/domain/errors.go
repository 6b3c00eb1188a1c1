package domain

import "errors"

// Failure taxonomy. Mutating operations convert downstream errors into
// one of these at the operation boundary instead of crashing the
// connection-handling process.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrStorageFailure   = errors.New("storage failure")
	ErrPeerUnavailable  = errors.New("peer unavailable")
	ErrNotAllowed       = errors.New("not allowed")
)
