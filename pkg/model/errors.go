package model

import "errors"

// Typed failures surfaced by the engine. Handlers map these onto the
// transport's status codes; everything else is an internal error.
var (
	// ErrNotFound means a referenced identity (project, directory,
	// file, or version) does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the caller lacks membership, or ownership
	// for owner-only operations.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest means a malformed path or a missing required
	// argument, e.g. neither id nor session id supplied on update.
	ErrBadRequest = errors.New("bad request")
)

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }
func IsBadRequest(err error) bool   { return errors.Is(err, ErrBadRequest) }
