// Package lserr defines the error taxonomy shared by all services. Callers
// classify with errors.Is; the API layer translates each kind into an HTTP
// status. Wrap with fmt.Errorf("%w: detail", lserr.Err...) to attach a
// message without losing the kind.
package lserr

import "errors"

var (
	// ErrInvalidArgument marks a malformed or missing request field.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAuthFailed marks a missing or invalid signature or token.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrForbidden marks an authenticated caller lacking a required flag.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks an absent provider, license, or route.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a duplicate provider name or license key.
	ErrConflict = errors.New("conflict")
	// ErrInternal marks a store or crypto failure. Details are logged, never
	// surfaced to the caller.
	ErrInternal = errors.New("internal error")
)
