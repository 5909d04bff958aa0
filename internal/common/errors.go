// Package common holds the error kinds shared across the server. Handlers
// branch on these with errors.Is to pick a response code.
package common

import "errors"

var (
	// ErrAuthFailed rejects a request or handshake carrying no usable credential.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrTokenExpired rejects a credential that was valid but is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidToken rejects a malformed or wrongly-signed credential.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotFound means a referenced user, file or transfer does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means a unique constraint (email, username) was hit.
	ErrAlreadyExists = errors.New("already exists")
	// ErrForbidden means the identity is not authorized for the requested action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition means a transfer status change violates the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInternal covers persistence failures and verifier misconfiguration.
	ErrInternal = errors.New("internal error")
)
