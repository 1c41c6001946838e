// Package service holds definitions shared across the bridge service layers.
package service

import "errors"

var (
	// ErrAlreadyConnected signals an idempotent no-op: the account already has
	// a live registered connection. It is not a failure.
	ErrAlreadyConnected = errors.New("account is already connected")

	// ErrPairingFailed is returned when pairing-code retries are exhausted.
	ErrPairingFailed = errors.New("pairing code request failed")

	// ErrAuthRejected marks a terminal credential invalidation by the remote
	// platform. The stored session is purged and no retry is scheduled.
	ErrAuthRejected = errors.New("authentication rejected by remote platform")

	// ErrGivenUp is reported when the reconnection retry budget for an
	// account is exhausted; manual intervention is required.
	ErrGivenUp = errors.New("reconnection attempts exhausted")

	ErrInvalidAccountID = errors.New("account id must contain at least one digit")
	ErrShuttingDown     = errors.New("bridge is shutting down")
)
