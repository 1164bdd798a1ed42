// Package infuseerr defines the sentinel error kinds shared across the
// ePacket, TDF logger, task runner, and watchdog components.
//
// Most operations here are fire-and-forget: callers record a
// counter (see internal/metrics) and continue rather than propagating
// the error up a call stack. These sentinels exist so that call sites
// which do need to branch on the failure kind (an RX handler checking
// for Unauthenticated, a TX completion callback checking for
// InterfaceDown) can do so with errors.Is instead of string matching.
package infuseerr

import "errors"

var (
	// ErrNoBuffer is returned when a transport's TX/RX pool is exhausted.
	ErrNoBuffer = errors.New("infuse: no buffer available")

	// ErrInterfaceDown is returned when a transport is not ready to send.
	ErrInterfaceDown = errors.New("infuse: interface down")

	// ErrUnauthenticated is returned by an AEAD cipher's Open on a bad
	// tag. The dispatcher reports such a frame to handlers with
	// Auth == AuthFailure rather than with this error.
	ErrUnauthenticated = errors.New("infuse: unauthenticated")

	// ErrUnknownKey is returned by a key store asked for a key role it
	// does not hold. An RX frame whose key_id matches no known key is
	// reported to handlers with Auth == AuthFailure, not with this error.
	ErrUnknownKey = errors.New("infuse: unknown key id")

	// ErrMalformed is returned when the framing layer rejects a frame
	// (bad version, inconsistent length).
	ErrMalformed = errors.New("infuse: malformed frame")

	// ErrTimeout is returned by receive/data-pull/task-run deadlines.
	ErrTimeout = errors.New("infuse: timeout")

	// ErrPersistFailure is returned by a logger backend write the
	// caller cannot recover from without a configuration change.
	ErrPersistFailure = errors.New("infuse: persist failure")

	// ErrCipherUnavailable is returned by an AEAD cipher registered in
	// the factory but not actually implemented in this build (see
	// internal/aead).
	ErrCipherUnavailable = errors.New("infuse: cipher unavailable")

	// ErrNotSupported is returned by optional backend operations (e.g.
	// block_read on a stream-only logger backend) that a given backend
	// does not implement.
	ErrNotSupported = errors.New("infuse: operation not supported")
)
