// Package autoscaleerrors defines the error taxonomy the core uses to
// signal which of its failures are fatal, which are retryable, and which
// are an ordinary, expected outcome of optimistic concurrency (§7).
//
// Components never catch these except to downgrade ErrRaceLost to a retry
// or to convert an expected absence into a nil result; everything else
// bubbles to the dispatcher, which logs it with context and renders the
// response the taxonomy implies.
package autoscaleerrors

import "errors"

var (
	// ErrConfigurationMissing means a required setting was absent. Fatal
	// for the request; the dispatcher responds 500.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrUnauthorized means the VM identity check failed. Non-retryable;
	// the dispatcher responds 403.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRaceLost means a conditional write lost to a concurrent writer.
	// Non-fatal; the caller re-reads and retries per the owning
	// component's policy.
	ErrRaceLost = errors.New("race lost")

	// ErrTransientIO means the platform adapter reported a retryable I/O
	// failure. Bounded retry happens inside the component that saw it;
	// if retries are exhausted it surfaces as a 500.
	ErrTransientIO = errors.New("transient io error")

	// ErrLicenseExhausted means no assignable license remains in the
	// pool. The dispatcher responds 500 with "No license available".
	ErrLicenseExhausted = errors.New("No license available")

	// ErrElectionTimeout means a bounded election waiter expired before a
	// decision was reached. The caller self-removes from the monitor and
	// terminates; the dispatcher responds 500 with a diagnostic.
	ErrElectionTimeout = errors.New("election timeout")

	// ErrLifecycleAbandon means a finalize attempt failed and the
	// lifecycle hook was completed with abandon=true.
	ErrLifecycleAbandon = errors.New("lifecycle abandon")
)
