// Package election implements the Primary Election State Machine (§4.5,
// C5): pending/done/timeout lifecycle, vote placement via conditional
// writes, and the bounded waiter used by both the bootstrap and heartbeat
// call sites.
//
// There are no in-process locks here (§5) — correctness rests entirely on
// the platform adapter's linearizable conditional writes on PrimaryRecord.
// The bounded poll loop below is reimplemented from the teacher's
// "waitFor(emitter, validator, interval, counter)" idiom (§9) as a plain
// loop parameterized by a cooperative sleep and a deadline clock pulled
// from the Proxy Adapter, instead of promise-chain polling.
package election

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/autoscaleerrors"
	"github.com/openshift/autoscale-core/internal/platform"
	"github.com/openshift/autoscale-core/internal/proxy"
)

// pollIntervalMs is the bounded waiter's poll cadence (§4.5).
const pollIntervalMs = 5000

// minRemainingMs is the floor below which a bounded waiter must give up
// control rather than risk running past the handler's deadline (§4.5, §5).
const minRemainingMs = 6000

// Outcome describes how Run concluded.
type Outcome string

const (
	// OutcomeBecamePrimary means self now holds the done PrimaryRecord.
	OutcomeBecamePrimary Outcome = "became-primary"
	// OutcomeOtherPrimary means some other VM holds the done record.
	OutcomeOtherPrimary Outcome = "other-primary"
	// OutcomeNoWait means master-election-no-wait is set and the caller
	// either observed a pending election or, being ineligible, found no
	// done record, so it returned without a decision.
	OutcomeNoWait Outcome = "no-wait"
	// OutcomeTimedOut means the bounded waiter ran out of remaining
	// execution time without a decision (§4.5 "timeout path").
	OutcomeTimedOut Outcome = "timed-out"
	// OutcomeFinalizeFailed means self won candidacy but the subsequent
	// finalize (pending->done) failed; Record is the losing candidate the
	// caller should purge, per §4.6 step 8.
	OutcomeFinalizeFailed Outcome = "finalize-failed"
)

// Params configures one election Run invocation.
type Params struct {
	Self                    *fleet.VirtualMachine
	PrimaryScalingGroupName string
	ElectionTimeoutSec      int
	NoWait                  bool
	// PrimaryUnhealthy tells Run whether the incumbent "done" primary (if
	// any) has been judged unhealthy by the Health Check Engine; this
	// drives the done->absent purge decision of §4.5 step 2.
	PrimaryUnhealthy bool
	// Now returns ms since epoch; injected so election tests are
	// deterministic.
	Now func() int64
}

// Result is what Run produces for the caller to act on.
type Result struct {
	Outcome Outcome
	Record  *fleet.PrimaryRecord
}

// Run executes the election runner described in §4.5 steps 1-5: it loads
// the current PrimaryRecord, decides whether an election and/or a purge is
// needed, enforces eligibility, and either returns a decision or waits.
func Run(ctx context.Context, adapter platform.Adapter, px proxy.Adapter, p Params) (Result, error) {
	now := p.Now
	if now == nil {
		now = nowMs
	}
	eligible := p.Self.ScalingGroupName == p.PrimaryScalingGroupName

	record, err := getMasterRecord(ctx, adapter)
	if err != nil {
		return Result{}, err
	}

	// One limiter for the whole run keeps the poll cadence when wait hands
	// control back to this loop and is entered again.
	limiter := rate.NewLimiter(rate.Every(pollIntervalMs*time.Millisecond), 1)

	for {
		needElection, purgeExisting := decide(record, now(), p.PrimaryUnhealthy)

		// decide only returns needElection=false for a non-nil record.
		if !needElection && record.VoteState != fleet.VoteStatePending {
			return Result{Outcome: OutcomeOtherPrimary, Record: record}, nil
		}

		// A pending record within its deadline, or an ineligible caller, waits.
		if !needElection || !eligible {
			if !eligible && p.NoWait && (record == nil || record.VoteState != fleet.VoteStateDone) {
				return Result{Outcome: OutcomeNoWait, Record: record}, nil
			}
			outcome, next, err := wait(ctx, adapter, px, limiter, p, record)
			if err != nil {
				return Result{}, err
			}
			if outcome != "" {
				return Result{Outcome: outcome, Record: next}, nil
			}
			record = next
			continue
		}

		if purgeExisting {
			if err := Purge(ctx, adapter, *record); err != nil {
				return Result{}, err
			}
		}

		var expectedOld *fleet.PrimaryRecord
		if !purgeExisting {
			expectedOld = record // absent or timeout-tombstoned
		}

		candidate := fleet.PrimaryRecord{
			VmID:             p.Self.VmID,
			IP:               p.Self.PrimaryPrivateIP,
			ScalingGroupName: p.Self.ScalingGroupName,
			VirtualNetworkID: p.Self.VirtualNetworkID,
			SubnetID:         p.Self.SubnetID,
			VoteEndTime:      now() + int64(p.ElectionTimeoutSec)*1000,
			VoteState:        fleet.VoteStatePending,
		}

		if err := createMasterRecord(ctx, adapter, candidate, expectedOld); err != nil {
			if !isRaceLost(err) {
				return Result{}, err
			}
			// Lost the race: observe the winner and wait/return per policy.
			record, err = getMasterRecord(ctx, adapter)
			if err != nil {
				return Result{}, err
			}
			outcome, next, err := wait(ctx, adapter, px, limiter, p, record)
			if err != nil {
				return Result{}, err
			}
			if outcome != "" {
				return Result{Outcome: outcome, Record: next}, nil
			}
			record = next
			continue
		}

		// We won candidacy. CreateMasterRecord took candidate by value, so
		// any ID the adapter assigned server-side never reached our local
		// copy; re-read before finalizing so the conditional update below
		// compares against the record the adapter actually stored, not an
		// empty ID that would spuriously lose the CAS check.
		won, err := getMasterRecord(ctx, adapter)
		if err != nil {
			return Result{}, err
		}
		if won == nil {
			return Result{}, autoscaleerrors.ErrRaceLost
		}

		// We won candidacy; attempt to finalize immediately (§4.5 step 5).
		final, err := Finalize(ctx, adapter, *won)
		if err != nil {
			return Result{Outcome: OutcomeFinalizeFailed, Record: won}, nil
		}
		return Result{Outcome: OutcomeBecamePrimary, Record: &final}, nil
	}
}

// decide implements §4.5 step 2's state table.
func decide(record *fleet.PrimaryRecord, nowMs int64, primaryUnhealthy bool) (needElection, purgeExisting bool) {
	if record == nil {
		return true, false
	}
	switch record.VoteState {
	case fleet.VoteStateDone:
		if primaryUnhealthy {
			return true, true
		}
		return false, false
	case fleet.VoteStatePending:
		if nowMs > record.VoteEndTime {
			return true, true
		}
		return false, false // within deadline: wait
	case fleet.VoteStateTimeout:
		return true, false
	default:
		return true, false
	}
}

// wait implements the bounded waiting policy of §4.5. It returns a
// non-empty Outcome when the wait concluded without needing another pass
// through Run's loop, or ("", updated-record) when the caller should
// re-evaluate decide() and loop again.
func wait(ctx context.Context, adapter platform.Adapter, px proxy.Adapter, limiter *rate.Limiter, p Params, record *fleet.PrimaryRecord) (Outcome, *fleet.PrimaryRecord, error) {
	if record != nil && record.VoteState == fleet.VoteStatePending && p.NoWait {
		return OutcomeNoWait, record, nil
	}

	for {
		if px.GetRemainingExecutionTimeMs() < minRemainingMs {
			return OutcomeTimedOut, record, nil
		}

		if err := limiter.Wait(ctx); err != nil {
			return "", nil, err
		}

		current, err := getMasterRecord(ctx, adapter)
		if err != nil {
			return "", nil, err
		}
		record = current

		if record == nil {
			return "", nil, nil // absent now: let caller re-decide and candidate
		}

		switch record.VoteState {
		case fleet.VoteStateDone:
			if adapter.VmEquals(&fleet.VirtualMachine{VmID: record.VmID}, p.Self) {
				return OutcomeBecamePrimary, record, nil
			}
			return OutcomeOtherPrimary, record, nil
		case fleet.VoteStateTimeout:
			return "", record, nil // let caller re-decide (needElection=true)
		case fleet.VoteStatePending:
			if p.NoWait {
				return OutcomeNoWait, record, nil
			}
			// still pending and within deadline: keep polling.
		}
	}
}

// Finalize transitions a pending record this VM owns to done (§4.5
// pending->done). Only the candidate named in VmID may finalize; callers
// must only invoke this with a candidate they themselves won.
func Finalize(ctx context.Context, adapter platform.Adapter, candidate fleet.PrimaryRecord) (fleet.PrimaryRecord, error) {
	candidate.VoteState = fleet.VoteStateDone
	err := autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return adapter.UpdateMasterRecord(ctx, candidate)
	})
	if err != nil {
		return fleet.PrimaryRecord{}, err
	}
	return candidate, nil
}

// Purge deletes a done/expired PrimaryRecord as a precondition for a fresh
// election (§4.5 done->absent). A RaceLost here means someone else already
// purged it, which is treated as success.
func Purge(ctx context.Context, adapter platform.Adapter, expected fleet.PrimaryRecord) error {
	err := autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return adapter.DeleteMasterRecord(ctx, expected)
	})
	if err != nil && !isRaceLost(err) {
		return err
	}
	return nil
}

// getMasterRecord and createMasterRecord wrap the corresponding adapter
// calls in the transient-I/O retry policy (§7); race-lost outcomes pass
// through untouched for Run's own retry/wait logic to handle.
func getMasterRecord(ctx context.Context, adapter platform.Adapter) (*fleet.PrimaryRecord, error) {
	return autoscaleerrors.RetryValue(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() (*fleet.PrimaryRecord, error) {
		return adapter.GetMasterRecord(ctx)
	})
}

func createMasterRecord(ctx context.Context, adapter platform.Adapter, candidate fleet.PrimaryRecord, expectedOld *fleet.PrimaryRecord) error {
	return autoscaleerrors.Retry(ctx, autoscaleerrors.DefaultTransientRetryAttempts, autoscaleerrors.DefaultTransientRetryBackoff, func() error {
		return adapter.CreateMasterRecord(ctx, candidate, expectedOld)
	})
}

func isRaceLost(err error) bool {
	return errors.Is(err, autoscaleerrors.ErrRaceLost)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
