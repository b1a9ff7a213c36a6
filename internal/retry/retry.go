// Package retry runs an operation a bounded number of times.
//
// The operation is told whether the previous attempt lost a unique-constraint
// race, so insert-then-reread and insert-then-update patterns can switch
// branch on the next attempt instead of repeating the insert.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"jobinsight/discovery-service/internal/errors"
)

// Attempt describes the attempt about to run.
type Attempt struct {
	N             int  // 1-based
	AfterConflict bool // the previous attempt failed with a conflict
}

// Policy bounds and classifies retries.
type Policy struct {
	Attempts int
	// Delay between attempts after a non-conflict failure. Conflicts retry
	// immediately.
	Delay time.Duration
	// IsConflict classifies errors that switch the next attempt's branch.
	// Defaults to errors.IsConflict.
	IsConflict func(error) bool
	// IsRetryable decides whether a non-conflict error is worth another
	// attempt. Defaults to everything except context and caller errors.
	IsRetryable func(error) bool
}

// Twice is the policy shared by the catalog: one attempt and one retry.
var Twice = Policy{Attempts: 2, Delay: 50 * time.Millisecond}

func (p Policy) conflict(err error) bool {
	if p.IsConflict != nil {
		return p.IsConflict(err)
	}
	return errors.IsConflict(err)
}

func (p Policy) retryable(err error) bool {
	if p.IsRetryable != nil {
		return p.IsRetryable(err)
	}
	return !errors.IsAny(err, context.Canceled, context.DeadlineExceeded, errors.ErrInvalidRequest)
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. It returns op's last error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, a Attempt) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	state := &Attempt{}
	var b backoff.BackOff = &conflictAware{BackOff: backoff.NewConstantBackOff(p.Delay), state: state}
	b = backoff.WithMaxRetries(b, uint64(p.Attempts-1))
	b = backoff.WithContext(b, ctx)

	var last error
	err := backoff.Retry(func() error {
		state.N++
		err := op(ctx, *state)
		if err == nil {
			return nil
		}
		last = err
		state.AfterConflict = p.conflict(err)
		if !state.AfterConflict && !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil && last != nil && ctx.Err() == nil {
		return last
	}
	return err
}

type conflictAware struct {
	backoff.BackOff
	state *Attempt
}

func (c *conflictAware) NextBackOff() time.Duration {
	d := c.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if c.state.AfterConflict {
		return 0
	}
	return d
}
