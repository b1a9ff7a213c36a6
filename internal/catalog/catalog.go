// Package catalog owns the durable keyword, job and keyword↔job records.
//
// Registry maps keyword text to an id, JobWriter persists postings keyed by
// link, and Linker maintains keyword_job. All three resolve write races the
// same way: the unique constraint rejects the loser, and retry.Do gives the
// loser a second attempt on the read or update branch.
package catalog

import (
	"time"

	"jobinsight/discovery-service/internal/retry"
)

type options struct {
	now    func() time.Time
	policy retry.Policy
}

// Option configures a Registry, JobWriter or Linker.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPolicy replaces the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(o *options) { o.policy = p }
}

func buildOptions(def retry.Policy, opts []Option) options {
	o := options{now: time.Now, policy: def}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
