package cache

import (
	"context"

	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/logging"
)

// SeedOutcome reports what Seed did for one keyword.
type SeedOutcome struct {
	Keyword string
	Skipped bool // already registered
	Result  Result
	Err     error
}

// Seed runs the pipeline for every keyword that is not registered yet, one
// at a time. Registered keywords are left alone.
func (c *Cache) Seed(ctx context.Context, keywords []string, limit int) []SeedOutcome {
	out := make([]SeedOutcome, 0, len(keywords))
	for _, text := range keywords {
		if ctx.Err() != nil {
			out = append(out, SeedOutcome{Keyword: text, Err: ctx.Err()})
			continue
		}
		_, err := c.deps.Registry.Lookup(ctx, text)
		switch {
		case err == nil:
			out = append(out, SeedOutcome{Keyword: text, Skipped: true})
			continue
		case !errors.IsNotFound(err):
			out = append(out, SeedOutcome{Keyword: text, Err: err})
			continue
		}

		res, err := c.GetJobs(ctx, text, limit)
		if err != nil {
			c.logger.Warn("seed failed", zap.String(logging.FieldKeyword, text), zap.Error(err))
		}
		out = append(out, SeedOutcome{Keyword: text, Result: res, Err: err})
	}
	return out
}
