package catalog

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/model"
	"jobinsight/discovery-service/internal/retry"
	"jobinsight/discovery-service/internal/store"
)

// unspecifiedSalary is what the sources print when a posting has no salary.
const unspecifiedSalary = "نامشخص"

// PostingFailure records a posting that could not be persisted.
type PostingFailure struct {
	Link string
	Err  error
}

// UpsertReport is the result of UpsertBulk. Jobs holds every persisted row
// in input order; failed postings appear only in Failures.
type UpsertReport struct {
	Jobs     []model.Job
	Failures []PostingFailure
}

// IDs returns the ids of the persisted jobs.
func (r UpsertReport) IDs() []int64 {
	ids := make([]int64, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		ids = append(ids, j.ID)
	}
	return ids
}

// JobWriter persists postings idempotently, keyed by link.
//
// Each posting is committed on its own. A failure part-way through a batch
// leaves the earlier postings stored; that is the intended trade-off, since
// losing a whole scrape to one bad row costs more than a non-atomic batch.
type JobWriter struct {
	jobs   store.JobStore
	opts   options
	logger *zap.Logger
}

// NewJobWriter returns a JobWriter with two attempts per posting: insert,
// then update-by-link if the insert hit the unique link constraint.
func NewJobWriter(jobs store.JobStore, logger *zap.Logger, opts ...Option) *JobWriter {
	return &JobWriter{
		jobs:   jobs,
		opts:   buildOptions(retry.Twice, opts),
		logger: logger.Named("jobs"),
	}
}

// UpsertBulk inserts or refreshes every posting. Links are expected to be
// normalized already; duplicate links within the batch are collapsed, first
// occurrence wins.
func (w *JobWriter) UpsertBulk(ctx context.Context, postings []model.RawPosting) UpsertReport {
	var rep UpsertReport
	seen := make(map[string]struct{}, len(postings))

	for _, p := range postings {
		in, err := jobInput(p)
		if err != nil {
			rep.Failures = append(rep.Failures, PostingFailure{Link: p.Link, Err: err})
			continue
		}
		if _, dup := seen[in.Link]; dup {
			continue
		}
		seen[in.Link] = struct{}{}

		if err := ctx.Err(); err != nil {
			rep.Failures = append(rep.Failures, PostingFailure{Link: in.Link, Err: err})
			continue
		}

		job, err := w.upsertOne(ctx, in)
		if err != nil {
			w.logger.Warn("posting not persisted", zap.String(logging.FieldLink, in.Link), zap.Error(err))
			rep.Failures = append(rep.Failures, PostingFailure{Link: in.Link, Err: err})
			continue
		}
		rep.Jobs = append(rep.Jobs, job)
	}

	w.logger.Debug("bulk upsert finished",
		zap.Int(logging.FieldCount, len(rep.Jobs)), zap.Int("failures", len(rep.Failures)))
	return rep
}

func (w *JobWriter) upsertOne(ctx context.Context, in store.JobInput) (model.Job, error) {
	var job model.Job
	err := retry.Do(ctx, w.opts.policy, func(ctx context.Context, a retry.Attempt) error {
		var err error
		if a.AfterConflict {
			job, err = w.jobs.UpdateJobByLink(ctx, in, w.opts.now())
		} else {
			job, err = w.jobs.InsertJob(ctx, in, w.opts.now())
		}
		return err
	})
	return job, err
}

func jobInput(p model.RawPosting) (store.JobInput, error) {
	link := strings.TrimSpace(p.Link)
	title := strings.TrimSpace(p.Title)
	if link == "" || title == "" {
		return store.JobInput{}, errors.InvalidRequestf("posting needs a title and a link (title=%q link=%q)", p.Title, p.Link)
	}

	var salary *string
	if p.SalaryText != nil {
		if s := strings.TrimSpace(*p.SalaryText); s != "" && s != unspecifiedSalary {
			salary = &s
		}
	}

	reqs := make([]string, 0, len(p.Skills))
	for _, s := range p.Skills {
		if s = strings.TrimSpace(s); s != "" {
			reqs = append(reqs, s)
		}
	}

	return store.JobInput{Title: title, Salary: salary, Requirements: reqs, Link: link}, nil
}
