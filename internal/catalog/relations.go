package catalog

import (
	"context"

	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/retry"
	"jobinsight/discovery-service/internal/store"
)

// LinkStatus aggregates the outcome of UpsertRelations.
type LinkStatus int

const (
	LinkAllSucceeded LinkStatus = iota
	LinkNoneSucceeded
	LinkPartial
)

func (s LinkStatus) String() string {
	switch s {
	case LinkAllSucceeded:
		return "all_succeeded"
	case LinkNoneSucceeded:
		return "none_succeeded"
	default:
		return "partial"
	}
}

// LinkReport lists which job ids were associated with the keyword.
type LinkReport struct {
	Status LinkStatus
	Linked []int64
	Failed []int64
}

// Linker maintains keyword_job rows.
type Linker struct {
	relations store.RelationStore
	opts      options
	logger    *zap.Logger
}

// NewLinker returns a Linker that tries each association twice.
func NewLinker(relations store.RelationStore, logger *zap.Logger, opts ...Option) *Linker {
	return &Linker{
		relations: relations,
		opts:      buildOptions(retry.Twice, opts),
		logger:    logger.Named("linker"),
	}
}

// UpsertRelations associates every job with the keyword as of now: existing
// relations get their last_update advanced, missing ones are inserted. An
// empty jobIDs is trivially LinkAllSucceeded.
func (l *Linker) UpsertRelations(ctx context.Context, keywordID int64, jobIDs []int64) LinkReport {
	rep := LinkReport{}
	seen := make(map[int64]struct{}, len(jobIDs))

	for _, jobID := range jobIDs {
		if _, dup := seen[jobID]; dup {
			continue
		}
		seen[jobID] = struct{}{}

		err := retry.Do(ctx, l.opts.policy, func(ctx context.Context, a retry.Attempt) error {
			at := l.opts.now()
			touched, err := l.relations.TouchRelation(ctx, keywordID, jobID, at)
			if err != nil || touched {
				return err
			}
			// A conflict here means a concurrent linker inserted first; the
			// next attempt takes the touch branch.
			return l.relations.InsertRelation(ctx, keywordID, jobID, at)
		})
		if err != nil {
			l.logger.Warn("relation not stored",
				zap.Int64(logging.FieldKeywordID, keywordID), zap.Int64("job_id", jobID), zap.Error(err))
			rep.Failed = append(rep.Failed, jobID)
			continue
		}
		rep.Linked = append(rep.Linked, jobID)
	}

	switch {
	case len(rep.Failed) == 0:
		rep.Status = LinkAllSucceeded
	case len(rep.Linked) == 0:
		rep.Status = LinkNoneSucceeded
	default:
		rep.Status = LinkPartial
	}
	return rep
}

// Unlink deletes relations by keyword, by job, or both (zero is a wildcard).
func (l *Linker) Unlink(ctx context.Context, keywordID, jobID int64) (int64, error) {
	return l.relations.DeleteRelations(ctx, keywordID, jobID)
}
