// Package store declares the single-row persistence operations the catalog,
// cache and queue are built on. Implementations live in pgstore (PostgreSQL)
// and memstore (in-process).
//
// Error contract, shared by every implementation:
//   - a unique violation (keyword text, job link, keyword_job key) is marked
//     errors.ErrConflict;
//   - an exact lookup or targeted update that finds no row returns
//     errors.ErrNotFound;
//   - any other write failure is marked errors.ErrTransientStore.
//
// Every write is committed on its own; there are no multi-row transactions.
package store

import (
	"context"
	"time"

	"jobinsight/discovery-service/internal/model"
)

// JobInput is the writable part of a job row.
type JobInput struct {
	Title        string
	Salary       *string
	Requirements []string
	Link         string
}

// KeywordStore owns the keyword table.
type KeywordStore interface {
	FindKeyword(ctx context.Context, text string) (model.Keyword, error)
	InsertKeyword(ctx context.Context, text string) (model.Keyword, error)
	// DeleteKeyword removes the keyword and, by cascade, its relations.
	DeleteKeyword(ctx context.Context, id int64) error
}

// JobStore owns the job table.
type JobStore interface {
	InsertJob(ctx context.Context, in JobInput, at time.Time) (model.Job, error)
	// UpdateJobByLink refreshes title, salary, requirements and scraped_at.
	UpdateJobByLink(ctx context.Context, in JobInput, at time.Time) (model.Job, error)
	FindJobByLink(ctx context.Context, link string) (model.Job, error)
	// DeleteJob removes the job and, by cascade, its relations.
	DeleteJob(ctx context.Context, id int64) error
}

// RelationStore owns the keyword_job table.
type RelationStore interface {
	// TouchRelation advances last_update to at (never backwards). It returns
	// false when the relation does not exist.
	TouchRelation(ctx context.Context, keywordID, jobID int64, at time.Time) (bool, error)
	InsertRelation(ctx context.Context, keywordID, jobID int64, at time.Time) error
	// ListRelatedJobs joins keyword_job to job for one keyword.
	ListRelatedJobs(ctx context.Context, keywordID int64) ([]model.RelatedJob, error)
	// DeleteRelations deletes by keyword, by job, or both; a zero id is a
	// wildcard, and two zero ids delete nothing.
	DeleteRelations(ctx context.Context, keywordID, jobID int64) (int64, error)
}

// QueueStore owns the queue_item table.
type QueueStore interface {
	EnqueueItem(ctx context.Context, keyword string, requesterID *string, at time.Time) (model.QueueItem, error)
	// ClaimPending moves up to max items to processing, oldest first. Items
	// already processing whose claim is older than leaseExpiry are reclaimed.
	ClaimPending(ctx context.Context, max int, leaseExpiry, at time.Time) ([]model.QueueItem, error)
	// ClaimPendingByKeyword claims every pending item for one keyword.
	ClaimPendingByKeyword(ctx context.Context, keyword string, at time.Time) ([]model.QueueItem, error)
	// MarkDone is a no-op for items already done.
	MarkDone(ctx context.Context, id int64, at time.Time) error
	GetItem(ctx context.Context, id int64) (model.QueueItem, error)
}

// Store is the full persistence surface.
type Store interface {
	KeywordStore
	JobStore
	RelationStore
	QueueStore
	Close()
}
