// Package memstore is an in-process store.Store. It enforces the same
// unique keys and cascade rules as the PostgreSQL schema and is used by the
// memory driver and by tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/model"
	"jobinsight/discovery-service/internal/store"
)

type relKey struct{ keywordID, jobID int64 }

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	nextKeyword int64
	keywords    map[int64]model.Keyword
	keywordIDs  map[string]int64

	nextJob int64
	jobs    map[int64]model.Job
	jobIDs  map[string]int64

	relations map[relKey]time.Time

	nextItem int64
	items    map[int64]model.QueueItem
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		keywords:   make(map[int64]model.Keyword),
		keywordIDs: make(map[string]int64),
		jobs:       make(map[int64]model.Job),
		jobIDs:     make(map[string]int64),
		relations:  make(map[relKey]time.Time),
		items:      make(map[int64]model.QueueItem),
	}
}

// Close is a no-op.
func (s *Store) Close() {}

// ─── Keywords ────────────────────────────────────────────────────────────────

func (s *Store) FindKeyword(ctx context.Context, text string) (model.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keywordIDs[text]
	if !ok {
		return model.Keyword{}, errors.Wrapf(errors.ErrNotFound, "keyword %q", text)
	}
	return s.keywords[id], nil
}

func (s *Store) InsertKeyword(ctx context.Context, text string) (model.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keywordIDs[text]; ok {
		return model.Keyword{}, errors.Wrapf(errors.ErrConflict, "keyword %q already exists", text)
	}
	s.nextKeyword++
	kw := model.Keyword{ID: s.nextKeyword, Text: text}
	s.keywords[kw.ID] = kw
	s.keywordIDs[text] = kw.ID
	return kw, nil
}

func (s *Store) DeleteKeyword(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kw, ok := s.keywords[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "keyword %d", id)
	}
	delete(s.keywords, id)
	delete(s.keywordIDs, kw.Text)
	for k := range s.relations {
		if k.keywordID == id {
			delete(s.relations, k)
		}
	}
	return nil
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

func (s *Store) InsertJob(ctx context.Context, in store.JobInput, at time.Time) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobIDs[in.Link]; ok {
		return model.Job{}, errors.Wrapf(errors.ErrConflict, "job link %q already exists", in.Link)
	}
	s.nextJob++
	job := model.Job{
		ID:           s.nextJob,
		Title:        in.Title,
		Salary:       cloneString(in.Salary),
		Requirements: cloneStrings(in.Requirements),
		Link:         in.Link,
		ScrapedAt:    at,
	}
	s.jobs[job.ID] = job
	s.jobIDs[job.Link] = job.ID
	return cloneJob(job), nil
}

func (s *Store) UpdateJobByLink(ctx context.Context, in store.JobInput, at time.Time) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.jobIDs[in.Link]
	if !ok {
		return model.Job{}, errors.Wrapf(errors.ErrNotFound, "job link %q", in.Link)
	}
	job := s.jobs[id]
	job.Title = in.Title
	job.Salary = cloneString(in.Salary)
	job.Requirements = cloneStrings(in.Requirements)
	job.ScrapedAt = at
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *Store) FindJobByLink(ctx context.Context, link string) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.jobIDs[link]
	if !ok {
		return model.Job{}, errors.Wrapf(errors.ErrNotFound, "job link %q", link)
	}
	return cloneJob(s.jobs[id]), nil
}

func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "job %d", id)
	}
	delete(s.jobs, id)
	delete(s.jobIDs, job.Link)
	for k := range s.relations {
		if k.jobID == id {
			delete(s.relations, k)
		}
	}
	return nil
}

// JobCount returns the number of stored jobs.
func (s *Store) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// KeywordCount returns the number of stored keywords.
func (s *Store) KeywordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keywords)
}

// ─── Relations ───────────────────────────────────────────────────────────────

func (s *Store) TouchRelation(ctx context.Context, keywordID, jobID int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := relKey{keywordID, jobID}
	last, ok := s.relations[k]
	if !ok {
		return false, nil
	}
	if at.After(last) {
		s.relations[k] = at
	}
	return true, nil
}

func (s *Store) InsertRelation(ctx context.Context, keywordID, jobID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keywords[keywordID]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "keyword %d", keywordID)
	}
	if _, ok := s.jobs[jobID]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "job %d", jobID)
	}
	k := relKey{keywordID, jobID}
	if _, ok := s.relations[k]; ok {
		return errors.Wrapf(errors.ErrConflict, "relation (%d, %d) already exists", keywordID, jobID)
	}
	s.relations[k] = at
	return nil
}

// SetRelation inserts or overwrites a relation with an explicit last_update,
// bypassing the monotonic rule. It exists for seeding fixtures.
func (s *Store) SetRelation(keywordID, jobID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations[relKey{keywordID, jobID}] = at
}

func (s *Store) ListRelatedJobs(ctx context.Context, keywordID int64) ([]model.RelatedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RelatedJob, 0)
	for k, last := range s.relations {
		if k.keywordID != keywordID {
			continue
		}
		out = append(out, model.RelatedJob{Job: cloneJob(s.jobs[k.jobID]), LastUpdate: last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job.ID < out[j].Job.ID })
	return out, nil
}

func (s *Store) DeleteRelations(ctx context.Context, keywordID, jobID int64) (int64, error) {
	if keywordID == 0 && jobID == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.relations {
		if keywordID != 0 && k.keywordID != keywordID {
			continue
		}
		if jobID != 0 && k.jobID != jobID {
			continue
		}
		delete(s.relations, k)
		n++
	}
	return n, nil
}

// ─── Queue ───────────────────────────────────────────────────────────────────

func (s *Store) EnqueueItem(ctx context.Context, keyword string, requesterID *string, at time.Time) (model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextItem++
	item := model.QueueItem{
		ID:          s.nextItem,
		Keyword:     keyword,
		RequesterID: cloneString(requesterID),
		Status:      model.QueuePending,
		CreatedAt:   at,
	}
	s.items[item.ID] = item
	return item, nil
}

func (s *Store) ClaimPending(ctx context.Context, max int, leaseExpiry, at time.Time) ([]model.QueueItem, error) {
	return s.claim(max, at, func(it model.QueueItem) bool {
		if it.Status == model.QueuePending {
			return true
		}
		return it.Status == model.QueueProcessing && it.ClaimedAt != nil && it.ClaimedAt.Before(leaseExpiry)
	})
}

func (s *Store) ClaimPendingByKeyword(ctx context.Context, keyword string, at time.Time) ([]model.QueueItem, error) {
	return s.claim(0, at, func(it model.QueueItem) bool {
		return it.Status == model.QueuePending && it.Keyword == keyword
	})
}

// claim moves matching items to processing, oldest first; max <= 0 means no cap.
func (s *Store) claim(max int, at time.Time, match func(model.QueueItem) bool) ([]model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]model.QueueItem, 0)
	for _, it := range s.items {
		if match(it) {
			candidates = append(candidates, it)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	for i := range candidates {
		claimed := at
		candidates[i].Status = model.QueueProcessing
		candidates[i].ClaimedAt = &claimed
		s.items[candidates[i].ID] = candidates[i]
	}
	return candidates, nil
}

func (s *Store) MarkDone(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "queue item %d", id)
	}
	if !model.CanTransition(it.Status, model.QueueDone) {
		return nil
	}
	done := at
	it.Status = model.QueueDone
	it.ProcessedAt = &done
	s.items[id] = it
	return nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return model.QueueItem{}, errors.Wrapf(errors.ErrNotFound, "queue item %d", id)
	}
	return it, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneJob(j model.Job) model.Job {
	j.Salary = cloneString(j.Salary)
	j.Requirements = cloneStrings(j.Requirements)
	return j
}
