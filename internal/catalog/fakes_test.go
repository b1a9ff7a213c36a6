package catalog_test

import (
	"context"
	"sync"
	"time"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/model"
	"jobinsight/discovery-service/internal/store"
	"jobinsight/discovery-service/internal/store/memstore"
)

var errReset = errors.Mark(errors.New("connection reset by peer"), errors.ErrTransientStore)

// faultyStore wraps memstore and fails selected operations a fixed number of
// times per key.
type faultyStore struct {
	*memstore.Store

	mu           sync.Mutex
	insertJob    map[string]int
	updateJob    map[string]int
	insertRel    map[int64]int
	insertCalls  int
	updateCalls  int
	stealKeyword string // InsertKeyword for this text loses a race to a phantom writer
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		Store:     memstore.New(),
		insertJob: make(map[string]int),
		updateJob: make(map[string]int),
		insertRel: make(map[int64]int),
	}
}

func take[K comparable](mu *sync.Mutex, m map[K]int, k K) bool {
	mu.Lock()
	defer mu.Unlock()
	if m[k] > 0 {
		m[k]--
		return true
	}
	return false
}

func (f *faultyStore) InsertJob(ctx context.Context, in store.JobInput, at time.Time) (model.Job, error) {
	f.mu.Lock()
	f.insertCalls++
	f.mu.Unlock()
	if take(&f.mu, f.insertJob, in.Link) {
		return model.Job{}, errReset
	}
	return f.Store.InsertJob(ctx, in, at)
}

func (f *faultyStore) UpdateJobByLink(ctx context.Context, in store.JobInput, at time.Time) (model.Job, error) {
	f.mu.Lock()
	f.updateCalls++
	f.mu.Unlock()
	if take(&f.mu, f.updateJob, in.Link) {
		return model.Job{}, errReset
	}
	return f.Store.UpdateJobByLink(ctx, in, at)
}

func (f *faultyStore) InsertRelation(ctx context.Context, keywordID, jobID int64, at time.Time) error {
	if take(&f.mu, f.insertRel, jobID) {
		return errReset
	}
	return f.Store.InsertRelation(ctx, keywordID, jobID, at)
}

func (f *faultyStore) InsertKeyword(ctx context.Context, text string) (model.Keyword, error) {
	f.mu.Lock()
	steal := f.stealKeyword == text
	f.stealKeyword = ""
	f.mu.Unlock()
	if steal {
		if _, err := f.Store.InsertKeyword(ctx, text); err != nil {
			return model.Keyword{}, err
		}
		return model.Keyword{}, errors.Wrap(errors.ErrConflict, "duplicate key value violates unique constraint")
	}
	return f.Store.InsertKeyword(ctx, text)
}

// stepClock returns a clock that advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}
