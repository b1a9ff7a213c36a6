package catalog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/catalog"
	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/model"
	"jobinsight/discovery-service/internal/retry"
)

var (
	t0      = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	noDelay = catalog.WithPolicy(retry.Policy{Attempts: 2})
)

func strPtr(s string) *string { return &s }

func postings(links ...string) []model.RawPosting {
	out := make([]model.RawPosting, 0, len(links))
	for _, l := range links {
		out = append(out, model.RawPosting{Title: "Job " + l, Link: l, Skills: []string{"Go", " ", "SQL"}})
	}
	return out
}

func TestUpsertBulk_IdempotentAndAdvancesScrapedAt(t *testing.T) {
	ctx := context.Background()
	st := newFaultyStore()
	w := catalog.NewJobWriter(st, zap.NewNop(), noDelay, catalog.WithClock(stepClock(t0, time.Minute)))

	batch := postings("https://jobvision.ir/jobs/1", "https://karbord.io/jobs/detail/2")
	first := w.UpsertBulk(ctx, batch)
	require.Empty(t, first.Failures)
	require.Len(t, first.Jobs, 2)

	second := w.UpsertBulk(ctx, batch)
	require.Empty(t, second.Failures)
	require.Len(t, second.Jobs, 2)

	assert.Equal(t, first.IDs(), second.IDs(), "same row per link")
	assert.Equal(t, 2, st.JobCount())
	for i := range first.Jobs {
		assert.True(t, second.Jobs[i].ScrapedAt.After(first.Jobs[i].ScrapedAt), "scraped_at advances")
	}
	assert.Equal(t, []string{"Go", "SQL"}, second.Jobs[0].Requirements)
}

func TestUpsertBulk_ConflictFallsBackToUpdate(t *testing.T) {
	ctx := context.Background()
	st := newFaultyStore()
	w := catalog.NewJobWriter(st, zap.NewNop(), noDelay)

	seed := w.UpsertBulk(ctx, postings("https://jobvision.ir/jobs/9"))
	require.Len(t, seed.Jobs, 1)

	p := model.RawPosting{Title: "Renamed", Link: "https://jobvision.ir/jobs/9", SalaryText: strPtr("45,000,000")}
	rep := w.UpsertBulk(ctx, []model.RawPosting{p})
	require.Empty(t, rep.Failures)
	require.Len(t, rep.Jobs, 1)
	assert.Equal(t, seed.Jobs[0].ID, rep.Jobs[0].ID)
	assert.Equal(t, "Renamed", rep.Jobs[0].Title)
	require.NotNil(t, rep.Jobs[0].Salary)
	assert.Equal(t, "45,000,000", *rep.Jobs[0].Salary)
	assert.Equal(t, 1, st.updateCalls)
}

func TestUpsertBulk_TransientFailureRetried(t *testing.T) {
	ctx := context.Background()
	st := newFaultyStore()
	st.insertJob["https://example.com/1"] = 1
	w := catalog.NewJobWriter(st, zap.NewNop(), noDelay)

	rep := w.UpsertBulk(ctx, postings("https://example.com/1"))
	assert.Empty(t, rep.Failures)
	assert.Len(t, rep.Jobs, 1)
	assert.Equal(t, 2, st.insertCalls)
}

func TestUpsertBulk_DoubleFailureIsolatedPerPosting(t *testing.T) {
	ctx := context.Background()
	st := newFaultyStore()
	st.insertJob["https://example.com/bad"] = 2
	w := catalog.NewJobWriter(st, zap.NewNop(), noDelay)

	rep := w.UpsertBulk(ctx, postings("https://example.com/a", "https://example.com/bad", "https://example.com/c"))
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "https://example.com/bad", rep.Failures[0].Link)
	assert.True(t, errors.Is(rep.Failures[0].Err, errors.ErrTransientStore))
	assert.Len(t, rep.IDs(), 2, "batch continues past the failure")
	assert.Equal(t, 2, st.JobCount())
}

func TestUpsertBulk_UpdateAfterConflictFails(t *testing.T) {
	ctx := context.Background()
	st := newFaultyStore()
	w := catalog.NewJobWriter(st, zap.NewNop(), noDelay)
	w.UpsertBulk(ctx, postings("https://example.com/x"))

	st.updateJob["https://example.com/x"] = 1
	rep := w.UpsertBulk(ctx, postings("https://example.com/x"))
	require.Len(t, rep.Failures, 1, "insert conflicted and the single update attempt failed")
	assert.Empty(t, rep.Jobs)
}

func TestUpsertBulk_InvalidAndDuplicatePostings(t *testing.T) {
	ctx := context.Background()
	st := newFaultyStore()
	w := catalog.NewJobWriter(st, zap.NewNop(), noDelay)

	rep := w.UpsertBulk(ctx, []model.RawPosting{
		{Title: "", Link: "https://example.com/1"},
		{Title: "no link"},
		{Title: "A", Link: "https://example.com/2", SalaryText: strPtr("نامشخص")},
		{Title: "A again", Link: "https://example.com/2"},
	})
	require.Len(t, rep.Failures, 2)
	for _, f := range rep.Failures {
		assert.True(t, errors.Is(f.Err, errors.ErrInvalidRequest))
	}
	require.Len(t, rep.Jobs, 1)
	assert.Equal(t, "A", rep.Jobs[0].Title, "first occurrence wins")
	assert.Nil(t, rep.Jobs[0].Salary, "placeholder salary stored as NULL")
}

func TestUpsertBulk_ConcurrentWritersNoDuplicates(t *testing.T) {
	ctx := context.Background()
	st := newFaultyStore()
	w := catalog.NewJobWriter(st, zap.NewNop(), noDelay)
	batch := postings("https://example.com/1", "https://example.com/2", "https://example.com/3")

	var wg sync.WaitGroup
	reports := make([]catalog.UpsertReport, 16)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = w.UpsertBulk(ctx, batch)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, st.JobCount())
	for _, r := range reports {
		assert.Empty(t, r.Failures)
		assert.Equal(t, reports[0].IDs(), r.IDs())
	}
}

func TestUpsertBulk_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := newFaultyStore()
	w := catalog.NewJobWriter(st, zap.NewNop(), noDelay)

	rep := w.UpsertBulk(ctx, postings("https://example.com/1"))
	assert.Empty(t, rep.Jobs)
	require.Len(t, rep.Failures, 1)
	assert.ErrorIs(t, rep.Failures[0].Err, context.Canceled)
}
