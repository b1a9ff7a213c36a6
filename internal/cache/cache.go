// Package cache serves jobs for a keyword from stored relations and backfills
// from the scrape sources when too few of them are fresh.
package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/catalog"
	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/linknorm"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/model"
	"jobinsight/discovery-service/internal/store"
)

// DefaultWindow is how long a keyword↔job association counts as fresh.
const DefaultWindow = 96 * time.Hour

const abandonTimeout = 5 * time.Second

// Fetcher is the scrape side of the cache. scraper.Orchestrator satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, keyword string, count int) []model.RawPosting
}

// Deps are the collaborators of a Cache.
type Deps struct {
	Registry   *catalog.Registry
	Relations  store.RelationStore
	Writer     *catalog.JobWriter
	Linker     *catalog.Linker
	Fetcher    Fetcher
	Normalizer *linknorm.Normalizer
}

// Config holds cache policy.
type Config struct {
	Window time.Duration
	Now    func() time.Time
}

// Result is what GetJobs returns. Partial is set when fewer than limit jobs
// came back or some jobs could not be linked to the keyword. Padding with
// stale jobs does not set Partial on its own: a full result that needed them
// reports it through StaleUsed and Note. Note explains any degradation in
// plain words.
type Result struct {
	Keyword   model.Keyword
	Created   bool // the keyword was registered by this call
	Jobs      []model.Job
	Partial   bool
	Note      string
	Fresh     int // jobs served from fresh relations
	Scraped   int // jobs persisted by this call's backfill
	StaleUsed int // stale jobs used to pad the result
}

// Cache runs the resolve → check → backfill → persist → link → compose
// pipeline for one keyword at a time. It is safe for concurrent use.
type Cache struct {
	deps   Deps
	window time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New returns a Cache.
func New(deps Deps, cfg Config, logger *zap.Logger) *Cache {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Normalizer == nil {
		deps.Normalizer = linknorm.New()
	}
	return &Cache{deps: deps, window: cfg.Window, now: cfg.Now, logger: logger.Named("cache")}
}

// GetJobs returns up to limit jobs for text. Only a failure to resolve the
// keyword, an invalid limit or cancellation produce an error; every other
// degradation is reported through Result.Partial and Result.Note.
//
// Cancellation stops the wait on the scrape sources. Jobs already written
// stay written.
func (c *Cache) GetJobs(ctx context.Context, text string, limit int) (Result, error) {
	if limit < 0 {
		return Result{}, errors.InvalidRequestf("limit must not be negative, got %d", limit)
	}
	if limit == 0 {
		return Result{Jobs: []model.Job{}}, nil
	}

	res, err := c.deps.Registry.ResolveOrCreate(ctx, text)
	if err != nil {
		return Result{}, err
	}
	kw := res.Keyword
	log := c.logger.With(zap.String(logging.FieldKeyword, kw.Text), zap.Int(logging.FieldLimit, limit))

	var fresh, stale []model.Job
	if !res.Created() {
		fresh, stale, err = c.partition(ctx, kw.ID)
		if err != nil {
			return Result{}, err
		}
		if len(fresh) >= limit {
			log.Debug("served from cache", zap.Int("fresh", len(fresh)))
			return Result{Keyword: kw, Jobs: fresh[:limit], Fresh: limit}, nil
		}
	}

	deficit := limit - len(fresh)
	log.Info("backfilling", zap.Int(logging.FieldDeficit, deficit),
		zap.Int("fresh", len(fresh)), zap.Int("stale", len(stale)), zap.Bool("new_keyword", res.Created()))

	postings, err := c.fetch(ctx, kw.Text, deficit)
	if err != nil {
		c.abandon(ctx, kw, res.Created(), log)
		return Result{}, err
	}
	postings = c.dedup(postings, fresh)

	report := c.deps.Writer.UpsertBulk(ctx, postings)
	if err := ctx.Err(); err != nil {
		c.abandon(ctx, kw, res.Created(), log)
		return Result{}, err
	}

	var notes []string
	linkDegraded := false
	if len(report.Jobs) > 0 {
		lr := c.deps.Linker.UpsertRelations(ctx, kw.ID, report.IDs())
		if lr.Status != catalog.LinkAllSucceeded {
			linkDegraded = true
			notes = append(notes, fmt.Sprintf("%d job(s) could not be associated with the keyword", len(lr.Failed)))
			log.Warn("linking degraded", zap.Stringer(logging.FieldStatus, lr.Status), zap.Int("failed", len(lr.Failed)))
		}
	}
	if n := len(report.Failures); n > 0 {
		notes = append(notes, fmt.Sprintf("%d scraped posting(s) could not be stored", n))
	}

	out := Result{Keyword: kw, Created: res.Created(), Scraped: len(report.Jobs)}
	out.Jobs, out.Fresh, out.StaleUsed = compose(limit, fresh, report.Jobs, stale)
	if out.StaleUsed > 0 {
		notes = append(notes, fmt.Sprintf("%d job(s) older than %s were used to fill the result", out.StaleUsed, c.window))
	}
	if len(out.Jobs) < limit {
		notes = append(notes, fmt.Sprintf("only %d of %d requested jobs are available", len(out.Jobs), limit))
	}
	out.Partial = len(out.Jobs) < limit || linkDegraded
	out.Note = strings.Join(notes, "; ")

	log.Info("jobs composed",
		zap.Int(logging.FieldCount, len(out.Jobs)), zap.Int("fresh", out.Fresh),
		zap.Int("scraped", out.Scraped), zap.Int("stale_used", out.StaleUsed), zap.Bool("partial", out.Partial))
	return out, nil
}

// abandon removes a keyword this call registered when the call is cancelled
// before any job was associated with it, so the next request runs cold
// instead of finding an empty warm keyword.
func (c *Cache) abandon(ctx context.Context, kw model.Keyword, created bool, log *zap.Logger) {
	if !created {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	related, err := c.deps.Relations.ListRelatedJobs(ctx, kw.ID)
	if err != nil || len(related) > 0 {
		return
	}
	if _, err := c.deps.Registry.Forget(ctx, kw.Text); err != nil && !errors.IsNotFound(err) {
		log.Warn("could not remove keyword of cancelled request", zap.Error(err))
	}
}

// partition splits the keyword's jobs into fresh and stale, newest first.
func (c *Cache) partition(ctx context.Context, keywordID int64) (fresh, stale []model.Job, err error) {
	related, err := c.deps.Relations.ListRelatedJobs(ctx, keywordID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load related jobs")
	}
	sort.SliceStable(related, func(i, j int) bool {
		if !related[i].LastUpdate.Equal(related[j].LastUpdate) {
			return related[i].LastUpdate.After(related[j].LastUpdate)
		}
		return related[i].Job.ID > related[j].Job.ID
	})

	cutoff := c.now().Add(-c.window)
	for _, r := range related {
		if r.LastUpdate.Before(cutoff) {
			stale = append(stale, r.Job)
		} else {
			fresh = append(fresh, r.Job)
		}
	}
	return fresh, stale, nil
}

// fetch waits for the sources unless ctx ends first.
func (c *Cache) fetch(ctx context.Context, keyword string, count int) ([]model.RawPosting, error) {
	ch := make(chan []model.RawPosting, 1)
	go func() { ch <- c.deps.Fetcher.Fetch(ctx, keyword, count) }()
	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dedup normalizes links and drops postings already among the fresh jobs or
// repeated within the batch.
func (c *Cache) dedup(postings []model.RawPosting, fresh []model.Job) []model.RawPosting {
	known := make(map[string]struct{}, len(fresh)+len(postings))
	for _, j := range fresh {
		known[j.Link] = struct{}{}
	}
	out := make([]model.RawPosting, 0, len(postings))
	for _, p := range postings {
		p.Link = c.deps.Normalizer.Normalize(p.Link)
		if _, dup := known[p.Link]; dup {
			continue
		}
		known[p.Link] = struct{}{}
		out = append(out, p)
	}
	return out
}

// compose returns fresh ++ scraped truncated to limit, padded with stale jobs
// not already present.
func compose(limit int, fresh, scraped, stale []model.Job) (jobs []model.Job, nFresh, nStale int) {
	size := min(limit, len(fresh)+len(scraped)+len(stale))
	jobs = make([]model.Job, 0, size)
	present := make(map[int64]struct{}, size)
	add := func(j model.Job) bool {
		if len(jobs) >= limit {
			return false
		}
		if _, dup := present[j.ID]; dup {
			return false
		}
		present[j.ID] = struct{}{}
		jobs = append(jobs, j)
		return true
	}

	for _, j := range fresh {
		if add(j) {
			nFresh++
		}
	}
	for _, j := range scraped {
		add(j)
	}
	for _, j := range stale {
		if add(j) {
			nStale++
		}
	}
	return jobs, nFresh, nStale
}
