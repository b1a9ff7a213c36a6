// Package queue defers keyword processing to background workers and tells
// the requester when it is done.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jobinsight/discovery-service/internal/cache"
	"jobinsight/discovery-service/internal/catalog"
	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/model"
	"jobinsight/discovery-service/internal/notify"
	"jobinsight/discovery-service/internal/store"
)

const (
	DefaultResultLimit = 50
	DefaultWorkers     = 2
	DefaultLease       = time.Hour
)

// Pipeline runs the cache pipeline for one keyword. *cache.Cache satisfies it.
type Pipeline interface {
	GetJobs(ctx context.Context, text string, limit int) (cache.Result, error)
}

// KeywordLookup reports whether a keyword is registered. *catalog.Registry
// satisfies it.
type KeywordLookup interface {
	Lookup(ctx context.Context, text string) (model.Keyword, error)
}

// Config tunes a Queue. Zero values take defaults.
type Config struct {
	ResultLimit int           // limit passed to the pipeline per item
	Workers     int           // items processed concurrently per drain
	Lease       time.Duration // a processing item older than this is reclaimed
	Now         func() time.Time
}

// Outcome is what happened to one claimed item.
type Outcome struct {
	Item    model.QueueItem
	Warm    bool // keyword was already registered; nothing was scraped
	Jobs    int
	Partial bool
	Err     error // pipeline error; the item is still marked done
	// Interrupted items were cut short by cancellation. They stay processing
	// and are reclaimed once their lease expires.
	Interrupted bool
}

// Report summarizes a drain or on-demand run.
type Report struct {
	Outcomes []Outcome
}

func (r Report) Claimed() int { return len(r.Outcomes) }

// Failed counts items whose pipeline returned an error and were closed.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil && !o.Interrupted {
			n++
		}
	}
	return n
}

// Interrupted counts items left for a later sweep.
func (r Report) Interrupted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Interrupted {
			n++
		}
	}
	return n
}

// Queue processes pending keywords.
type Queue struct {
	items    store.QueueStore
	keywords KeywordLookup
	pipeline Pipeline
	notifier notify.Dispatcher
	cfg      Config
	logger   *zap.Logger
}

// New returns a Queue. notifier may be nil.
func New(items store.QueueStore, keywords KeywordLookup, pipeline Pipeline, notifier notify.Dispatcher, cfg Config, logger *zap.Logger) *Queue {
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = DefaultResultLimit
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		items:    items,
		keywords: keywords,
		pipeline: pipeline,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("queue"),
	}
}

// Enqueue stores a pending item. It does not run the pipeline.
func (q *Queue) Enqueue(ctx context.Context, text string, requesterID *string) (model.QueueItem, error) {
	kw := catalog.NormalizeKeyword(text)
	if kw == "" {
		return model.QueueItem{}, errors.InvalidRequestf("keyword must not be empty")
	}
	if requesterID != nil && strings.TrimSpace(*requesterID) == "" {
		requesterID = nil
	}
	item, err := q.items.EnqueueItem(ctx, kw, requesterID, q.cfg.Now())
	if err != nil {
		return model.QueueItem{}, errors.Wrapf(err, "enqueue %q", kw)
	}
	q.logger.Info("keyword enqueued", zap.String(logging.FieldKeyword, kw), zap.Int64(logging.FieldQueueItemID, item.ID))
	return item, nil
}

// Get returns one queue item.
func (q *Queue) Get(ctx context.Context, id int64) (model.QueueItem, error) {
	return q.items.GetItem(ctx, id)
}

// DrainPending claims up to max items, oldest first, and processes them.
// Items left processing by a crashed worker are reclaimed once their lease
// expires.
func (q *Queue) DrainPending(ctx context.Context, max int) (Report, error) {
	if max <= 0 {
		return Report{}, nil
	}
	now := q.cfg.Now()
	claimed, err := q.items.ClaimPending(ctx, max, now.Add(-q.cfg.Lease), now)
	if err != nil {
		return Report{}, errors.Wrap(err, "claim pending items")
	}
	return q.run(ctx, claimed), nil
}

// ProcessKeyword claims and processes every pending item for one keyword.
func (q *Queue) ProcessKeyword(ctx context.Context, text string) (Report, error) {
	kw := catalog.NormalizeKeyword(text)
	if kw == "" {
		return Report{}, errors.InvalidRequestf("keyword must not be empty")
	}
	claimed, err := q.items.ClaimPendingByKeyword(ctx, kw, q.cfg.Now())
	if err != nil {
		return Report{}, errors.Wrapf(err, "claim items for %q", kw)
	}
	return q.run(ctx, claimed), nil
}

func (q *Queue) run(ctx context.Context, items []model.QueueItem) Report {
	rep := Report{Outcomes: make([]Outcome, len(items))}
	if len(items) == 0 {
		return rep
	}

	var g errgroup.Group
	g.SetLimit(q.cfg.Workers)
	for i, item := range items {
		g.Go(func() error {
			rep.Outcomes[i] = q.process(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	q.logger.Info("queue items processed", zap.Int(logging.FieldCount, rep.Claimed()),
		zap.Int("failed", rep.Failed()), zap.Int("interrupted", rep.Interrupted()))
	return rep
}

// process runs one item to done. The item is marked done even when the
// pipeline fails; resubmitting is the retry path. Cancellation is not a
// failure: the item stays processing and nobody is notified.
func (q *Queue) process(ctx context.Context, item model.QueueItem) Outcome {
	log := q.logger.With(zap.Int64(logging.FieldQueueItemID, item.ID), zap.String(logging.FieldKeyword, item.Keyword))
	out := Outcome{Item: item}
	if err := ctx.Err(); err != nil {
		out.Err, out.Interrupted = err, true
		return out
	}

	_, err := q.keywords.Lookup(ctx, item.Keyword)
	switch {
	case err == nil:
		out.Warm = true
		log.Debug("keyword already cached, skipping scrape")
	default:
		if !errors.IsNotFound(err) {
			log.Warn("keyword lookup failed, running pipeline", zap.Error(err))
		}
		res, err := q.pipeline.GetJobs(ctx, item.Keyword, q.cfg.ResultLimit)
		switch {
		case err != nil && ctx.Err() != nil:
			out.Err, out.Interrupted = err, true
			log.Info("drain cancelled, item left for reclaim", zap.Error(err))
			return out
		case err != nil:
			out.Err = err
			log.Warn("pipeline failed, marking done", zap.Error(err))
		default:
			out.Jobs, out.Partial = len(res.Jobs), res.Partial
		}
	}

	// The pipeline finished; record it even if the drain is cancelled now.
	doneCtx := context.WithoutCancel(ctx)
	if err := q.items.MarkDone(doneCtx, item.ID, q.cfg.Now()); err != nil {
		log.Error("mark done failed", zap.Error(err))
	} else {
		out.Item.Status = model.QueueDone
	}

	q.notify(doneCtx, out)
	return out
}

func (q *Queue) notify(ctx context.Context, out Outcome) {
	if q.notifier == nil || out.Item.RequesterID == nil {
		return
	}
	var body string
	switch {
	case out.Err != nil:
		body = fmt.Sprintf("We could not finish processing your keyword '%s'. Please submit it again.", out.Item.Keyword)
	case out.Warm:
		body = fmt.Sprintf("Your keyword '%s' has been processed. Your results are ready.", out.Item.Keyword)
	default:
		body = fmt.Sprintf("Your keyword '%s' has been processed. %d job(s) are ready.", out.Item.Keyword, out.Jobs)
	}
	err := q.notifier.Notify(ctx, notify.Notification{
		Recipient: *out.Item.RequesterID,
		Subject:   notify.SubjectKeywordProcessed,
		Body:      body,
		Keyword:   out.Item.Keyword,
		QueueItem: out.Item.ID,
	})
	if err != nil {
		q.logger.Warn("notify failed", zap.Int64(logging.FieldQueueItemID, out.Item.ID), zap.Error(err))
	}
}
