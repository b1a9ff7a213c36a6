package scraper

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/model"
)

// DefaultTimeout bounds a single source call.
const DefaultTimeout = 3 * time.Minute

// Weighted pairs a source with its share of every request.
type Weighted struct {
	Source Source
	Weight float64
}

// OrchestratorConfig tunes an Orchestrator. Zero values take defaults.
type OrchestratorConfig struct {
	Timeout      time.Duration
	ExcludeTerms []string
}

// Orchestrator fans a request out to its sources and concatenates the
// results, primary source first.
type Orchestrator struct {
	sources []Weighted
	cfg     OrchestratorConfig
	logger  *zap.Logger
}

// NewOrchestrator returns an Orchestrator. The first source is the primary.
func NewOrchestrator(sources []Weighted, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Orchestrator{sources: sources, cfg: cfg, logger: logger.Named("orchestrator")}
}

// Split divides count across weights. Every index but the last gets
// floor(count*w/Σw) and the last gets the remainder. A single unit goes to
// the primary. Non-positive weight sums split evenly.
func Split(count int, weights []float64) []int {
	shares := make([]int, len(weights))
	if count <= 0 || len(weights) == 0 {
		return shares
	}
	if count == 1 {
		shares[0] = 1
		return shares
	}

	var sum float64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}

	assigned := 0
	for i := 0; i < len(weights)-1; i++ {
		var frac float64
		switch {
		case sum <= 0:
			frac = 1 / float64(len(weights))
		case weights[i] > 0:
			frac = weights[i] / sum
		}
		// The epsilon keeps 10*0.6 from flooring to 5.
		shares[i] = int(math.Floor(float64(count)*frac + 1e-9))
		assigned += shares[i]
	}
	shares[len(weights)-1] = count - assigned
	return shares
}

// Fetch returns up to count postings for keyword. A failing or slow source
// contributes nothing; the others are unaffected.
func (o *Orchestrator) Fetch(ctx context.Context, keyword string, count int) []model.RawPosting {
	if count <= 0 || len(o.sources) == 0 {
		return nil
	}

	weights := make([]float64, len(o.sources))
	for i, s := range o.sources {
		weights[i] = s.Weight
	}
	shares := Split(count, weights)

	results := make([][]model.RawPosting, len(o.sources))
	var g errgroup.Group
	for i, ws := range o.sources {
		if shares[i] == 0 {
			continue
		}
		g.Go(func() error {
			results[i] = o.fetchOne(ctx, ws.Source, keyword, shares[i])
			return nil
		})
	}
	_ = g.Wait()

	var out []model.RawPosting
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (o *Orchestrator) fetchOne(ctx context.Context, src Source, keyword string, share int) []model.RawPosting {
	log := o.logger.With(zap.String(logging.FieldSource, src.Name()), zap.String(logging.FieldKeyword, keyword))

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	started := time.Now()
	postings, err := src.Fetch(ctx, keyword, share)
	if err != nil {
		err = errors.Mark(errors.Wrapf(err, "source %s", src.Name()), errors.ErrProvider)
		log.Warn("source failed, contributing no results", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return nil
	}

	postings, dropped := dropExcluded(postings, o.cfg.ExcludeTerms)
	if len(postings) > share {
		postings = postings[:share]
	}
	for i := range postings {
		if postings[i].Source == "" {
			postings[i].Source = src.Name()
		}
	}

	log.Info("source fetched",
		zap.Int(logging.FieldLimit, share),
		zap.Int(logging.FieldCount, len(postings)),
		zap.Int("excluded", dropped),
		zap.Duration("elapsed", time.Since(started)))
	return postings
}
