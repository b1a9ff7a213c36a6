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

// Outcome tags a successful resolution.
type Outcome int

const (
	// OutcomeExisting: the keyword was already registered.
	OutcomeExisting Outcome = iota
	// OutcomeCreated: this call registered the keyword; the cache is cold.
	OutcomeCreated
)

func (o Outcome) String() string {
	if o == OutcomeCreated {
		return "created"
	}
	return "existing"
}

// Resolution is the result of ResolveOrCreate.
type Resolution struct {
	Keyword model.Keyword
	Outcome Outcome
}

// Created reports whether the keyword was registered by this call.
func (r Resolution) Created() bool { return r.Outcome == OutcomeCreated }

// NormalizeKeyword trims, collapses inner whitespace and lowercases text.
func NormalizeKeyword(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Registry maps keyword text to a durable id.
type Registry struct {
	keywords store.KeywordStore
	opts     options
	logger   *zap.Logger
}

// NewRegistry returns a Registry. Losing a create race costs one attempt, so
// the default policy allows three.
func NewRegistry(keywords store.KeywordStore, logger *zap.Logger, opts ...Option) *Registry {
	def := retry.Twice
	def.Attempts = 3
	return &Registry{
		keywords: keywords,
		opts:     buildOptions(def, opts),
		logger:   logger.Named("registry"),
	}
}

// Lookup returns the registered keyword, or an error marked ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, text string) (model.Keyword, error) {
	norm := NormalizeKeyword(text)
	if norm == "" {
		return model.Keyword{}, errors.InvalidRequestf("keyword must not be empty")
	}
	return r.keywords.FindKeyword(ctx, norm)
}

// ResolveOrCreate returns the keyword for text, registering it if needed.
// Concurrent callers with the same text all receive the same id.
func (r *Registry) ResolveOrCreate(ctx context.Context, text string) (Resolution, error) {
	norm := NormalizeKeyword(text)
	if norm == "" {
		return Resolution{}, errors.InvalidRequestf("keyword must not be empty")
	}

	var res Resolution
	err := retry.Do(ctx, r.opts.policy, func(ctx context.Context, a retry.Attempt) error {
		kw, err := r.keywords.FindKeyword(ctx, norm)
		if err == nil {
			res = Resolution{Keyword: kw, Outcome: OutcomeExisting}
			return nil
		}
		if !errors.IsNotFound(err) {
			return err
		}

		kw, err = r.keywords.InsertKeyword(ctx, norm)
		if err != nil {
			if errors.IsConflict(err) {
				r.logger.Debug("lost keyword create race, re-reading", zap.String(logging.FieldKeyword, norm))
			}
			return err
		}
		res = Resolution{Keyword: kw, Outcome: OutcomeCreated}
		return nil
	})
	if err != nil {
		return Resolution{}, errors.Wrapf(err, "resolve keyword %q", norm)
	}

	if res.Created() {
		r.logger.Info("keyword registered",
			zap.String(logging.FieldKeyword, norm), zap.Int64(logging.FieldKeywordID, res.Keyword.ID))
	}
	return res, nil
}

// Forget deletes the keyword and, by cascade, its relations. Jobs stay.
func (r *Registry) Forget(ctx context.Context, text string) (model.Keyword, error) {
	kw, err := r.Lookup(ctx, text)
	if err != nil {
		return model.Keyword{}, err
	}
	if err := r.keywords.DeleteKeyword(ctx, kw.ID); err != nil {
		return model.Keyword{}, errors.Wrapf(err, "delete keyword %q", kw.Text)
	}
	r.logger.Info("keyword forgotten", zap.String(logging.FieldKeyword, kw.Text), zap.Int64(logging.FieldKeywordID, kw.ID))
	return kw, nil
}
