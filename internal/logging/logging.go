// Package logging builds the zap logger used across the service.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"jobinsight/discovery-service/internal/errors"
)

// Standard field names, so every component logs the same keys.
const (
	FieldKeyword     = "keyword"
	FieldKeywordID   = "keyword_id"
	FieldQueueItemID = "queue_item_id"
	FieldRunID       = "run_id"
	FieldSource      = "source"
	FieldLink        = "link"
	FieldCount       = "count"
	FieldLimit       = "limit"
	FieldDeficit     = "deficit"
	FieldRequester   = "requester_id"
	FieldStatus      = "status"
	FieldRequestID   = "request_id"
)

// New returns a logger at the given level. format "console" gives a
// human-readable development encoder; anything else is JSON.
func New(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
