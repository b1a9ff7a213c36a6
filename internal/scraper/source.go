// Package scraper fetches job postings from external sources and splits a
// requested count across them.
package scraper

import (
	"context"
	"net/http"
	"time"

	"jobinsight/discovery-service/internal/model"
)

const (
	httpTimeout = 15 * time.Second
	userAgent   = "jobinsight-discovery/1.0 (+https://jobinsight.ir)"
)

// Source fetches up to count postings matching keyword. Finding nothing is
// not an error; a source that cannot be reached returns one.
type Source interface {
	Name() string
	Fetch(ctx context.Context, keyword string, count int) ([]model.RawPosting, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}
