// Package model defines shared data structures for the discovery service.
package model

import "time"

// Keyword mirrors the keyword table row. Text is normalized and immutable
// after creation.
type Keyword struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// RawPosting is an offer as returned by a scrape source, before link
// normalization and persistence.
type RawPosting struct {
	Title      string   `json:"title"`
	SalaryText *string  `json:"salary,omitempty"`
	Link       string   `json:"link"`
	Skills     []string `json:"skills"`
	Source     string   `json:"source,omitempty"`
}

// Job is a persisted posting. Link is the natural key: two postings with the
// same normalized link are the same job.
type Job struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Salary       *string   `json:"salary"`
	Requirements []string  `json:"requirements"`
	Link         string    `json:"link"`
	ScrapedAt    time.Time `json:"scrapedAt"`
}

// RelatedJob is a job together with the last time it was associated with a
// given keyword (keyword_job.last_update).
type RelatedJob struct {
	Job        Job
	LastUpdate time.Time
}

// QueueItem mirrors the queue_item table row.
type QueueItem struct {
	ID          int64       `json:"id"`
	Keyword     string      `json:"keyword"`
	RequesterID *string     `json:"requesterId"`
	Status      QueueStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	ClaimedAt   *time.Time  `json:"claimedAt,omitempty"`
	ProcessedAt *time.Time  `json:"processedAt,omitempty"`
}
