package model

import "jobinsight/discovery-service/internal/errors"

// QueueStatus values mirror queue_item.status.
//
//	pending ──► processing ──► done
//	                │  ▲
//	                └──┘ (lease expired, reclaimed by a later sweep)
//
// done is terminal.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueDone       QueueStatus = "done"
)

var queueTransitions = map[QueueStatus][]QueueStatus{
	QueuePending:    {QueueProcessing, QueueDone},
	QueueProcessing: {QueueProcessing, QueueDone},
}

// ParseQueueStatus converts a raw string to a QueueStatus.
func ParseQueueStatus(s string) (QueueStatus, error) {
	st := QueueStatus(s)
	switch st {
	case QueuePending, QueueProcessing, QueueDone:
		return st, nil
	}
	return "", errors.InvalidRequestf("unknown queue status %q", s)
}

// CanTransition reports whether a queue item may move from → to.
func CanTransition(from, to QueueStatus) bool {
	for _, s := range queueTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
