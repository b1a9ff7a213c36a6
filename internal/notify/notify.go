// Package notify tells requesters that their keyword has been processed.
// Delivery (e-mail, SSE) belongs to the gateway; this service only emits.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/logging"
)

// ChannelKeywordProcessed is the Redis channel the gateway listens on.
const ChannelKeywordProcessed = "EVENT_KEYWORD_PROCESSED"

// SubjectKeywordProcessed is the subject of completion notifications.
const SubjectKeywordProcessed = "Keyword Processed"

// Notification is one message to one recipient.
type Notification struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Keyword   string `json:"keyword,omitempty"`
	QueueItem int64  `json:"queueItemId,omitempty"`
	SentAt    string `json:"sentAt"`
}

// Dispatcher sends a notification.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// Publisher is the part of *redis.Client the RedisDispatcher uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisDispatcher publishes notifications as JSON events.
type RedisDispatcher struct {
	rdb     Publisher
	channel string
}

// NewRedisDispatcher publishes to ChannelKeywordProcessed.
func NewRedisDispatcher(rdb Publisher) *RedisDispatcher {
	return &RedisDispatcher{rdb: rdb, channel: ChannelKeywordProcessed}
}

func (d *RedisDispatcher) Notify(ctx context.Context, n Notification) error {
	if n.Recipient == "" {
		return errors.InvalidRequestf("notification has no recipient")
	}
	if n.SentAt == "" {
		n.SentAt = time.Now().UTC().Format(time.RFC3339)
	}
	event, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "encode notification")
	}
	if err := d.rdb.Publish(ctx, d.channel, event).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", d.channel)
	}
	return nil
}

// LogDispatcher writes notifications to the log. Used with the memory driver.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.Named("notify")}
}

func (d *LogDispatcher) Notify(_ context.Context, n Notification) error {
	d.logger.Info("notification",
		zap.String(logging.FieldRequester, n.Recipient),
		zap.String("subject", n.Subject),
		zap.String(logging.FieldKeyword, n.Keyword),
		zap.String("body", n.Body))
	return nil
}

// Async sends through the wrapped dispatcher in the background. Failures are
// logged and never returned. Wait blocks until every send has finished.
type Async struct {
	next    Dispatcher
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewAsync wraps next. Each send gets its own timeout, detached from the
// caller's context so a finished request does not cancel its notification.
func NewAsync(next Dispatcher, timeout time.Duration, logger *zap.Logger) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{next: next, timeout: timeout, logger: logger.Named("notify")}
}

// Notify always returns nil.
func (a *Async) Notify(ctx context.Context, n Notification) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Notify(sendCtx, n); err != nil {
			a.logger.Warn("notification failed",
				zap.String(logging.FieldRequester, n.Recipient),
				zap.String(logging.FieldKeyword, n.Keyword),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until all pending sends are done.
func (a *Async) Wait() { a.wg.Wait() }
