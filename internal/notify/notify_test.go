package notify_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/notify"
)

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, message.([]byte))
	return redis.NewIntResult(1, p.err)
}

func TestRedisDispatcher_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	d := notify.NewRedisDispatcher(pub)

	err := d.Notify(context.Background(), notify.Notification{
		Recipient: "user-42",
		Subject:   notify.SubjectKeywordProcessed,
		Body:      "Your keyword 'golang' has been processed.",
		Keyword:   "golang",
		QueueItem: 7,
	})
	require.NoError(t, err)
	require.Equal(t, []string{notify.ChannelKeywordProcessed}, pub.channels)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "user-42", got["recipient"])
	assert.Equal(t, "Keyword Processed", got["subject"])
	assert.EqualValues(t, 7, got["queueItemId"])
	assert.NotEmpty(t, got["sentAt"])
}

func TestRedisDispatcher_Errors(t *testing.T) {
	d := notify.NewRedisDispatcher(&fakePublisher{err: errors.New("connection refused")})
	err := d.Notify(context.Background(), notify.Notification{Recipient: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), notify.ChannelKeywordProcessed)

	err = d.Notify(context.Background(), notify.Notification{})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

type blockingDispatcher struct {
	release chan struct{}
	err     error
	mu      sync.Mutex
	got     []notify.Notification
}

func (b *blockingDispatcher) Notify(ctx context.Context, n notify.Notification) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.got = append(b.got, n)
	b.mu.Unlock()
	return b.err
}

func TestAsync_DoesNotBlockAndSurvivesCallerCancel(t *testing.T) {
	next := &blockingDispatcher{release: make(chan struct{})}
	a := notify.NewAsync(next, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Notify(ctx, notify.Notification{Recipient: "u1"}))
	cancel()
	close(next.release)
	a.Wait()

	assert.Len(t, next.got, 1)
}

func TestAsync_FailureLoggedOnly(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	next := &blockingDispatcher{release: make(chan struct{}), err: errors.New("smtp down")}
	close(next.release)
	a := notify.NewAsync(next, time.Second, zap.New(core))

	assert.NoError(t, a.Notify(context.Background(), notify.Notification{Recipient: "u1", Keyword: "go"}))
	a.Wait()

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "notification failed", logs.All()[0].Message)
}

func TestLogDispatcher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := notify.NewLogDispatcher(zap.New(core))
	require.NoError(t, d.Notify(context.Background(), notify.Notification{Recipient: "u", Keyword: "go"}))
	assert.Equal(t, 1, logs.FilterField(zap.String("keyword", "go")).Len())
}
