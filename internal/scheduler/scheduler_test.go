package scheduler_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/queue"
	"jobinsight/discovery-service/internal/scheduler"
)

type fakeProcessor struct {
	mu       sync.Mutex
	drains   []int
	keywords []string
	block    chan struct{} // when non-nil, calls wait for it or ctx
	started  chan struct{}
	ctxErrs  []error
}

func (p *fakeProcessor) wait(ctx context.Context) {
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.block == nil {
		return
	}
	select {
	case <-p.block:
	case <-ctx.Done():
	}
	p.mu.Lock()
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	p.mu.Unlock()
}

func (p *fakeProcessor) DrainPending(ctx context.Context, max int) (queue.Report, error) {
	p.mu.Lock()
	p.drains = append(p.drains, max)
	p.mu.Unlock()
	p.wait(ctx)
	return queue.Report{}, nil
}

func (p *fakeProcessor) ProcessKeyword(ctx context.Context, keyword string) (queue.Report, error) {
	p.mu.Lock()
	p.keywords = append(p.keywords, keyword)
	p.mu.Unlock()
	p.wait(ctx)
	return queue.Report{}, nil
}

func (p *fakeProcessor) Keywords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keywords...)
}

func (p *fakeProcessor) Drains() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.drains...)
}

func TestSchedule_DefaultSweepsInTehran(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tehran")
	require.NoError(t, err)
	s := scheduler.New(&fakeProcessor{}, nil, scheduler.Config{Location: loc}, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	sched := s.Schedule()
	require.Len(t, sched, 2)
	assert.Equal(t, "catchup", sched[0].Name)
	assert.Equal(t, 50, sched[0].Batch)
	assert.Equal(t, 5, sched[0].Next.In(loc).Hour())
	assert.Equal(t, "daily", sched[1].Name)
	assert.Equal(t, 20, sched[1].Batch)
	assert.Equal(t, 2, sched[1].Next.In(loc).Hour())
	assert.Zero(t, sched[1].Next.In(loc).Minute())
}

func TestStart_BadSpec(t *testing.T) {
	s := scheduler.New(&fakeProcessor{}, nil, scheduler.Config{
		Sweeps: []scheduler.Sweep{{Name: "broken", Spec: "every tuesday", Batch: 1}},
	}, zap.NewNop())
	assert.Error(t, s.Start(context.Background()))
}

func TestTriggerKeyword_DistinctRuns(t *testing.T) {
	p := &fakeProcessor{}
	s := scheduler.New(p, nil, scheduler.Config{}, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))

	id1, err := s.TriggerKeyword("Rust")
	require.NoError(t, err)
	id2, err := s.TriggerKeyword("rust")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(string(id1), "on_demand_rust_"))

	_, err = s.TriggerKeyword("  ")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	s.Stop()
	assert.Equal(t, []string{"rust", "rust"}, p.Keywords())
	assert.Empty(t, s.InFlight())
}

func TestStop_CancelsInFlightRuns(t *testing.T) {
	p := &fakeProcessor{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := scheduler.New(p, nil, scheduler.Config{}, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))

	id, err := s.TriggerKeyword("go")
	require.NoError(t, err)
	<-p.started
	assert.Equal(t, []scheduler.RunID{id}, s.InFlight())

	s.Stop()
	require.Len(t, p.ctxErrs, 1)
	assert.ErrorIs(t, p.ctxErrs[0], context.Canceled)
}

func TestCancel_SingleRun(t *testing.T) {
	p := &fakeProcessor{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := scheduler.New(p, nil, scheduler.Config{}, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	id, err := s.TriggerKeyword("go")
	require.NoError(t, err)
	<-p.started
	assert.True(t, s.Cancel(id))
	assert.Eventually(t, func() bool { return len(s.InFlight()) == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Cancel(id))
}

func TestRunSweep_SkipsOverlap(t *testing.T) {
	p := &fakeProcessor{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := scheduler.New(p, nil, scheduler.Config{}, zap.NewNop())
	sweep := scheduler.Sweep{Name: "daily", Batch: 20}

	first := make(chan bool)
	go func() { first <- s.RunSweep(sweep) }()
	<-p.started

	assert.False(t, s.RunSweep(scheduler.Sweep{Name: "catchup", Batch: 50}), "one sweep at a time")
	close(p.block)
	assert.True(t, <-first)
	assert.Equal(t, []int{20}, p.Drains())

	assert.True(t, s.RunSweep(sweep), "free again")
	s.Stop()
}

type heldLocker struct{ err error }

func (l heldLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, l.err
}

func TestRunSweep_Lock(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		p := &fakeProcessor{}
		s := scheduler.New(p, heldLocker{}, scheduler.Config{}, zap.NewNop())
		assert.False(t, s.RunSweep(scheduler.Sweep{Name: "daily", Batch: 20}))
		assert.Empty(t, p.Drains())
	})
	t.Run("lock backend down", func(t *testing.T) {
		p := &fakeProcessor{}
		s := scheduler.New(p, heldLocker{err: errors.New("redis: connection refused")}, scheduler.Config{}, zap.NewNop())
		assert.True(t, s.RunSweep(scheduler.Sweep{Name: "daily", Batch: 20}))
		assert.Equal(t, []int{20}, p.Drains())
	})
}

func TestLocalLocker(t *testing.T) {
	l := scheduler.NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)

	release()
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)

	_, ok, _ = l.TryLock(ctx, "short", time.Nanosecond)
	require.True(t, ok)
	time.Sleep(time.Millisecond)
	_, ok, _ = l.TryLock(ctx, "short", time.Minute)
	assert.True(t, ok, "expired locks can be taken")
}

func TestListenTriggers(t *testing.T) {
	p := &fakeProcessor{}
	s := scheduler.New(p, nil, scheduler.Config{}, zap.NewNop())

	msgs := make(chan *redis.Message, 4)
	msgs <- &redis.Message{Channel: scheduler.ChannelProcessKeyword, Payload: `{"keyword":"Data Science"}`}
	msgs <- &redis.Message{Channel: scheduler.ChannelProcessKeyword, Payload: "golang"}
	msgs <- &redis.Message{Channel: scheduler.ChannelProcessKeyword, Payload: `{"keyword":`}
	msgs <- &redis.Message{Channel: scheduler.ChannelProcessKeyword, Payload: "   "}
	close(msgs)

	s.ListenTriggers(context.Background(), msgs)
	s.Stop()
	assert.ElementsMatch(t, []string{"data science", "golang"}, p.Keywords())
}
