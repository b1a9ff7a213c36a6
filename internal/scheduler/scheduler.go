// Package scheduler runs the periodic queue sweeps and on-demand keyword
// runs. One Scheduler owns its cron instance and the cancel funcs of every
// run in flight.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/catalog"
	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/queue"
)

// ChannelProcessKeyword carries on-demand triggers from other services.
const ChannelProcessKeyword = "CMD_PROCESS_KEYWORD"

const sweepLockKey = "discovery:sweep-lock"

// Processor is the queue side of the scheduler. *queue.Queue satisfies it.
type Processor interface {
	DrainPending(ctx context.Context, max int) (queue.Report, error)
	ProcessKeyword(ctx context.Context, keyword string) (queue.Report, error)
}

// Sweep is one periodic drain.
type Sweep struct {
	Name  string
	Spec  string // standard five-field cron expression
	Batch int
}

// DefaultSweeps drain 20 items daily at 02:00 and 50 items every third day
// at 05:00.
func DefaultSweeps() []Sweep {
	return []Sweep{
		{Name: "daily", Spec: "0 2 * * *", Batch: 20},
		{Name: "catchup", Spec: "0 5 */3 * *", Batch: 50},
	}
}

// Config tunes a Scheduler.
type Config struct {
	Location *time.Location
	Sweeps   []Sweep
	// LockTTL bounds how long a crashed process can block other sweepers.
	LockTTL time.Duration
}

// RunID identifies one sweep or on-demand run.
type RunID string

// ScheduledSweep is a registered sweep and its next fire time.
type ScheduledSweep struct {
	Sweep
	Next time.Time
}

// Scheduler wraps robfig/cron and tracks in-flight runs.
type Scheduler struct {
	cron   *cron.Cron
	proc   Processor
	locker Locker
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	runs    map[RunID]context.CancelFunc
	entries map[cron.EntryID]Sweep
	wg      sync.WaitGroup

	sweeping atomic.Bool
}

// New creates a Scheduler. locker may be nil for a single process.
func New(proc Processor, locker Locker, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Sweeps == nil {
		cfg.Sweeps = DefaultSweeps()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Hour
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger.Sugar()}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		proc:    proc,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		runs:    make(map[RunID]context.CancelFunc),
		entries: make(map[cron.EntryID]Sweep),
	}
}

// Start registers the sweeps and starts the cron loop. Runs are cancelled
// when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	for _, sw := range s.cfg.Sweeps {
		id, err := s.cron.AddFunc(sw.Spec, func() { s.RunSweep(sw) })
		if err != nil {
			return errors.Wrapf(err, "schedule sweep %s (%q)", sw.Name, sw.Spec)
		}
		s.mu.Lock()
		s.entries[id] = sw
		s.mu.Unlock()
	}

	s.cron.Start()
	s.logger.Info("cron started", zap.Int("sweeps", len(s.cfg.Sweeps)), zap.String("tz", s.cfg.Location.String()))
	return nil
}

// Stop stops the cron loop, cancels every in-flight run and waits for them.
func (s *Scheduler) Stop() {
	cronDone := s.cron.Stop()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	<-cronDone.Done()
	s.logger.Info("cron stopped")
}

// Schedule lists the registered sweeps with their next fire time.
func (s *Scheduler) Schedule() []ScheduledSweep {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledSweep, 0, len(s.entries))
	for _, e := range s.cron.Entries() {
		if sw, ok := s.entries[e.ID]; ok {
			out = append(out, ScheduledSweep{Sweep: sw, Next: e.Next})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InFlight lists the runs currently executing.
func (s *Scheduler) InFlight() []RunID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]RunID, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Cancel cancels one in-flight run.
func (s *Scheduler) Cancel(id RunID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.runs[id]
	if ok {
		cancel()
	}
	return ok
}

// RunSweep drains one batch now, on the calling goroutine. It returns false
// when skipped because another sweep is running here or elsewhere.
func (s *Scheduler) RunSweep(sw Sweep) bool {
	log := s.logger.With(zap.String("sweep", sw.Name))
	if !s.sweeping.CompareAndSwap(false, true) {
		log.Info("previous sweep still running, skipping")
		return false
	}
	defer s.sweeping.Store(false)

	id, ctx, done := s.register(fmt.Sprintf("sweep_%s", sw.Name))
	defer done()
	log = log.With(zap.String(logging.FieldRunID, string(id)))

	release, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
	switch {
	case err != nil:
		// Claims are exclusive in the store, so a lock outage only costs
		// duplicated effort.
		log.Warn("sweep lock unavailable, sweeping anyway", zap.Error(err))
	case !ok:
		log.Info("another process is sweeping, skipping")
		return false
	default:
		defer release()
	}

	log.Info("sweep started", zap.Int("batch", sw.Batch))
	rep, err := s.proc.DrainPending(ctx, sw.Batch)
	if err != nil {
		log.Error("sweep failed", zap.Error(err))
		return true
	}
	log.Info("sweep finished", zap.Int(logging.FieldCount, rep.Claimed()), zap.Int("failed", rep.Failed()), zap.Int("interrupted", rep.Interrupted()))
	return true
}

// TriggerKeyword schedules an immediate run for keyword's pending items and
// returns its id. Every call gets a distinct run; periodic sweeps are not
// affected.
func (s *Scheduler) TriggerKeyword(keyword string) (RunID, error) {
	kw := catalog.NormalizeKeyword(keyword)
	if kw == "" {
		return "", errors.InvalidRequestf("keyword must not be empty")
	}

	id, ctx, done := s.register("on_demand_" + kw)
	log := s.logger.With(zap.String(logging.FieldRunID, string(id)), zap.String(logging.FieldKeyword, kw))
	log.Info("on-demand run scheduled")

	go func() {
		defer done()
		rep, err := s.proc.ProcessKeyword(ctx, kw)
		if err != nil {
			log.Error("on-demand run failed", zap.Error(err))
			return
		}
		log.Info("on-demand run finished", zap.Int(logging.FieldCount, rep.Claimed()))
	}()
	return id, nil
}

// register records a run with a unique id. done must be called when the
// run ends.
func (s *Scheduler) register(prefix string) (RunID, context.Context, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nano := time.Now().UnixNano()
	id := RunID(fmt.Sprintf("%s_%d", prefix, nano))
	for {
		if _, taken := s.runs[id]; !taken {
			break
		}
		nano++
		id = RunID(fmt.Sprintf("%s_%d", prefix, nano))
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.runs[id] = cancel
	s.wg.Add(1)
	return id, ctx, func() {
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
		cancel()
		s.wg.Done()
	}
}

// triggerMessage is the JSON form of a CMD_PROCESS_KEYWORD payload. A plain
// string payload is taken as the keyword itself.
type triggerMessage struct {
	Keyword string `json:"keyword"`
}

// ListenTriggers turns messages into TriggerKeyword calls until ctx ends or
// msgs is closed.
func (s *Scheduler) ListenTriggers(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			kw := strings.TrimSpace(msg.Payload)
			var tm triggerMessage
			if strings.HasPrefix(kw, "{") {
				if err := json.Unmarshal([]byte(kw), &tm); err != nil {
					s.logger.Warn("bad trigger payload", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				kw = tm.Keyword
			}
			if _, err := s.TriggerKeyword(kw); err != nil {
				s.logger.Warn("trigger rejected", zap.String("payload", msg.Payload), zap.Error(err))
			}
		}
	}
}

// SubscribeTriggers subscribes to ChannelProcessKeyword and blocks in
// ListenTriggers until ctx ends.
func (s *Scheduler) SubscribeTriggers(ctx context.Context, rdb *redis.Client) error {
	ps := rdb.Subscribe(ctx, ChannelProcessKeyword)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return errors.Wrapf(err, "subscribe %s", ChannelProcessKeyword)
	}
	s.logger.Info("listening for triggers", zap.String("channel", ChannelProcessKeyword))
	s.ListenTriggers(ctx, ps.Channel())
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
