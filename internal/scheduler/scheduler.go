// Package scheduler decides when a conversation has gone quiet enough to
// spend a model query on it. Each conversation has a tiny state machine
// (idle → pending → executing → idle): the first qualifying message starts a
// debounce cycle, later ones only refresh the activity clock, and at most one
// cycle is ever in flight per conversation.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"kanade/internal/domain"
	"kanade/internal/metrics"
	"kanade/internal/session"
)

const (
	// DefaultPollInterval is how often a pending cycle re-checks the quiet
	// condition. Deliberately longer than the quiet threshold: the loop
	// normally exits after a single sleep unless new activity lands inside
	// the window. Firing latency is within [quiet, quiet+poll) of the last
	// qualifying message.
	DefaultPollInterval = 5 * time.Second

	// DefaultQuietThreshold is the minimum silence before a cycle executes.
	DefaultQuietThreshold = 3 * time.Second
)

// QueryFunc produces the model's reply for the session's current history.
// Empty output is treated the same as an error by the caller.
type QueryFunc func(ctx context.Context, sess *session.Session) (string, error)

// Sender delivers one reply part to the conversation's network. Delivery is
// fire-and-forget; errors are logged by the scheduler but not retried.
type Sender interface {
	Send(ctx context.Context, key domain.SessionKey, text string) error
}

// CycleOutcome classifies how a debounce cycle ended.
type CycleOutcome string

const (
	OutcomeFired       CycleOutcome = "fired"
	OutcomeQueryFailed CycleOutcome = "query_failed"
	OutcomeEmptyReply  CycleOutcome = "empty_reply"
	OutcomeCancelled   CycleOutcome = "cancelled"
)

// CycleRecorder receives the outcome of every finished cycle. Optional.
type CycleRecorder interface {
	RecordCycle(key domain.SessionKey, outcome CycleOutcome, detail string, latency time.Duration)
}

// Config holds the scheduler's collaborators and tuning.
type Config struct {
	Store          *session.Store
	Query          QueryFunc
	Sender         Sender
	Recorder       CycleRecorder // optional
	Logger         *slog.Logger
	BotName        string // sender_name on synthesized replies
	PollInterval   time.Duration
	QuietThreshold time.Duration
}

// convState is per-conversation bookkeeping. pending is true exactly while a
// debounce-or-execution cycle is in flight; it never leaks across cycles.
type convState struct {
	lastActivity time.Time
	pending      bool
}

// Scheduler coalesces bursts of qualifying activity into single model
// queries. Cycles run as goroutines tracked by a WaitGroup so shutdown can
// cancel and await them all.
type Scheduler struct {
	store    *session.Store
	query    QueryFunc
	sender   Sender
	recorder CycleRecorder
	logger   *slog.Logger
	botName  string
	poll     time.Duration
	quiet    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	states map[domain.SessionKey]*convState

	// sleep is swapped out in tests to drive timing deterministically.
	sleep func(ctx context.Context, d time.Duration) error

	inflight  *metrics.Gauge
	fired     *metrics.Counter
	failed    *metrics.Counter
	cancelled *metrics.Counter
}

// New creates a scheduler. Call Shutdown to cancel and await in-flight cycles.
func New(cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.QuietThreshold <= 0 {
		cfg.QuietThreshold = DefaultQuietThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     cfg.Store,
		query:     cfg.Query,
		sender:    cfg.Sender,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
		botName:   cfg.BotName,
		poll:      cfg.PollInterval,
		quiet:     cfg.QuietThreshold,
		ctx:       ctx,
		cancel:    cancel,
		states:    make(map[domain.SessionKey]*convState),
		sleep:     ctxSleep,
		inflight:  metrics.Default.Gauge("scheduler_cycles_inflight", "Debounce cycles currently pending or executing"),
		fired:     metrics.Default.Counter("scheduler_cycles_fired_total", "Cycles that delivered a reply"),
		failed:    metrics.Default.Counter("scheduler_cycles_failed_total", "Cycles aborted on query failure or empty reply"),
		cancelled: metrics.Default.Counter("scheduler_cycles_cancelled_total", "Cycles aborted by shutdown"),
	}
}

// OnActivity records qualifying activity for a conversation. It always
// refreshes the activity clock; it starts a new cycle only from the idle
// state, which is the mutual-exclusion gate: concurrent bursts for one
// conversation can never start a second cycle.
func (s *Scheduler) OnActivity(key domain.SessionKey, selfID int64) {
	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		st = &convState{}
		s.states[key] = st
	}
	st.lastActivity = time.Now()
	if st.pending {
		s.mu.Unlock()
		return
	}
	st.pending = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.inflight.Inc()
	s.logger.Debug("debounce cycle started", "session", key.String())
	go s.runCycle(key, selfID)
}

// Pending reports whether a cycle is in flight for the conversation.
func (s *Scheduler) Pending(key domain.SessionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	return ok && st.pending
}

// Shutdown cancels all in-flight cycles and waits for their cleanup to run.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// runCycle is one debounce-and-execute cycle. The deferred cleanup is the
// single place pending is cleared, so every exit path — success, failure,
// cancellation, even a panic in a collaborator — returns the conversation to
// idle.
func (s *Scheduler) runCycle(key domain.SessionKey, selfID int64) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if st, ok := s.states[key]; ok {
			st.pending = false
		}
		s.mu.Unlock()
		s.inflight.Dec()
	}()

	// Debounce: sleep a full poll interval, then check whether the quiet
	// threshold has elapsed since the last qualifying message. Activity that
	// lands during the sleep pushes the check into another iteration.
	for {
		if err := s.sleep(s.ctx, s.poll); err != nil {
			s.finishCancelled(key, "during debounce")
			return
		}
		s.mu.Lock()
		last := s.states[key].lastActivity
		s.mu.Unlock()
		if time.Since(last) >= s.quiet {
			break
		}
	}

	// Execute against the history as it stands now, not as it stood when the
	// cycle started.
	start := time.Now()
	sess := s.store.GetOrCreate(key, selfID)

	reply, err := s.query(s.ctx, sess)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.finishCancelled(key, "during query")
			return
		}
		s.failed.Inc()
		s.logger.Error("model query failed", "session", key.String(), "err", err)
		s.record(key, OutcomeQueryFailed, err.Error(), time.Since(start))
		return
	}

	parts := splitParts(reply)
	if len(parts) == 0 {
		s.failed.Inc()
		s.logger.Warn("model returned an empty reply", "session", key.String())
		s.record(key, OutcomeEmptyReply, "", time.Since(start))
		return
	}

	if err := s.deliver(s.ctx, sess, parts); err != nil {
		// Only cancellation aborts delivery; the reply is not recorded.
		s.finishCancelled(key, "during delivery")
		return
	}

	s.fired.Inc()
	s.logger.Info("cycle fired",
		"session", key.String(),
		"parts", len(parts),
		"latency", time.Since(start),
	)
	s.record(key, OutcomeFired, "", time.Since(start))
}

func (s *Scheduler) finishCancelled(key domain.SessionKey, phase string) {
	s.cancelled.Inc()
	s.logger.Debug("cycle cancelled", "session", key.String(), "phase", phase)
	s.record(key, OutcomeCancelled, phase, 0)
}

func (s *Scheduler) record(key domain.SessionKey, outcome CycleOutcome, detail string, latency time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordCycle(key, outcome, detail, latency)
	}
}

// ctxSleep sleeps for d or until ctx is cancelled, whichever comes first.
func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
