// Package refresh runs background reconciliation: a debounced, single-slot
// job runner that coalesces requests made while a run is in flight.
package refresh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDelay is the debounce window used when Config.Delay is zero.
const DefaultDelay = 3 * time.Second

// State is the scheduler's position in its lifecycle.
type State int

const (
	Idle State = iota
	// Scheduled means a timer is armed and no run is in flight.
	Scheduled
	Running
	// RunningRerunPending means one more run starts as soon as the current one
	// finishes. Further requests fold into it.
	RunningRerunPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case RunningRerunPending:
		return "running+rerun-pending"
	default:
		return "unknown"
	}
}

// Job is the work the scheduler runs. Errors are logged and otherwise
// ignored; the next request simply tries again.
type Job func(ctx context.Context) error

// Config configures a Scheduler.
type Config struct {
	// Delay is the debounce window after the latest Schedule call.
	Delay time.Duration
	// Interval, when positive, calls Schedule periodically.
	Interval time.Duration
	Logger   *zap.Logger
}

// Scheduler runs a Job at most once at a time.
type Scheduler struct {
	job   Job
	delay time.Duration
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	state  State
	timer  *time.Timer
	gen    uint64
	closed bool
	runs   int
}

// New creates a scheduler. It starts idle; with a positive Interval it also
// starts the periodic ticker.
func New(job Job, cfg Config) *Scheduler {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		job:    job,
		delay:  cfg.Delay,
		log:    cfg.Logger.Named("refresh"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if cfg.Interval > 0 {
		s.wg.Add(1)
		go s.tick(cfg.Interval)
	}
	return s
}

// Schedule requests a run Delay after now. A pending timer is re-armed, so a
// burst of calls produces one run after the last of them. While a run is in
// flight the request becomes the single queued follow-up run.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch s.state {
	case Running:
		s.state = RunningRerunPending
		return
	case RunningRerunPending:
		return
	}

	s.stopTimerLocked()
	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen) })
	s.state = Scheduled
}

// Trigger runs the job now instead of waiting for the debounce window. While
// a run is in flight it behaves like Schedule.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch s.state {
	case Running:
		s.state = RunningRerunPending
		return
	case RunningRerunPending:
		return
	}

	s.stopTimerLocked()
	s.startLocked()
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Runs returns how many times the job has started.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Close stops the timer and the ticker, cancels the context of a running job
// and waits for it to return. Requests after Close are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	if s.state == Scheduled {
		s.state = Idle
	}
	close(s.done)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || s.state != Scheduled {
		return
	}
	s.timer = nil
	s.startLocked()
}

// stopTimerLocked disarms any pending timer. Bumping gen makes a timer that
// already fired but has not taken the lock yet a no-op.
func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) startLocked() {
	s.state = Running
	s.wg.Add(1)
	go s.loop()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		s.runs++
		run := s.runs
		s.mu.Unlock()

		start := time.Now()
		err := s.job(s.ctx)
		if err != nil {
			s.log.Warn("refresh failed", zap.Int("run", run), zap.Duration("took", time.Since(start)), zap.Error(err))
		} else {
			s.log.Debug("refresh done", zap.Int("run", run), zap.Duration("took", time.Since(start)))
		}

		s.mu.Lock()
		if s.state == RunningRerunPending && !s.closed {
			s.state = Running
			s.mu.Unlock()
			continue
		}
		s.state = Idle
		s.mu.Unlock()
		return
	}
}

func (s *Scheduler) tick(every time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Schedule()
		case <-s.done:
			return
		}
	}
}
