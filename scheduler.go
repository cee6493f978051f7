package golin

import (
	"context"
	"sync"
	"time"
)

// DefaultTickHz is the periodic trigger frequency, one tick every 500ms.
const DefaultTickHz = 2

type SchedulerState int

const (
	Idle SchedulerState = iota
	Running
)

func (s SchedulerState) String() string {
	if s == Running {
		return "Running"
	}
	return "Idle"
}

// PeriodFromFrequency converts a tick frequency to its period.
func PeriodFromFrequency(hz int) time.Duration {
	if hz <= 0 {
		hz = DefaultTickHz
	}
	return time.Second / time.Duration(hz)
}

// Scheduler is the periodic trigger. It calls fn from its own goroutine on
// every period while Running.
//
// Stop does not wait for a tick already being delivered, so fn may run once
// after Stop returns; fn has to check whether it is still wanted.
type Scheduler struct {
	period time.Duration
	fn     func()

	mu     sync.Mutex
	state  SchedulerState
	cancel context.CancelFunc
	gen    uint64
	ticks  uint64
}

func NewScheduler(period time.Duration, fn func()) *Scheduler {
	if period <= 0 {
		period = PeriodFromFrequency(DefaultTickHz)
	}
	return &Scheduler{
		period: period,
		fn:     fn,
	}
}

// Start moves the scheduler from Idle to Running. Starting a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = Running
	s.gen++
	go s.run(ctx, s.gen)
}

func (s *Scheduler) run(ctx context.Context, gen uint64) {
	t := time.NewTicker(s.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.gen == gen && s.state == Running {
				// parent context ended without Stop
				s.state = Idle
				s.cancel = nil
			}
			s.mu.Unlock()
			return
		case <-t.C:
			s.mu.Lock()
			current := s.gen == gen && s.state == Running
			if current {
				s.ticks++
			}
			s.mu.Unlock()
			if !current {
				return
			}
			s.fn()
		}
	}
}

// Stop moves the scheduler back to Idle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		return
	}
	s.cancel()
	s.cancel = nil
	s.state = Idle
}

func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Period() time.Duration {
	return s.period
}

func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}
