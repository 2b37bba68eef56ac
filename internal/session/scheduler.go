package session

import "sync"

// SchedulerState is the frame scheduler's phase.
type SchedulerState int

const (
	// Idle: no paint pending.
	Idle SchedulerState = iota
	// Scheduled: a paint will run on the next tick.
	Scheduled
	// Painting: the paint callback is running.
	Painting
)

// Scheduler coalesces redraw requests into at most one paint per tick.
// The contract: RequestRender marks the state dirty and schedules at
// most one paint; the dirty flag is cleared before painting, so a
// request arriving during a paint schedules a following paint instead
// of being dropped.
type Scheduler struct {
	mu     sync.Mutex
	state  SchedulerState
	dirty  bool
	paints uint64
	paint  func()
}

// NewScheduler creates a scheduler invoking paint on each serviced tick.
func NewScheduler(paint func()) *Scheduler {
	return &Scheduler{paint: paint}
}

// RequestRender marks the state dirty. Safe to call from inside the
// paint callback.
func (s *Scheduler) RequestRender() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	if s.state == Idle {
		s.state = Scheduled
	}
}

// Tick is one display-refresh callback. It paints when a request is
// pending and reports whether it painted.
func (s *Scheduler) Tick() bool {
	s.mu.Lock()
	if !s.dirty {
		s.state = Idle
		s.mu.Unlock()
		return false
	}
	s.dirty = false
	s.state = Painting
	s.mu.Unlock()

	s.paint()

	s.mu.Lock()
	if s.dirty {
		s.state = Scheduled
	} else {
		s.state = Idle
	}
	s.paints++
	s.mu.Unlock()
	return true
}

// State returns the current phase.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Paints returns the number of completed paints.
func (s *Scheduler) Paints() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paints
}
