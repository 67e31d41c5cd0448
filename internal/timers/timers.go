package timers

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/no-thanks-backend/internal/clock"
	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
	"github.com/DoyleJ11/no-thanks-backend/internal/store"
)

type SnapshotSource interface {
	ListSessions() []store.SessionSummary
	GetSnapshot(id string) (engine.Snapshot, bool)
}

type pending struct {
	timer    *time.Timer
	gen      uint64
	deadline time.Time
}

// Supervisor owns at most one pending deadline timer per session. Every
// registration bumps a generation counter; a fire whose generation is no
// longer current was superseded and is dropped.
type Supervisor struct {
	mu        sync.Mutex
	timers    map[string]*pending
	gen       uint64
	onTimeout func(sessionID string)
	clock     clock.Clock
	log       *zap.Logger
}

func NewSupervisor(c clock.Clock, log *zap.Logger) *Supervisor {
	if c == nil {
		c = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		timers: make(map[string]*pending),
		clock:  c,
		log:    log.Named("timers"),
	}
}

// SetTimeoutHandler installs the callback invoked when a deadline elapses.
// It runs on the timer's goroutine.
func (s *Supervisor) SetTimeoutHandler(fn func(sessionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTimeout = fn
}

// Register replaces any pending timer for sessionID with one firing at
// deadline. A deadline in the past fires immediately.
func (s *Supervisor) Register(sessionID string, deadline time.Time) {
	delay := max(deadline.Sub(s.clock.Now()), 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(sessionID)

	s.gen++
	gen := s.gen
	p := &pending{gen: gen, deadline: deadline}
	p.timer = time.AfterFunc(delay, func() { s.fire(sessionID, gen) })
	s.timers[sessionID] = p

	s.log.Debug("timer registered",
		zap.String("session_id", sessionID),
		zap.Time("deadline", deadline),
		zap.Duration("delay", delay),
	)
}

func (s *Supervisor) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(sessionID)
}

// Sync registers or clears the session's timer to match snap's deadline.
func (s *Supervisor) Sync(snap engine.Snapshot) {
	if snap.TurnState.AwaitingAction && snap.TurnState.Deadline != nil {
		s.Register(snap.SessionID, *snap.TurnState.Deadline)
		return
	}
	s.Clear(snap.SessionID)
}

// Restore rebuilds timers from stored snapshots. Timers live only in memory,
// so this runs once at startup. It returns the number of timers armed.
func (s *Supervisor) Restore(src SnapshotSource) int {
	armed := 0
	for _, summary := range src.ListSessions() {
		snap, ok := src.GetSnapshot(summary.SessionID)
		if !ok {
			continue
		}
		s.Sync(snap)
		if _, ok := s.Deadline(snap.SessionID); ok {
			armed++
		}
	}
	s.log.Info("timers restored", zap.Int("armed", armed))
	return armed
}

func (s *Supervisor) Deadline(sessionID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.timers[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return p.deadline, true
}

// Stop cancels every pending timer.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.stopLocked(id)
	}
}

func (s *Supervisor) stopLocked(sessionID string) {
	if p, ok := s.timers[sessionID]; ok {
		p.timer.Stop()
		delete(s.timers, sessionID)
	}
}

func (s *Supervisor) fire(sessionID string, gen uint64) {
	s.mu.Lock()
	p, ok := s.timers[sessionID]
	if !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, sessionID)
	handler := s.onTimeout
	s.mu.Unlock()

	s.log.Debug("timer fired", zap.String("session_id", sessionID))
	if handler != nil {
		handler(sessionID)
	}
}
