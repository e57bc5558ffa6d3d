package sched

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/splax-s/splax-os-sub001/internal/corelog"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
	"github.com/splax-s/splax-os-sub001/internal/proc"
)

// RoundRobin is an in-memory Scheduler. Block parks the calling
// goroutine on a per-pid channel; Wake releases it. The wake channel is
// buffered so a Wake that races ahead of the corresponding Block is not
// lost (the Block consumes the buffered token and returns immediately).
//
// There is no actual time slicing here: SwitchTo only records which pid
// is current. That is the whole scheduling surface the other subsystems'
// correctness depends on.
type RoundRobin struct {
	logger zerolog.Logger

	mu      sync.Mutex
	parked  map[coretypes.ProcessID]chan struct{}
	readyQ  []coretypes.ProcessID
	current coretypes.ProcessID
	running bool
}

// NewRoundRobin constructs an empty scheduler.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{
		logger: corelog.WithComponent("sched"),
		parked: make(map[coretypes.ProcessID]chan struct{}),
	}
}

func (s *RoundRobin) wakeChan(pid coretypes.ProcessID) chan struct{} {
	ch, ok := s.parked[pid]
	if !ok {
		ch = make(chan struct{}, 1)
		s.parked[pid] = ch
	}
	return ch
}

// Wake transitions pid Blocked -> Ready and releases a goroutine parked
// in Block, if any. Waking a pid that is not blocked leaves a token
// behind so the next Block returns immediately rather than losing the
// wakeup.
func (s *RoundRobin) Wake(pid coretypes.ProcessID) {
	s.mu.Lock()
	ch := s.wakeChan(pid)
	s.readyQ = append(s.readyQ, pid)
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

// Block parks the caller until Wake(pid) or Terminate(pid).
func (s *RoundRobin) Block(pid coretypes.ProcessID) {
	s.mu.Lock()
	ch := s.wakeChan(pid)
	s.mu.Unlock()

	<-ch
}

// Terminate frees pid's bookkeeping. A goroutine currently parked in
// Block(pid) is released so it does not hang forever on a dead pid.
func (s *RoundRobin) Terminate(pid coretypes.ProcessID) {
	s.mu.Lock()
	ch, ok := s.parked[pid]
	delete(s.parked, pid)
	for i, p := range s.readyQ {
		if p == pid {
			s.readyQ = append(s.readyQ[:i], s.readyQ[i+1:]...)
			break
		}
	}
	if s.running && s.current == pid {
		s.running = false
	}
	s.mu.Unlock()

	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SwitchTo records to as the current pid. With no real CPU the outgoing
// context already holds the process's saved register image, so fromCtx is
// left untouched; a real implementation stores live CPU state into it
// before resuming from toCtx.
func (s *RoundRobin) SwitchTo(from, to coretypes.ProcessID, fromCtx *proc.Context, toCtx proc.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = to
	s.running = true
}

// Current returns the pid most recently switched to, if any.
func (s *RoundRobin) Current() (coretypes.ProcessID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.running
}

// NextReady pops the oldest pid woken since the last call, for an
// embedder driving a run loop by hand.
func (s *RoundRobin) NextReady() (coretypes.ProcessID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.readyQ) == 0 {
		return 0, false
	}
	pid := s.readyQ[0]
	s.readyQ = s.readyQ[1:]
	return pid, true
}
