package signal

import "github.com/splax-s/splax-os-sub001/internal/coretypes"

// Code records why a signal was sent.
type Code int

const (
	CodeUser Code = iota
	CodeKernel
	CodeTimer
	CodeChildExited
	CodeChildKilled
	CodeChildStopped
	CodeChildContinued
	CodeFault
)

// Info carries the siginfo-shaped metadata delivered alongside a signal.
type Info struct {
	Signo        Signal
	Errno        int32
	Code         Code
	SenderPID    coretypes.ProcessID
	HasSender    bool
	Value        uint64
	FaultAddr    uint64
	HasFaultAddr bool
}

// Pending is one queued, not-yet-delivered signal.
type Pending struct {
	Signal Signal
	Info   Info
}

// HandlerKind selects a signal's disposition.
type HandlerKind int

const (
	// HandlerDefault applies DefaultAction(sig) on delivery.
	HandlerDefault HandlerKind = iota
	// HandlerIgnore discards the signal on delivery.
	HandlerIgnore
	// HandlerUser resumes at a user-registered entry address.
	HandlerUser
)

// Handler is a signal's disposition: Default, Ignore, or a user handler
// at EntryVA.
type Handler struct {
	Kind    HandlerKind
	EntryVA uint64
}

// Flags modify handler behavior (sigaction-style).
type Flags uint32

const (
	FlagNoDefer   Flags = 1 << 0
	FlagRestart   Flags = 1 << 1
	FlagResetHand Flags = 1 << 2
	FlagOnStack   Flags = 1 << 3
	FlagNoCldStop Flags = 1 << 4
	FlagNoCldWait Flags = 1 << 5
	FlagSigInfo   Flags = 1 << 6
)

// AltStack describes a process's alternate signal stack.
type AltStack struct {
	Base uint64
	Size uint64
}

// state is one process's signal bookkeeping: the pending queue, the
// blocked mask, and the per-signal dispositions. Guarded by the Manager's
// lock; never accessed directly by callers.
type state struct {
	pending  []Pending
	blocked  Set
	handlers [nsig]Handler
	flags    [nsig]Flags
	altStack *AltStack
}

func newState() *state {
	return &state{}
}

// queue appends a pending signal. A standard signal already pending is
// coalesced (dropped); real-time signals always queue.
func (s *state) queue(sig Signal, info Info) {
	if sig < SIGRTMIN {
		for _, p := range s.pending {
			if p.Signal == sig {
				return
			}
		}
	}
	s.pending = append(s.pending, Pending{Signal: sig, Info: info})
}

// dequeue removes and returns the lowest-numbered pending signal that is
// not blocked. Among equal real-time signal numbers, the oldest goes
// first.
func (s *state) dequeue() (Pending, bool) {
	best := -1
	for i, p := range s.pending {
		if s.blocked.Contains(p.Signal) {
			continue
		}
		if best == -1 || p.Signal < s.pending[best].Signal {
			best = i
		}
	}
	if best == -1 {
		return Pending{}, false
	}
	p := s.pending[best]
	s.pending = append(s.pending[:best], s.pending[best+1:]...)
	return p, true
}

func (s *state) hasPending() bool {
	for _, p := range s.pending {
		if !s.blocked.Contains(p.Signal) {
			return true
		}
	}
	return false
}

func (s *state) pendingSet() Set {
	set := EmptySet()
	for _, p := range s.pending {
		set = set.Add(p.Signal)
	}
	return set
}

// stripUnblockable removes SIGKILL and SIGSTOP, which can never be
// blocked.
func stripUnblockable(set Set) Set {
	return set.Remove(SIGKILL).Remove(SIGSTOP)
}
