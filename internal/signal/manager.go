package signal

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/splax-s/splax-os-sub001/internal/corelog"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
)

// Waker is the one scheduler operation this package needs: waking a
// blocked target so a freshly queued signal can be delivered. Satisfied
// by internal/sched.Scheduler; declared here so signal does not depend
// on the full scheduler surface.
type Waker interface {
	Wake(pid coretypes.ProcessID)
}

// MaskHow selects how Sigprocmask combines the given set with the
// process's blocked mask.
type MaskHow int

const (
	MaskBlock MaskHow = iota
	MaskUnblock
	MaskSet
)

// Manager holds per-process signal state behind one lock. The lock is
// dropped before calling into the scheduler, which may call back into
// process-level code.
type Manager struct {
	logger zerolog.Logger

	mu     sync.Mutex
	states map[coretypes.ProcessID]*state

	waker       Waker
	signalsSent atomic.Uint64
}

// NewManager constructs an empty signal manager. waker may be nil; then
// Send queues without waking.
func NewManager(waker Waker) *Manager {
	return &Manager{
		logger: corelog.WithComponent("signal"),
		states: make(map[coretypes.ProcessID]*state),
		waker:  waker,
	}
}

// InitProcess creates signal state for a new process.
func (m *Manager) InitProcess(pid coretypes.ProcessID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[pid] = newState()
}

// CleanupProcess discards a terminated process's signal state.
func (m *Manager) CleanupProcess(pid coretypes.ProcessID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, pid)
}

func validSignal(sig Signal) bool {
	return sig >= 1 && sig <= SIGRTMAX
}

// Send queues a pending signal on target. Standard signals coalesce;
// real-time signals queue. The target is then woken through the Waker,
// whether or not it is currently blocked, so delivery can happen.
func (m *Manager) Send(target coretypes.ProcessID, sig Signal, info Info) error {
	if !validSignal(sig) {
		return ErrInvalidSignal
	}

	m.mu.Lock()
	st, ok := m.states[target]
	if !ok {
		m.mu.Unlock()
		return ErrProcessNotFound
	}
	st.queue(sig, info)
	m.mu.Unlock()

	m.signalsSent.Add(1)
	m.logger.Debug().
		Uint64("target", uint64(target)).
		Str("signal", Name(sig)).
		Msg("signal queued")

	if m.waker != nil {
		m.waker.Wake(target)
	}
	return nil
}

// Kill sends sig from sender to target with code User. sig == 0 is a
// liveness probe: nothing is queued, and the call succeeds iff target
// exists.
func (m *Manager) Kill(sender, target coretypes.ProcessID, sig Signal) error {
	if sig == 0 {
		m.mu.Lock()
		_, ok := m.states[target]
		m.mu.Unlock()
		if !ok {
			return ErrProcessNotFound
		}
		return nil
	}

	info := Info{
		Signo:     sig,
		Code:      CodeUser,
		SenderPID: sender,
		HasSender: true,
	}
	return m.Send(target, sig, info)
}

// GetHandler returns pid's disposition for sig. A signal with no
// registered state reports HandlerDefault.
func (m *Manager) GetHandler(pid coretypes.ProcessID, sig Signal) Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pid]
	if !ok || sig == 0 || int(sig) >= nsig {
		return Handler{Kind: HandlerDefault}
	}
	return st.handlers[sig]
}

// SetHandler installs a disposition for sig. SIGKILL and SIGSTOP are
// uncatchable; real-time signals keep their default disposition (handler
// slots exist for standard signals only).
func (m *Manager) SetHandler(pid coretypes.ProcessID, sig Signal, h Handler) error {
	return m.SetHandlerFlags(pid, sig, h, 0)
}

// SetHandlerFlags is SetHandler with sigaction-style flags (RESETHAND
// etc.).
func (m *Manager) SetHandlerFlags(pid coretypes.ProcessID, sig Signal, h Handler, flags Flags) error {
	if sig == 0 || int(sig) >= nsig {
		return ErrInvalidSignal
	}
	if sig == SIGKILL || sig == SIGSTOP {
		return ErrUncatchableSignal
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pid]
	if !ok {
		return ErrProcessNotFound
	}
	st.handlers[sig] = h
	st.flags[sig] = flags
	return nil
}

// Sigprocmask mutates pid's blocked mask and returns the previous mask.
// SIGKILL and SIGSTOP are forcibly removed from any stored value.
func (m *Manager) Sigprocmask(pid coretypes.ProcessID, how MaskHow, set Set) (Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pid]
	if !ok {
		return 0, ErrProcessNotFound
	}

	old := st.blocked
	switch how {
	case MaskBlock:
		st.blocked = stripUnblockable(st.blocked.Union(set))
	case MaskUnblock:
		for _, sig := range set.Signals() {
			st.blocked = st.blocked.Remove(sig)
		}
	case MaskSet:
		st.blocked = stripUnblockable(set)
	}
	return old, nil
}

// Blocked returns pid's current blocked mask.
func (m *Manager) Blocked(pid coretypes.ProcessID) (Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pid]
	if !ok {
		return 0, ErrProcessNotFound
	}
	return st.blocked, nil
}

// Dequeue removes and returns the lowest-numbered deliverable (not
// blocked) pending signal. If the dequeued signal's disposition carries
// RESETHAND, the handler is reset to default — the observable half of
// delivery; there is no trampoline here.
func (m *Manager) Dequeue(pid coretypes.ProcessID) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pid]
	if !ok {
		return Pending{}, false
	}
	p, ok := st.dequeue()
	if !ok {
		return Pending{}, false
	}
	if int(p.Signal) < nsig && st.flags[p.Signal]&FlagResetHand != 0 {
		st.handlers[p.Signal] = Handler{Kind: HandlerDefault}
		st.flags[p.Signal] = 0
	}
	return p, true
}

// HasPending reports whether pid has a deliverable pending signal.
func (m *Manager) HasPending(pid coretypes.ProcessID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pid]
	return ok && st.hasPending()
}

// PendingSet returns the set of pending signal numbers, blocked or not.
func (m *Manager) PendingSet(pid coretypes.ProcessID) (Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pid]
	if !ok {
		return 0, ErrProcessNotFound
	}
	return st.pendingSet(), nil
}

// SetAltStack configures pid's alternate signal stack; nil clears it.
func (m *Manager) SetAltStack(pid coretypes.ProcessID, stack *AltStack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pid]
	if !ok {
		return ErrProcessNotFound
	}
	st.altStack = stack
	return nil
}

// AltStackOf returns pid's alternate stack, if configured.
func (m *Manager) AltStackOf(pid coretypes.ProcessID) (*AltStack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pid]
	if !ok {
		return nil, ErrProcessNotFound
	}
	return st.altStack, nil
}

// TotalSent returns a running count of signals queued through Send.
func (m *Manager) TotalSent() uint64 {
	return m.signalsSent.Load()
}
