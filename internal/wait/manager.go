package wait

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/splax-s/splax-os-sub001/internal/corelog"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
	"github.com/splax-s/splax-os-sub001/internal/signal"
)

// ResourceUsage is the rusage carried on every exit and handed to the
// reaping parent.
type ResourceUsage struct {
	UTime  uint64 // user CPU time, microseconds
	STime  uint64 // system CPU time, microseconds
	MaxRSS uint64 // peak resident set, bytes
	MinFlt uint64 // page faults not requiring I/O
	MajFlt uint64 // page faults requiring I/O
	NVCSW  uint64 // voluntary context switches
	NIVCSW uint64 // involuntary context switches
}

// ZombieInfo is a terminated child's exit record, held until the parent
// reaps it.
type ZombieInfo struct {
	PID    coretypes.ProcessID
	Parent coretypes.ProcessID
	Status ExitStatus
	Rusage ResourceUsage
}

// TargetKind selects what a Wait call matches.
type TargetKind int

const (
	TargetAny TargetKind = iota
	TargetPID
	TargetProcessGroup
)

// Target names the child (or group) a Wait call is for.
type Target struct {
	Kind TargetKind
	PID  coretypes.ProcessID
}

func Any() Target                           { return Target{Kind: TargetAny} }
func ForPID(pid coretypes.ProcessID) Target { return Target{Kind: TargetPID, PID: pid} }
func ForProcessGroup(pgid coretypes.ProcessID) Target {
	return Target{Kind: TargetProcessGroup, PID: pgid}
}

// Options are the wait flags. On the block-then-retry path every field is
// preserved unchanged from the original call.
type Options struct {
	NoHang    bool // don't block if no child is ready
	Untraced  bool // recorded with the waiter; Wait reports exited children only
	Continued bool // recorded with the waiter; Wait reports exited children only
	NoWait    bool // leave the zombie in place (peek)
}

// Blocker is the slice of the scheduler this package drives: parking a
// waiting parent and releasing it when a child exits. Satisfied by
// internal/sched.Scheduler.
type Blocker interface {
	Block(pid coretypes.ProcessID)
	Wake(pid coretypes.ProcessID)
	Terminate(pid coretypes.ProcessID)
}

// ChildNotifier is the slice of the signal subsystem this package
// drives: SIGCHLD on exit and state teardown when a process leaves the
// system. Satisfied by internal/signal.Manager.
type ChildNotifier interface {
	Send(target coretypes.ProcessID, sig signal.Signal, info signal.Info) error
	CleanupProcess(pid coretypes.ProcessID)
}

type waitRequest struct {
	target  Target
	options Options
}

// Manager tracks parent/child links, zombies, and blocked waiters. Three
// locks guard the three maps; they are always acquired in the order
// children, zombies, waiters.
type Manager struct {
	logger zerolog.Logger

	childrenMu sync.Mutex
	children   map[coretypes.ProcessID][]coretypes.ProcessID

	zombiesMu sync.Mutex
	zombies   map[coretypes.ProcessID]ZombieInfo

	waitersMu sync.Mutex
	waiters   map[coretypes.ProcessID]waitRequest

	sched   Blocker
	signals ChildNotifier
}

// NewManager constructs an empty wait manager. sched must be non-nil for
// blocking waits; signals must be non-nil for SIGCHLD delivery (a nil
// notifier silently skips notification, for callers that exercise only
// the reap bookkeeping).
func NewManager(sched Blocker, signals ChildNotifier) *Manager {
	return &Manager{
		logger:   corelog.WithComponent("wait"),
		children: make(map[coretypes.ProcessID][]coretypes.ProcessID),
		zombies:  make(map[coretypes.ProcessID]ZombieInfo),
		waiters:  make(map[coretypes.ProcessID]waitRequest),
		sched:    sched,
		signals:  signals,
	}
}

// AddChild records child under parent.
func (m *Manager) AddChild(parent, child coretypes.ProcessID) {
	m.childrenMu.Lock()
	defer m.childrenMu.Unlock()
	m.children[parent] = append(m.children[parent], child)
}

// RemoveChild drops child from parent's list.
func (m *Manager) RemoveChild(parent, child coretypes.ProcessID) {
	m.childrenMu.Lock()
	defer m.childrenMu.Unlock()
	kids := m.children[parent]
	for i, c := range kids {
		if c == child {
			m.children[parent] = append(kids[:i], kids[i+1:]...)
			return
		}
	}
}

// GetChildren returns a copy of parent's child list.
func (m *Manager) GetChildren(parent coretypes.ProcessID) []coretypes.ProcessID {
	m.childrenMu.Lock()
	defer m.childrenMu.Unlock()
	kids := m.children[parent]
	out := make([]coretypes.ProcessID, len(kids))
	copy(out, kids)
	return out
}

// GetParent finds the parent of child, scanning the children index.
func (m *Manager) GetParent(child coretypes.ProcessID) (coretypes.ProcessID, bool) {
	m.childrenMu.Lock()
	defer m.childrenMu.Unlock()
	for parent, kids := range m.children {
		for _, c := range kids {
			if c == child {
				return parent, true
			}
		}
	}
	return 0, false
}

// DoExit converts pid into a zombie with a normal-exit status, sends
// SIGCHLD to parent, and wakes the parent if it is blocked in Wait.
func (m *Manager) DoExit(pid, parent coretypes.ProcessID, exitCode int32, rusage ResourceUsage) {
	m.finishExit(pid, parent, StatusFromExitCode(exitCode), rusage, signal.Info{
		Signo:     signal.SIGCHLD,
		Code:      signal.CodeChildExited,
		SenderPID: pid,
		HasSender: true,
		Value:     uint64(uint32(exitCode)),
	})
}

// DoSignalExit is DoExit for a signal-killed process; the status encodes
// the terminating signal and whether a core was dumped.
func (m *Manager) DoSignalExit(pid, parent coretypes.ProcessID, sig uint8, coreDump bool, rusage ResourceUsage) {
	status := StatusFromSignal(sig)
	if coreDump {
		status = StatusFromSignalCore(sig)
	}
	m.finishExit(pid, parent, status, rusage, signal.Info{
		Signo:     signal.SIGCHLD,
		Code:      signal.CodeChildKilled,
		SenderPID: pid,
		HasSender: true,
		Value:     uint64(sig),
	})
}

func (m *Manager) finishExit(pid, parent coretypes.ProcessID, status ExitStatus, rusage ResourceUsage, info signal.Info) {
	m.zombiesMu.Lock()
	m.zombies[pid] = ZombieInfo{PID: pid, Parent: parent, Status: status, Rusage: rusage}
	m.zombiesMu.Unlock()

	if m.signals != nil {
		// Best effort: the parent may have no signal state (already
		// exiting itself); the zombie stays reapable either way.
		_ = m.signals.Send(parent, signal.SIGCHLD, info)
	}

	m.waitersMu.Lock()
	_, waiting := m.waiters[parent]
	m.waitersMu.Unlock()
	if waiting && m.sched != nil {
		m.sched.Wake(parent)
	}
}

// findZombie polls for a zombie matching target under parent. Process
// groups are matched by their leader pid.
func (m *Manager) findZombie(parent coretypes.ProcessID, target Target) (coretypes.ProcessID, bool) {
	m.zombiesMu.Lock()
	defer m.zombiesMu.Unlock()

	switch target.Kind {
	case TargetAny:
		for pid, z := range m.zombies {
			if z.Parent == parent {
				return pid, true
			}
		}
	case TargetPID, TargetProcessGroup:
		if z, ok := m.zombies[target.PID]; ok && z.Parent == parent {
			return target.PID, true
		}
	}
	return 0, false
}

func (m *Manager) takeZombie(pid coretypes.ProcessID, peek bool) (ZombieInfo, bool) {
	m.zombiesMu.Lock()
	defer m.zombiesMu.Unlock()
	z, ok := m.zombies[pid]
	if !ok {
		return ZombieInfo{}, false
	}
	if !peek {
		delete(m.zombies, pid)
	}
	return z, true
}

// Wait reaps a matching zombie child. It returns ErrNoChildren when
// parent has no children at all, ErrChildNotFound when a specific pid is
// neither a live child nor a zombie, and ErrWouldBlock when NoHang is set
// and nothing matched. Otherwise it blocks until a matching child's exit
// wakes it, then re-polls — the retry keeps the caller's original target
// and options unchanged, and blocks again if nothing matches yet.
func (m *Manager) Wait(parent coretypes.ProcessID, target Target, options Options) (ZombieInfo, error) {
	for {
		kids := m.GetChildren(parent)

		if pid, ok := m.findZombie(parent, target); ok {
			z, ok := m.takeZombie(pid, options.NoWait)
			if ok {
				if !options.NoWait {
					m.RemoveChild(parent, pid)
				}
				return z, nil
			}
			// Another waiter raced us to this zombie; fall through and
			// re-evaluate.
		}

		if len(kids) == 0 {
			return ZombieInfo{}, ErrNoChildren
		}
		if target.Kind == TargetPID && !contains(kids, target.PID) {
			return ZombieInfo{}, ErrChildNotFound
		}
		if options.NoHang {
			return ZombieInfo{}, ErrWouldBlock
		}
		if m.sched == nil {
			return ZombieInfo{}, ErrWouldBlock
		}

		m.waitersMu.Lock()
		m.waiters[parent] = waitRequest{target: target, options: options}
		m.waitersMu.Unlock()

		// A Wake issued between the poll above and this Block is not
		// lost: the scheduler contract buffers one pending wakeup.
		m.sched.Block(parent)

		m.waitersMu.Lock()
		delete(m.waiters, parent)
		m.waitersMu.Unlock()
	}
}

func contains(pids []coretypes.ProcessID, pid coretypes.ProcessID) bool {
	for _, p := range pids {
		if p == pid {
			return true
		}
	}
	return false
}

// ProcessExited is the proc.Waiter exit notification. The process table
// keeps no rusage accounting, so the usage is zeroed.
func (m *Manager) ProcessExited(pid, parent coretypes.ProcessID, exitCode int32) {
	m.DoExit(pid, parent, exitCode, ResourceUsage{})
}

// ReparentChildren moves all of dying's children under newParent
// (normally init), rewriting the corresponding zombies' parent fields
// too.
func (m *Manager) ReparentChildren(dying, newParent coretypes.ProcessID) {
	m.childrenMu.Lock()
	kids := m.children[dying]
	delete(m.children, dying)
	m.children[newParent] = append(m.children[newParent], kids...)
	m.childrenMu.Unlock()

	m.zombiesMu.Lock()
	for _, kid := range kids {
		if z, ok := m.zombies[kid]; ok {
			z.Parent = newParent
			m.zombies[kid] = z
		}
	}
	m.zombiesMu.Unlock()

	if len(kids) > 0 {
		m.logger.Debug().
			Uint64("dying", uint64(dying)).
			Uint64("new_parent", uint64(newParent)).
			Int("children", len(kids)).
			Msg("reparented orphans")
	}
}

// Exit is the full exit orchestration for a normally-terminating
// process: zombie creation, SIGCHLD, orphan reparenting to init, signal
// state teardown, and scheduler teardown. Init itself cannot exit.
func (m *Manager) Exit(pid coretypes.ProcessID, exitCode int32, rusage ResourceUsage) error {
	if pid == coretypes.InitPID {
		return ErrCannotExit
	}

	parent, ok := m.GetParent(pid)
	if !ok {
		parent = coretypes.InitPID
	}

	m.DoExit(pid, parent, exitCode, rusage)
	m.ReparentChildren(pid, coretypes.InitPID)
	if m.signals != nil {
		m.signals.CleanupProcess(pid)
	}
	if m.sched != nil {
		m.sched.Terminate(pid)
	}
	return nil
}

// ExitSignal is Exit for a signal-killed process.
func (m *Manager) ExitSignal(pid coretypes.ProcessID, sig uint8, coreDump bool, rusage ResourceUsage) error {
	if pid == coretypes.InitPID {
		return ErrCannotExit
	}

	parent, ok := m.GetParent(pid)
	if !ok {
		parent = coretypes.InitPID
	}

	m.DoSignalExit(pid, parent, sig, coreDump, rusage)
	m.ReparentChildren(pid, coretypes.InitPID)
	if m.signals != nil {
		m.signals.CleanupProcess(pid)
	}
	if m.sched != nil {
		m.sched.Terminate(pid)
	}
	return nil
}

// CleanupProcess removes every trace of a reaped process.
func (m *Manager) CleanupProcess(pid coretypes.ProcessID) {
	m.childrenMu.Lock()
	delete(m.children, pid)
	m.childrenMu.Unlock()

	m.zombiesMu.Lock()
	delete(m.zombies, pid)
	m.zombiesMu.Unlock()

	m.waitersMu.Lock()
	delete(m.waiters, pid)
	m.waitersMu.Unlock()
}

// ZombieCount reports how many unreaped zombies exist.
func (m *Manager) ZombieCount() int {
	m.zombiesMu.Lock()
	defer m.zombiesMu.Unlock()
	return len(m.zombies)
}
