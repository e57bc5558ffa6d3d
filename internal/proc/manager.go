package proc

import (
	"sync"
	"time"

	"github.com/splax-s/splax-os-sub001/internal/cap"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
)

// Waiter and Scheduler are the narrow collaborator contracts Manager
// drops its lock before calling into. Both are satisfied by
// internal/wait.Manager and internal/sched.Scheduler respectively;
// Manager takes them as interfaces to avoid an import cycle (proc is
// lower in the dependency graph than wait/sched).
type Waiter interface {
	ProcessExited(pid, parent coretypes.ProcessID, exitCode int32)
}

type Scheduler interface {
	Block(pid coretypes.ProcessID)
	Wake(pid coretypes.ProcessID)
	Terminate(pid coretypes.ProcessID)
	SwitchTo(from, to coretypes.ProcessID, fromCtx *Context, toCtx Context)
}

// Manager owns the process table: a single map guarded by one lock held
// across lookup-and-mutate.
type Manager struct {
	mu           sync.Mutex
	table        map[coretypes.ProcessID]*Descriptor
	nextPID      coretypes.ProcessID
	maxProcesses int

	waiter Waiter
	sched  Scheduler
}

// NewManager constructs an empty process table. waiter/sched may be nil
// at construction time and set later via SetCollaborators — the process
// table can be built before the wait manager and scheduler exist, since
// those subsystems call back into it, not the other way around, at
// startup.
func NewManager() *Manager {
	return &Manager{
		table:        make(map[coretypes.ProcessID]*Descriptor),
		nextPID:      coretypes.InitPID + 1,
		maxProcesses: defaultMaxProcesses,
	}
}

// SetCollaborators wires the wait-manager and scheduler implementations
// Terminate and SwitchTo call into.
func (m *Manager) SetCollaborators(waiter Waiter, sched Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiter = waiter
	m.sched = sched
}

const defaultMaxProcesses = 1 << 16

func (m *Manager) allocatePID() (coretypes.ProcessID, error) {
	if len(m.table) >= m.maxProcesses {
		return 0, ErrLimitReached
	}
	pid := m.nextPID
	m.nextPID++
	return pid, nil
}

// SpawnKernel allocates a kernel stack, builds a context pointing at
// entry, and records the descriptor. entry is invoked by whatever
// scheduler implementation later switches to this process; it is never
// run from here.
func (m *Manager) SpawnKernel(name string, entry uint64, rootCap cap.Token) (coretypes.ProcessID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pid, err := m.allocatePID()
	if err != nil {
		return 0, err
	}
	desc := &Descriptor{
		PID:            pid,
		Name:           name,
		State:          StateNew,
		Class:          ClassKernel,
		CPUContext:     Context{PC: entry},
		KernelStack:    make([]byte, defaultKernelStackSize),
		RootCapability: rootCap,
		CreatedAt:      time.Now(),
	}
	m.table[pid] = desc
	return pid, nil
}

// SpawnUser records a descriptor for a process whose address space the
// caller has already constructed. The user stack is allocated at the
// fixed high address defaultUserStackTop.
func (m *Manager) SpawnUser(name string, entryVA uint64, as *AddressSpace, rootCap cap.Token) (coretypes.ProcessID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pid, err := m.allocatePID()
	if err != nil {
		return 0, err
	}
	userStack := make([]byte, defaultUserStackSize)
	desc := &Descriptor{
		PID:              pid,
		Name:             name,
		State:            StateNew,
		Class:            ClassNormal,
		CPUContext:       Context{PC: entryVA, SP: defaultUserStackTop},
		AddressSpaceRoot: as,
		KernelStack:      make([]byte, defaultKernelStackSize),
		UserStack:        userStack,
		HasUserStack:     true,
		RootCapability:   rootCap,
		CreatedAt:        time.Now(),
	}
	m.table[pid] = desc
	return pid, nil
}

// SpawnELF parses elfBytes, lays out its segments in a fresh address
// space, builds the initial stack (argv/envp/auxv), and records the
// descriptor.
func (m *Manager) SpawnELF(name string, elfBytes []byte, argv, envp []string, rootCap cap.Token) (coretypes.ProcessID, error) {
	as := NewAddressSpace()
	entry, err := loadELF(as, elfBytes)
	if err != nil {
		return 0, err
	}

	auxv := []AuxEntry{{Type: ATNull, Value: 0}}
	stack, sp, err := buildUserStack(defaultUserStackSize, defaultUserStackTop, argv, envp, auxv)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pid, err := m.allocatePID()
	if err != nil {
		return 0, err
	}
	desc := &Descriptor{
		PID:              pid,
		Name:             name,
		State:            StateNew,
		Class:            ClassNormal,
		CPUContext:       Context{PC: entry, SP: sp},
		AddressSpaceRoot: as,
		KernelStack:      make([]byte, defaultKernelStackSize),
		UserStack:        stack,
		HasUserStack:     true,
		RootCapability:   rootCap,
		CreatedAt:        time.Now(),
	}
	m.table[pid] = desc
	return pid, nil
}

// Get returns a snapshot copy of pid's descriptor.
func (m *Manager) Get(pid coretypes.ProcessID) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc, ok := m.table[pid]
	if !ok {
		return Descriptor{}, ErrProcessNotFound
	}
	return *desc, nil
}

// SetState transitions pid to state.
func (m *Manager) SetState(pid coretypes.ProcessID, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc, ok := m.table[pid]
	if !ok {
		return ErrProcessNotFound
	}
	desc.State = state
	return nil
}

// GetBrk returns pid's current program break.
func (m *Manager) GetBrk(pid coretypes.ProcessID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc, ok := m.table[pid]
	if !ok {
		return 0, ErrProcessNotFound
	}
	return desc.Brk, nil
}

// SetBrk sets pid's program break to newBrk.
func (m *Manager) SetBrk(pid coretypes.ProcessID, newBrk uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc, ok := m.table[pid]
	if !ok {
		return ErrProcessNotFound
	}
	desc.Brk = newBrk
	return nil
}

// AddChild records child as one of parent's children (used by SpawnX
// callers that also want the process table's own bookkeeping to reflect
// parentage; the wait manager keeps its own children index for
// reparenting).
func (m *Manager) AddChild(parent, child coretypes.ProcessID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.table[parent]
	if !ok {
		return ErrProcessNotFound
	}
	c, ok := m.table[child]
	if !ok {
		return ErrProcessNotFound
	}
	p.Children = append(p.Children, child)
	c.Parent = parent
	c.HasParent = true
	return nil
}

// Terminate transitions pid to Terminated and notifies the wait manager
// and the scheduler. The process-table lock is dropped before either
// call: neither may run while the lock is held, since both can call back
// into the process table (e.g. the wait manager reading a sibling
// descriptor).
func (m *Manager) Terminate(pid coretypes.ProcessID, exitCode int32) error {
	m.mu.Lock()
	desc, ok := m.table[pid]
	if !ok {
		m.mu.Unlock()
		return ErrProcessNotFound
	}
	if desc.State == StateTerminated {
		m.mu.Unlock()
		return ErrInvalidState
	}
	desc.State = StateTerminated
	desc.ExitCode = exitCode
	desc.HasExitCode = true
	parent, hasParent := desc.Parent, desc.HasParent
	m.mu.Unlock()

	if m.sched != nil {
		m.sched.Terminate(pid)
	}
	if hasParent && m.waiter != nil {
		m.waiter.ProcessExited(pid, parent, exitCode)
	}
	return nil
}

// SwitchTo saves the current process's context (if any) and loads
// target's, delegating the actual primitive to the scheduler. Like
// Terminate, the process-table lock is dropped first.
func (m *Manager) SwitchTo(current coretypes.ProcessID, hasCurrent bool, target coretypes.ProcessID) error {
	m.mu.Lock()
	targetDesc, ok := m.table[target]
	if !ok {
		m.mu.Unlock()
		return ErrProcessNotFound
	}
	targetDesc.State = StateRunning
	toCtx := targetDesc.CPUContext

	var fromCtx *Context
	if hasCurrent {
		if cur, ok := m.table[current]; ok {
			if cur.State == StateRunning {
				cur.State = StateReady
			}
			fromCtx = &cur.CPUContext
		}
	}
	m.mu.Unlock()

	if m.sched != nil {
		m.sched.SwitchTo(current, target, fromCtx, toCtx)
	}
	return nil
}
