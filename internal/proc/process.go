// Package proc owns process descriptors, builds address spaces from ELF
// images, constructs initial user stacks, and exposes the operations the
// supervisor, the scheduler, and the signal/wait subsystems need.
package proc

import (
	"time"

	"github.com/splax-s/splax-os-sub001/internal/cap"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
)

// State is a process's scheduling state.
type State int

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateBlocked
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Class and Priority are opaque here; only the scheduler interprets
// them.
type Class int

const (
	ClassNormal Class = iota
	ClassKernel
	ClassRealtime
)

// Context is a minimal save/restore register image. There is no real CPU
// to run on in this module, so PC/SP are the only fields the process
// table itself inspects (entry point and initial stack pointer); Regs is opaque
// storage a scheduler implementation may use however it likes.
type Context struct {
	PC   uint64
	SP   uint64
	Regs [16]uint64
}

// Descriptor is one process's kernel-side record.
type Descriptor struct {
	PID              coretypes.ProcessID
	Name             string
	Parent           coretypes.ProcessID
	HasParent        bool
	State            State
	Class            Class
	Priority         int
	CPUContext       Context
	AddressSpaceRoot *AddressSpace
	KernelStack      []byte
	UserStack        []byte
	HasUserStack     bool
	RootCapability   cap.Token
	ExitCode         int32
	HasExitCode      bool
	Children         []coretypes.ProcessID
	CPUTime          time.Duration
	CreatedAt        time.Time
	Brk              uint64
	Cwd              string
}

// Snapshot is a read-only copy of a Descriptor returned by Get, so callers
// can inspect state without holding the process table lock.
type Snapshot = Descriptor

const defaultKernelStackSize = 64 * 1024
const defaultUserStackSize = 8 * 1024 * 1024

// defaultUserStackTop is the fixed high address new user stacks are built
// at.
const defaultUserStackTop = 0x0000_7fff_ffff_f000
