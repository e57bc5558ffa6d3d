// Package sched defines the narrow scheduler contract the rest of the
// core depends on, plus one in-memory implementation good enough to
// exercise the process, signal, and wait subsystems end-to-end without a
// real CPU. A production scheduler plugs in behind the same interface.
package sched

import (
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
	"github.com/splax-s/splax-os-sub001/internal/proc"
)

// Scheduler is the scheduling contract. Wake transitions Blocked -> Ready;
// Block transitions Ready/Running -> Blocked and returns when a later
// Wake arrives; Terminate frees scheduler bookkeeping for any state.
// SwitchTo is the context-switch primitive: store the current register
// state into fromCtx (when non-nil) and resume from toCtx.
//
// Scheduling class and priority live in the process descriptor;
// interpreting them is the implementation's business.
type Scheduler interface {
	Wake(pid coretypes.ProcessID)
	Block(pid coretypes.ProcessID)
	Terminate(pid coretypes.ProcessID)
	SwitchTo(from, to coretypes.ProcessID, fromCtx *proc.Context, toCtx proc.Context)
}
