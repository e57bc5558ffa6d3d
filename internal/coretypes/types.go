// Package coretypes holds the value types shared by every core
// subsystem, so that e.g. the process table and the capability table can
// both refer to a ProcessID without an import cycle.
package coretypes

// ProcessID is a monotonically increasing process identifier. 0 is
// reserved for the kernel itself; 1 is the service supervisor (init);
// user identifiers begin at 2. Identifiers are never reused within a boot.
type ProcessID uint64

const (
	KernelPID ProcessID = 0
	InitPID   ProcessID = 1
)

// ResourceID names the thing a capability token grants access to. The
// Type namespace is open (e.g. "channel", "object", "service", "memory");
// the capability table attaches no semantics to it beyond use as a join
// key in audit records.
type ResourceID struct {
	Type string
	ID   uint64
}
