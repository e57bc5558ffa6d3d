package cap

import (
	"sync"
	"time"

	"github.com/splax-s/splax-os-sub001/internal/coretypes"
)

// AuditOp names the capability-table operation an AuditRecord describes.
type AuditOp string

const (
	AuditCreate AuditOp = "create"
	AuditGrant  AuditOp = "grant"
	AuditCheck  AuditOp = "check"
	AuditRevoke AuditOp = "revoke"
)

// AuditResult is the outcome of an audited operation.
type AuditResult string

const (
	AuditSuccess AuditResult = "success"
	AuditDenied  AuditResult = "denied"
)

// AuditRecord is one entry in the capability table's audit trail.
type AuditRecord struct {
	Seq         uint64
	Op          AuditOp
	Token       Token
	Actor       coretypes.ProcessID
	Resource    coretypes.ResourceID
	HasResource bool
	Result      AuditResult
	Timestamp   time.Time
}

// Sink optionally durably persists audit records, e.g. to a bbolt-backed
// store (see internal/audit). A nil sink means audit records live only in
// the in-memory ring.
type Sink interface {
	Append(rec AuditRecord) error
}

// auditLog is a bounded ring: the oldest record is displaced on overflow.
// It has its own lock, independent of the entries-table lock, so checks
// on the hot path never contend with audit readers.
type auditLog struct {
	mu       sync.Mutex
	records  []AuditRecord
	capacity int
	next     int
	filled   bool
	seq      uint64
	sink     Sink
}

func newAuditLog(capacity int, sink Sink) *auditLog {
	if capacity <= 0 {
		capacity = 4096
	}
	return &auditLog{
		records:  make([]AuditRecord, capacity),
		capacity: capacity,
		sink:     sink,
	}
}

func (a *auditLog) append(op AuditOp, tok Token, actor coretypes.ProcessID, resource *coretypes.ResourceID, result AuditResult) {
	a.mu.Lock()
	a.seq++
	rec := AuditRecord{
		Seq:       a.seq,
		Op:        op,
		Token:     tok,
		Actor:     actor,
		Result:    result,
		Timestamp: time.Now(),
	}
	if resource != nil {
		rec.Resource = *resource
		rec.HasResource = true
	}
	a.records[a.next] = rec
	a.next = (a.next + 1) % a.capacity
	if a.next == 0 {
		a.filled = true
	}
	sink := a.sink
	a.mu.Unlock()

	if sink != nil {
		// Best-effort: a durability-sink failure must not make the
		// audited operation itself fail or block.
		_ = sink.Append(rec)
	}
}

// Records returns a snapshot of the ring in chronological order.
func (a *auditLog) Records() []AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.filled {
		out := make([]AuditRecord, a.next)
		copy(out, a.records[:a.next])
		return out
	}
	out := make([]AuditRecord, a.capacity)
	copy(out, a.records[a.next:])
	copy(out[a.capacity-a.next:], a.records[:a.next])
	return out
}
