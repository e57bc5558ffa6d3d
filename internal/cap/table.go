// Package cap implements the capability table: the cryptographically
// unforgeable authorization substrate every other privileged operation in
// the core depends on.
package cap

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/splax-s/splax-os-sub001/internal/coremetrics"
	"github.com/splax-s/splax-os-sub001/internal/corelog"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
)

const defaultMaxEntries = 1 << 20

type entry struct {
	token      Token
	owner      coretypes.ProcessID
	resource   coretypes.ResourceID
	operations OpSet
	parent     Token
	hasParent  bool
	revoked    bool
	createdAt  time.Time
	expiresAt  *time.Time
}

// Table is the capability table. One lock guards the entries map and the
// owner index together; the audit log has its own independent lock.
type Table struct {
	logger zerolog.Logger

	mu         sync.Mutex
	entries    map[Token]*entry
	ownerIndex map[coretypes.ProcessID][]Token
	counter    uint64
	secret     []byte
	maxEntries int

	audit *auditLog
}

// Option configures a Table at construction time.
type Option func(*Table)

// WithAuditCapacity sets the bounded audit ring's capacity (default 4096).
func WithAuditCapacity(n int) Option {
	return func(t *Table) { t.audit = newAuditLog(n, t.audit.sink) }
}

// WithAuditSink attaches an optional durable audit sink.
func WithAuditSink(sink Sink) Option {
	return func(t *Table) { t.audit.sink = sink }
}

// WithMaxEntries bounds the table size; CreateRoot/Grant past this bound
// return ErrTableFull.
func WithMaxEntries(n int) Option {
	return func(t *Table) { t.maxEntries = n }
}

// NewTable constructs an empty capability table. secret is the process-wide
// entropy used to key token generation; it must be established before any
// token is created and must never leak. A zero-length secret is rejected.
func NewTable(secret []byte, opts ...Option) *Table {
	if len(secret) == 0 {
		panic("cap: NewTable requires a non-empty secret")
	}
	secretCopy := make([]byte, len(secret))
	copy(secretCopy, secret)

	t := &Table{
		logger:     corelog.WithComponent("cap"),
		entries:    make(map[Token]*entry),
		ownerIndex: make(map[coretypes.ProcessID][]Token),
		secret:     secretCopy,
		maxEntries: defaultMaxEntries,
		audit:      newAuditLog(0, nil),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateRoot creates a token with no parent. Only trusted boot-path code
// should call this; the table enforces no caller check here.
func (t *Table) CreateRoot(owner coretypes.ProcessID, resource coretypes.ResourceID, ops OpSet) (Token, error) {
	return t.createRoot(owner, resource, ops, nil)
}

// CreateRootExpiring is CreateRoot with an expiry; Check on the token
// (and anything granted from it, which inherits the expiry) returns
// ErrExpired once expiresAt has passed.
func (t *Table) CreateRootExpiring(owner coretypes.ProcessID, resource coretypes.ResourceID, ops OpSet, expiresAt time.Time) (Token, error) {
	return t.createRoot(owner, resource, ops, &expiresAt)
}

func (t *Table) createRoot(owner coretypes.ProcessID, resource coretypes.ResourceID, ops OpSet, expiresAt *time.Time) (Token, error) {
	t.mu.Lock()
	if len(t.entries) >= t.maxEntries {
		t.mu.Unlock()
		return Token{}, ErrTableFull
	}
	t.counter++
	tok := generateToken(t.counter, resource, ops, t.secret)
	e := &entry{
		token:      tok,
		owner:      owner,
		resource:   resource,
		operations: ops,
		createdAt:  time.Now(),
		expiresAt:  expiresAt,
	}
	t.entries[tok] = e
	t.ownerIndex[owner] = append(t.ownerIndex[owner], tok)
	t.mu.Unlock()

	t.audit.append(AuditCreate, tok, owner, &resource, AuditSuccess)
	coremetrics.CapCreatesTotal.Inc()
	return tok, nil
}

// Grant derives a child token from parent, owned by grantee, whose
// operations are requestedOps intersected with the parent's operations
// (enforced attenuation — asking for more than the parent grants is not an
// error, it silently yields less).
func (t *Table) Grant(granter coretypes.ProcessID, parent Token, grantee coretypes.ProcessID, requestedOps OpSet) (Token, error) {
	t.mu.Lock()

	parentEntry, ok := t.entries[parent]
	if !ok {
		t.mu.Unlock()
		t.audit.append(AuditGrant, parent, granter, nil, AuditDenied)
		return Token{}, ErrTokenNotFound
	}
	if parentEntry.owner != granter {
		t.mu.Unlock()
		t.audit.append(AuditGrant, parent, granter, nil, AuditDenied)
		return Token{}, ErrNotOwner
	}
	if !parentEntry.operations.Contains(OpGrant) {
		t.mu.Unlock()
		t.audit.append(AuditGrant, parent, granter, nil, AuditDenied)
		return Token{}, ErrOperationNotAllowed
	}
	if len(t.entries) >= t.maxEntries {
		t.mu.Unlock()
		return Token{}, ErrTableFull
	}

	effectiveOps := requestedOps.Intersect(parentEntry.operations)
	resource := parentEntry.resource
	expiresAt := parentEntry.expiresAt

	t.counter++
	tok := generateToken(t.counter, resource, effectiveOps, t.secret)
	e := &entry{
		token:      tok,
		owner:      grantee,
		resource:   resource,
		operations: effectiveOps,
		parent:     parent,
		hasParent:  true,
		createdAt:  time.Now(),
		expiresAt:  expiresAt,
	}
	t.entries[tok] = e
	t.ownerIndex[grantee] = append(t.ownerIndex[grantee], tok)
	t.mu.Unlock()

	t.audit.append(AuditGrant, tok, granter, &resource, AuditSuccess)
	coremetrics.CapGrantsTotal.Inc()
	return tok, nil
}

// Check verifies process holds token with op authorized, rejecting in the
// fixed order: TokenNotFound, NotOwner, Revoked, Expired,
// OperationNotAllowed. Every path, success or failure, writes an audit
// record.
func (t *Table) Check(process coretypes.ProcessID, token Token, op OpSet) error {
	t.mu.Lock()
	e, ok := t.entries[token]
	if !ok {
		t.mu.Unlock()
		t.audit.append(AuditCheck, token, process, nil, AuditDenied)
		coremetrics.CapChecksTotal.WithLabelValues("token_not_found").Inc()
		return ErrTokenNotFound
	}
	if e.owner != process {
		t.mu.Unlock()
		t.audit.append(AuditCheck, token, process, nil, AuditDenied)
		coremetrics.CapChecksTotal.WithLabelValues("not_owner").Inc()
		return ErrNotOwner
	}
	if e.revoked {
		resource := e.resource
		t.mu.Unlock()
		t.audit.append(AuditCheck, token, process, &resource, AuditDenied)
		coremetrics.CapChecksTotal.WithLabelValues("revoked").Inc()
		return ErrRevoked
	}
	if e.expiresAt != nil && time.Now().After(*e.expiresAt) {
		resource := e.resource
		t.mu.Unlock()
		t.audit.append(AuditCheck, token, process, &resource, AuditDenied)
		coremetrics.CapChecksTotal.WithLabelValues("expired").Inc()
		return ErrExpired
	}
	if !e.operations.Contains(op) {
		resource := e.resource
		t.mu.Unlock()
		t.audit.append(AuditCheck, token, process, &resource, AuditDenied)
		coremetrics.CapChecksTotal.WithLabelValues("operation_not_allowed").Inc()
		return ErrOperationNotAllowed
	}
	resource := e.resource
	t.mu.Unlock()

	t.audit.append(AuditCheck, token, process, &resource, AuditSuccess)
	coremetrics.CapChecksTotal.WithLabelValues("success").Inc()
	return nil
}

// Revoke marks token's entry revoked, then walks the table to a fixed
// point marking every transitive descendant revoked too. Revocation is
// idempotent.
func (t *Table) Revoke(revoker coretypes.ProcessID, token Token) error {
	t.mu.Lock()

	e, ok := t.entries[token]
	if !ok {
		t.mu.Unlock()
		t.audit.append(AuditRevoke, token, revoker, nil, AuditDenied)
		return ErrTokenNotFound
	}
	if e.owner != revoker {
		t.mu.Unlock()
		t.audit.append(AuditRevoke, token, revoker, nil, AuditDenied)
		return ErrNotOwner
	}

	e.revoked = true

	// Fixed-point closure: repeatedly scan for entries whose parent is
	// already revoked, until a pass marks nothing new. A single pass would
	// only catch direct children; the whole subtree must go.
	for {
		markedAny := false
		for _, candidate := range t.entries {
			if candidate.revoked || !candidate.hasParent {
				continue
			}
			if parentEntry, ok := t.entries[candidate.parent]; ok && parentEntry.revoked {
				candidate.revoked = true
				markedAny = true
			}
		}
		if !markedAny {
			break
		}
	}

	t.mu.Unlock()

	t.audit.append(AuditRevoke, token, revoker, nil, AuditSuccess)
	coremetrics.CapRevokesTotal.Inc()
	return nil
}

// GetResource returns the resource a token grants access to.
func (t *Table) GetResource(token Token) (coretypes.ResourceID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[token]
	if !ok {
		return coretypes.ResourceID{}, ErrTokenNotFound
	}
	return e.resource, nil
}

// AuditRecords returns a snapshot of the bounded audit ring.
func (t *Table) AuditRecords() []AuditRecord {
	return t.audit.Records()
}
