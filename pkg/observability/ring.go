package observability

import (
	"sync"

	"github.com/crestline/advisor/pkg/contracts"
)

// DefaultAuditRingSize bounds the in-memory policy audit trail.
const DefaultAuditRingSize = 10_000

// AuditRecord is one policy decision tied back to its event.
type AuditRecord struct {
	CorrelationID string                     `json:"correlation_id"`
	Decisions     []contracts.PolicyDecision `json:"decisions"`
}

// PolicyAuditRing keeps the most recent policy decisions in a fixed
// ring. Old records are overwritten; nothing is ever persisted.
type PolicyAuditRing struct {
	mu   sync.Mutex
	buf  []AuditRecord
	next int
	full bool
}

// NewPolicyAuditRing creates a ring; size <= 0 uses the default.
func NewPolicyAuditRing(size int) *PolicyAuditRing {
	if size <= 0 {
		size = DefaultAuditRingSize
	}
	return &PolicyAuditRing{buf: make([]AuditRecord, size)}
}

// Record appends one event's policy decisions.
func (r *PolicyAuditRing) Record(correlationID string, decisions []contracts.PolicyDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = AuditRecord{CorrelationID: correlationID, Decisions: decisions}
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Recent returns up to n records, newest first.
func (r *PolicyAuditRing) Recent(n int) []AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n > size {
		n = size
	}
	out := make([]AuditRecord, 0, n)
	idx := r.next - 1
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx = len(r.buf) - 1
		}
		out = append(out, r.buf[idx])
		idx--
	}
	return out
}
