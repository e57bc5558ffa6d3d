package cap

// OpSet is the bit-flag set of operations a capability token authorizes.
// Union, intersection, and "contains all of" are the only operations used
// on the check path.
type OpSet uint32

const (
	OpNone    OpSet = 0
	OpRead    OpSet = 1 << 0
	OpWrite   OpSet = 1 << 1
	OpExecute OpSet = 1 << 2
	OpGrant   OpSet = 1 << 3
	OpRevoke  OpSet = 1 << 4

	opAll OpSet = OpRead | OpWrite | OpExecute | OpGrant | OpRevoke
)

// Union returns the set of operations in either s or other.
func (s OpSet) Union(other OpSet) OpSet { return s | other }

// Intersect returns the set of operations in both s and other. This is
// the enforced-attenuation operator: a grant's effective operations are
// always requested.Intersect(parent).
func (s OpSet) Intersect(other OpSet) OpSet { return s & other }

// Contains reports whether s has every operation in other.
func (s OpSet) Contains(other OpSet) bool { return s&other == other }

// IsEmpty reports whether the set has no operations.
func (s OpSet) IsEmpty() bool { return s == 0 }
