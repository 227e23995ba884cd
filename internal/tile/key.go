package tile

import (
	"fmt"
	"math"
)

// CellKey identifies one cubic grid cell. Keys order lexicographically on
// (I, J, K); that order is both the bucket-map key and the merge-out
// sequence.
type CellKey struct {
	I, J, K int32
}

// KeyOf maps a coordinate triple to its cell at the given edge length.
// Floor division keeps cells symmetric across the origin: -0.5 at edge 1.0
// lands in cell -1, not in a double-width cell straddling zero.
func KeyOf(x, y, z, edge float64) CellKey {
	return CellKey{
		I: int32(math.Floor(x / edge)),
		J: int32(math.Floor(y / edge)),
		K: int32(math.Floor(z / edge)),
	}
}

// Less reports whether k precedes o in the lexicographic cell order.
func (k CellKey) Less(o CellKey) bool {
	if k.I != o.I {
		return k.I < o.I
	}
	if k.J != o.J {
		return k.J < o.J
	}
	return k.K < o.K
}

func (k CellKey) String() string {
	return fmt.Sprintf("(%d,%d,%d)", k.I, k.J, k.K)
}
