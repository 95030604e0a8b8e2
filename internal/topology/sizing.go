package topology

import (
	"fmt"
	"math"
	"math/bits"
)

// Fixed item geometry of the cache engine.
const (
	KeySize      = 32
	ItemOverhead = 48

	DefaultValueSize = 32
	DefaultSlabMem   = 4 << 30
)

// Sizing holds the inputs of the memory sizing calculation.
type Sizing struct {
	ValueSize int64
	SlabMem   int64
}

// DefaultSizing returns the default value size and memory budget.
func DefaultSizing() Sizing {
	return Sizing{ValueSize: DefaultValueSize, SlabMem: DefaultSlabMem}
}

// Derived holds values computed from [Sizing]. They are shared by every
// instance of a topology; sizing is not sharded per instance or per pmem
// device.
type Derived struct {
	ValueSize int64
	SlabMem   int64
	ItemSize  int64
	NKey      int64
	HashPower int
}

// Derive computes item size, estimated item count and hash table power:
//
//	item  = key + value + overhead
//	nkey  = ceil(mem / item)
//	power = ceil(log2(nkey))
func (s Sizing) Derive() (Derived, error) {
	if s.ValueSize < 1 {
		return Derived{}, fmt.Errorf("%w: value size must be positive (got %d)", ErrInvalidSizing, s.ValueSize)
	}

	if s.SlabMem < 1 {
		return Derived{}, fmt.Errorf("%w: memory budget must be positive (got %d)", ErrInvalidSizing, s.SlabMem)
	}

	if s.ValueSize > math.MaxInt64-KeySize-ItemOverhead {
		return Derived{}, fmt.Errorf("%w: value size too large (got %d)", ErrInvalidSizing, s.ValueSize)
	}

	item := KeySize + s.ValueSize + ItemOverhead
	nkey := s.SlabMem / item

	if s.SlabMem%item != 0 {
		nkey++
	}

	if nkey < 1 {
		return Derived{}, fmt.Errorf("%w: estimated item count %d", ErrInvalidSizing, nkey)
	}

	return Derived{
		ValueSize: s.ValueSize,
		SlabMem:   s.SlabMem,
		ItemSize:  item,
		NKey:      nkey,
		HashPower: ceilLog2(uint64(nkey)),
	}, nil
}

// ceilLog2 returns the smallest p with 2^p >= n, for n >= 1.
func ceilLog2(n uint64) int {
	return bits.Len64(n - 1)
}
