package mem

import (
	"github.com/pkg/errors"
)

var ErrAlloc = errors.New("allocation failed")

// MaxAlloc caps a single allocation. Go aborts the whole runtime when make()
// cannot be satisfied, so anything above this is refused up front.
const MaxAlloc = 1 << 32

// Allocator hands out zeroed regions for one emulation run.
type Allocator interface {
	Alloc(size uint64) ([]byte, error)
	Free(p []byte)
}

// Heap is the default Allocator. It tracks bytes in use so callers can verify
// that every region was released, and can be given a Limit to inject
// allocation failures.
type Heap struct {
	// Limit is the maximum number of bytes in use at once. 0 means MaxAlloc per call.
	Limit uint64

	inUse uint64
	peak  uint64
	count int
}

func (h *Heap) Alloc(size uint64) ([]byte, error) {
	if size > MaxAlloc {
		return nil, errors.Wrapf(ErrAlloc, "%#x bytes exceeds maximum", size)
	}
	if h.Limit > 0 && h.inUse+size > h.Limit {
		return nil, errors.Wrapf(ErrAlloc, "%#x bytes (%#x/%#x in use)", size, h.inUse, h.Limit)
	}
	p := make([]byte, size)
	h.inUse += size
	h.count++
	if h.inUse > h.peak {
		h.peak = h.inUse
	}
	return p, nil
}

func (h *Heap) Free(p []byte) {
	if p == nil {
		return
	}
	size := uint64(len(p))
	if size > h.inUse {
		panic("mem: free of more bytes than allocated")
	}
	h.inUse -= size
	h.count--
}

// InUse returns the number of bytes currently allocated.
func (h *Heap) InUse() uint64 { return h.inUse }

// Live returns the number of allocations not yet freed.
func (h *Heap) Live() int { return h.count }

// Peak returns the high-water mark of InUse.
func (h *Heap) Peak() uint64 { return h.peak }
