package afl

import (
	"github.com/pkg/errors"
)

func murmur64(val uint64) uint64 {
	h := val
	h ^= val >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// Coverage records AFL edge hits for basic block transitions.
type Coverage struct {
	Area []byte

	mask uint64
	prev uint64
}

// NewCoverage wraps a coverage map. Its size must be a power of two.
func NewCoverage(area []byte) (*Coverage, error) {
	size := uint64(len(area))
	if size == 0 || size&(size-1) != 0 {
		return nil, errors.Errorf("coverage map size %d is not a power of two", size)
	}
	return &Coverage{Area: area, mask: size - 1}, nil
}

// Block is the engine block hook.
func (c *Coverage) Block(addr uint64, size uint32) {
	cur := murmur64(addr) & c.mask
	c.Area[cur^c.prev]++
	c.prev = cur
}

// Reset starts a new trace.
func (c *Coverage) Reset() {
	c.prev = 0
}
