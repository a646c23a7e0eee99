package mem

import (
	"fmt"
	"sort"
	"strings"
)

// these constants are used for region protections
const (
	PROT_NONE  = 0
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
	PROT_ALL   = 7
)

const PageSize = 0x1000

// Region is one synthetic memory range of an execution context.
// Addr is the guest address; Data is the host backing, which may be longer
// than Size only for page-rounded mappings.
type Region struct {
	Addr uint64
	Size uint64
	Prot int
	Data []byte

	Desc string
}

func (r *Region) String() string {
	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := []string{"r", "w", "x"}
	prot := ""
	for i := range prots {
		if r.Prot&prots[i] != 0 {
			prot += chars[i]
		} else {
			prot += "-"
		}
	}
	desc := fmt.Sprintf("0x%x-0x%x %s", r.Addr, r.Addr+r.Size, prot)
	if r.Desc != "" {
		desc += fmt.Sprintf(" [%s]", r.Desc)
	}
	return desc
}

func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Addr && addr < r.Addr+r.Size
}

// start = max(s1, s2), end = min(e1, e2), ok = end > start
func (r *Region) Intersect(addr, size uint64) (uint64, uint64, bool) {
	start := r.Addr
	end := r.Addr + r.Size
	e2 := addr + size
	if end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	if end <= start {
		return start, 0, false
	}
	return start, end - start, true
}

func (r *Region) Overlaps(addr, size uint64) bool {
	_, _, ok := r.Intersect(addr, size)
	return ok
}

// Mapped returns the page-rounded guest range covering the region.
func (r *Region) Mapped() (addr, size uint64) {
	return Align(r.Addr, r.Size)
}

// Align grows addr/size outwards to page boundaries.
func Align(addr, size uint64) (uint64, uint64) {
	right := (addr + size + PageSize - 1) &^ (PageSize - 1)
	addr &^= PageSize - 1
	return addr, right - addr
}

type Regions []*Region

func (p Regions) Len() int           { return len(p) }
func (p Regions) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Regions) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Regions) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// Sorted returns a copy of the list ordered by address, dropping empty regions.
func (p Regions) Sorted() Regions {
	ret := make(Regions, 0, len(p))
	for _, r := range p {
		if r.Size > 0 {
			ret = append(ret, r)
		}
	}
	sort.Sort(ret)
	return ret
}

// binary search to find index of first region containing addr, if any, else -1
// p must be sorted
func (p Regions) bsearch(addr uint64) int {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr < e.Addr+e.Size {
				return mid
			}
			l = mid + 1
		} else if addr < e.Addr {
			r = mid - 1
		}
	}
	return -1
}

// Find returns the region containing addr. p must be sorted.
func (p Regions) Find(addr uint64) *Region {
	i := p.bsearch(addr)
	if i >= 0 {
		return p[i]
	}
	return nil
}

// Overlapping returns the first pair of regions whose guest ranges intersect.
func (p Regions) Overlapping() (a, b *Region, ok bool) {
	sorted := p.Sorted()
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Overlaps(cur.Addr, cur.Size) {
			return prev, cur, true
		}
	}
	return nil, nil, false
}
