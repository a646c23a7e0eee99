package mem

import (
	"testing"
)

func regionsEq(a Regions, b Regions) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRegionFind(t *testing.T) {
	mem := Regions{
		&Region{Addr: 0x1000, Size: 0x1000},
		&Region{Addr: 0x2000, Size: 0x1000},
		&Region{Addr: 0x4000, Size: 0x2000},
		&Region{Addr: 0x6000, Size: 0x2000},
	}
	if mem.Find(0x1000) != mem[0] ||
		mem.Find(0x1001) != mem[0] ||
		mem.Find(0x1fff) != mem[0] {
		t.Error("Find() failed")
	}
	if mem.Find(0x3000) != nil ||
		mem.Find(0x1) != nil ||
		mem.Find(0x10000) != nil {
		t.Error("Find() negative failed")
	}
}

func TestRegionIntersect(t *testing.T) {
	r := &Region{Addr: 0x2000, Size: 0x1000}
	tests := []struct {
		addr, size  uint64
		start, span uint64
		ok          bool
	}{
		{0x1000, 0x1000, 0, 0, false},
		{0x1000, 0x1001, 0x2000, 1, true},
		{0x2800, 0x10, 0x2800, 0x10, true},
		{0x2fff, 0x1000, 0x2fff, 1, true},
		{0x3000, 0x1000, 0, 0, false},
		{0x0, 0x10000, 0x2000, 0x1000, true},
	}
	for _, v := range tests {
		start, span, ok := r.Intersect(v.addr, v.size)
		if ok != v.ok {
			t.Errorf("Intersect(%#x, %#x) ok = %v, expecting %v", v.addr, v.size, ok, v.ok)
			continue
		}
		if ok && (start != v.start || span != v.span) {
			t.Errorf("Intersect(%#x, %#x) = (%#x, %#x), expecting (%#x, %#x)", v.addr, v.size, start, span, v.start, v.span)
		}
	}
}

func TestRegionOverlapping(t *testing.T) {
	stack := &Region{Addr: 0x100000, Size: 0x2000, Desc: "stack"}
	shellcode := &Region{Addr: 0x200000, Size: 0x40, Desc: "shellcode"}
	tib := &Region{Addr: 0x7fff0000, Size: 0x1000, Desc: "tib"}
	if a, b, ok := (Regions{shellcode, tib, stack}).Overlapping(); ok {
		t.Fatalf("unexpected overlap between %s and %s", a, b)
	}
	big := &Region{Addr: 0x101000, Size: 0x100000, Desc: "big"}
	a, b, ok := (Regions{shellcode, big, stack}).Overlapping()
	if !ok {
		t.Fatal("overlap not detected")
	}
	if a != stack || b != big {
		t.Fatalf("wrong overlap pair: %s / %s", a, b)
	}
	// empty regions never overlap anything
	empty := &Region{Addr: 0x100000, Size: 0}
	if _, _, ok := (Regions{empty, stack}).Overlapping(); ok {
		t.Fatal("empty region reported as overlapping")
	}
}

func TestAlign(t *testing.T) {
	tests := [][4]uint64{
		{0x200000, 0, 0x200000, 0},
		{0x200000, 1, 0x200000, 0x1000},
		{0x200000, 0x1000, 0x200000, 0x1000},
		{0x200010, 0x1000, 0x200000, 0x2000},
	}
	for _, v := range tests {
		addr, size := Align(v[0], v[1])
		if addr != v[2] || size != v[3] {
			t.Errorf("Align(%#x, %#x) = (%#x, %#x), expecting (%#x, %#x)", v[0], v[1], addr, size, v[2], v[3])
		}
	}
}

func TestRegionString(t *testing.T) {
	r := &Region{Addr: 0x100000, Size: 0x2000, Prot: PROT_READ | PROT_WRITE, Desc: "stack"}
	if s := r.String(); s != "0x100000-0x102000 rw- [stack]" {
		t.Fatalf("bad region string: %q", s)
	}
}
