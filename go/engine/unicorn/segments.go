package unicorn

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/shemufuzz/go/models"
	"github.com/lunixbochs/shemufuzz/go/models/mem"
)

// DefaultGdtBase is where the 32-bit descriptor table is mapped.
const DefaultGdtBase = 0xC0000000

// descriptor access bytes and flag nibbles
const (
	accessCode = 0x9A // present, code, readable
	accessData = 0x92 // present, data, writable
	dplShift   = 5

	flagsPage32 = 0xC // 4k granularity, 32-bit
	flagsByte32 = 0x4 // byte granularity, 32-bit
)

type gdtEntry struct {
	LimitLow   uint16
	BaseLow    uint16
	BaseMid    uint8
	Access     uint8
	LimitFlags uint8
	BaseHigh   uint8
}

func newGdtEntry(base uint64, limit uint32, access, flags uint8) gdtEntry {
	return gdtEntry{
		LimitLow:   uint16(limit),
		BaseLow:    uint16(base),
		BaseMid:    uint8(base >> 16),
		Access:     access,
		LimitFlags: uint8(limit>>16)&0xf | flags<<4,
		BaseHigh:   uint8(base >> 24),
	}
}

// gdtImage builds a flat descriptor table covering the selectors in seg,
// with every descriptor at privilege level ring.
func gdtImage(seg *models.Segments, ring int) ([]byte, error) {
	if ring < 0 || ring > 3 {
		return nil, errors.Errorf("invalid ring %d", ring)
	}
	dpl := uint8(ring) << dplShift
	entries := make([]gdtEntry, seg.FS.Selector>>3+1)
	code := newGdtEntry(0, 0xfffff, accessCode|dpl, flagsPage32)
	data := newGdtEntry(0, 0xfffff, accessData|dpl, flagsPage32)
	tib := newGdtEntry(seg.FS.Base, seg.FS.Limit, accessData|dpl, flagsByte32)
	for _, s := range []struct {
		sel uint16
		e   gdtEntry
	}{
		{seg.CS.Selector, code},
		{seg.DS.Selector, data},
		{seg.FS.Selector, tib},
	} {
		idx := int(s.sel >> 3)
		if idx == 0 || idx >= len(entries) {
			return nil, errors.Errorf("selector 0x%x outside descriptor table", s.sel)
		}
		entries[idx] = s.e
	}
	var buf bytes.Buffer
	for i := range entries {
		if err := struc.PackWithOrder(&buf, &entries[i], binary.LittleEndian); err != nil {
			return nil, errors.Wrap(err, "struc.Pack() failed")
		}
	}
	return buf.Bytes(), nil
}

// NT_TIB layouts
type tib32 struct {
	ExceptionList        uint64 `struc:"uint32"`
	StackBase            uint64 `struc:"uint32"`
	StackLimit           uint64 `struc:"uint32"`
	SubSystemTib         uint64 `struc:"uint32"`
	FiberData            uint64 `struc:"uint32"`
	ArbitraryUserPointer uint64 `struc:"uint32"`
	Self                 uint64 `struc:"uint32"`
}

type tib64 struct {
	ExceptionList        uint64 `struc:"uint64"`
	StackBase            uint64 `struc:"uint64"`
	StackLimit           uint64 `struc:"uint64"`
	SubSystemTib         uint64 `struc:"uint64"`
	FiberData            uint64 `struc:"uint64"`
	ArbitraryUserPointer uint64 `struc:"uint64"`
	Self                 uint64 `struc:"uint64"`
}

// tibImage returns the thread information block the guest sees through fs
// or gs: no exception handlers and the synthetic stack bounds.
func tibImage(ctx *models.Context) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	top := ctx.Stack.Addr + ctx.Stack.Size
	if ctx.Arch == models.ArchX86 {
		t := tib32{ExceptionList: 0xffffffff, StackBase: top, StackLimit: ctx.Stack.Addr, Self: ctx.TibBase}
		err = struc.PackWithOrder(&buf, &t, binary.LittleEndian)
	} else {
		t := tib64{ExceptionList: ^uint64(0), StackBase: top, StackLimit: ctx.Stack.Addr, Self: ctx.TibBase}
		err = struc.PackWithOrder(&buf, &t, binary.LittleEndian)
	}
	return buf.Bytes(), errors.Wrap(err, "struc.Pack() failed")
}

func (r *run) mapTib() error {
	img, err := tibImage(r.ctx)
	if err != nil {
		return err
	}
	addr, size := mem.Align(r.ctx.TibBase, TibSize)
	if err := r.mu.MemMapProt(addr, size, uc.PROT_READ|uc.PROT_WRITE); err != nil {
		return errors.Wrap(err, "failed to map tib")
	}
	return errors.Wrap(r.mu.MemWrite(r.ctx.TibBase, img), "failed to write tib")
}

// loadSegments installs the segment registers. 64-bit code only gets the
// fs and gs bases and keeps the emulator's flat ring 0 segments; 32-bit code
// gets real descriptors in a mapped GDT and runs at ctx.Ring.
func (r *run) loadSegments() error {
	seg := &r.ctx.Segments
	if r.ctx.Arch == models.ArchX64 {
		if err := r.mu.RegWrite(uc.X86_REG_FS_BASE, seg.FS.Base); err != nil {
			return errors.Wrap(err, "failed to set fs base")
		}
		return errors.Wrap(r.mu.RegWrite(uc.X86_REG_GS_BASE, seg.GS.Base), "failed to set gs base")
	}

	ring := r.ctx.Ring
	img, err := gdtImage(seg, ring)
	if err != nil {
		return err
	}
	gdt := r.engine.GdtBase
	if err := r.mu.MemMapProt(gdt, mem.PageSize, uc.PROT_READ|uc.PROT_WRITE); err != nil {
		return errors.Wrap(err, "failed to map gdt")
	}
	if err := r.mu.MemWrite(gdt, img); err != nil {
		return errors.Wrap(err, "failed to write gdt")
	}
	if err := r.mu.RegWriteMmr(uc.X86_REG_GDTR, &uc.X86Mmr{Base: gdt, Limit: uint32(len(img) - 1)}); err != nil {
		return errors.Wrap(err, "failed to load gdtr")
	}
	// cs goes first: it sets cpl, and ss must then match it in rpl and dpl
	for _, s := range []struct {
		reg  int
		sel  uint16
		name string
	}{
		{uc.X86_REG_CS, seg.CS.Selector, "cs"},
		{uc.X86_REG_SS, seg.SS.Selector, "ss"},
		{uc.X86_REG_DS, seg.DS.Selector, "ds"},
		{uc.X86_REG_ES, seg.ES.Selector, "es"},
		{uc.X86_REG_FS, seg.FS.Selector, "fs"},
		{uc.X86_REG_GS, seg.GS.Selector, "gs"},
	} {
		if err := r.mu.RegWrite(s.reg, uint64(s.sel|uint16(ring))); err != nil {
			return errors.Wrapf(err, "failed to load %s", s.name)
		}
	}
	return nil
}
