package cpu

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// Ins is one decoded instruction.
type Ins struct {
	Addr     uint64
	Bytes    []byte
	Mnemonic string
	OpStr    string

	Inst x86asm.Inst
}

type discacheEntry struct {
	mem []byte
	dis []Ins
}

type discache struct {
	sync.RWMutex
	cache map[uint64]*discacheEntry
}

func (d *discache) Get(addr uint64, mem []byte) *discacheEntry {
	d.RLock()
	defer d.RUnlock()

	if ent, ok := d.cache[addr]; ok {
		if bytes.Equal(mem, ent.mem) {
			return ent
		}
	}
	return nil
}

func (d *discache) Put(addr uint64, mem []byte, dis []Ins) {
	d.Lock()
	defer d.Unlock()

	if d.cache == nil {
		d.cache = make(map[uint64]*discacheEntry)
	}
	d.cache[addr] = &discacheEntry{
		mem: append([]byte(nil), mem...),
		dis: dis,
	}
}

// X86 disassembles 32 or 64-bit x86 code. The zero value is not usable;
// set Bits first.
type X86 struct {
	Bits int

	dc discache
}

// Dis decodes every instruction in mem. Undecodable bytes stop decoding
// with an error after the instructions decoded so far.
func (x *X86) Dis(mem []byte, addr uint64) ([]Ins, error) {
	if x.Bits != 32 && x.Bits != 64 {
		return nil, errors.Errorf("unsupported x86 mode: %d bits", x.Bits)
	}
	if ent := x.dc.Get(addr, mem); ent != nil {
		return ent.dis, nil
	}
	var ret []Ins
	for off := 0; off < len(mem); {
		inst, err := x86asm.Decode(mem[off:], x.Bits)
		if err != nil {
			return ret, errors.Wrapf(err, "decode failed at 0x%x", addr+uint64(off))
		}
		pc := addr + uint64(off)
		ret = append(ret, newIns(inst, mem[off:off+inst.Len], pc))
		off += inst.Len
	}
	x.dc.Put(addr, mem, ret)
	return ret, nil
}

// One decodes the single instruction at the start of mem.
func (x *X86) One(mem []byte, addr uint64) (Ins, error) {
	inst, err := x86asm.Decode(mem, x.Bits)
	if err != nil {
		return Ins{}, errors.Wrapf(err, "decode failed at 0x%x", addr)
	}
	return newIns(inst, mem[:inst.Len], addr), nil
}

func newIns(inst x86asm.Inst, raw []byte, pc uint64) Ins {
	text := x86asm.IntelSyntax(inst, pc, nil)
	mnemonic, opstr := text, ""
	if i := strings.IndexByte(text, ' '); i >= 0 {
		mnemonic, opstr = text[:i], text[i+1:]
	}
	return Ins{
		Addr:     pc,
		Bytes:    append([]byte(nil), raw...),
		Mnemonic: mnemonic,
		OpStr:    opstr,
		Inst:     inst,
	}
}

// Disas renders mem as one "0x<addr>: <bytes> <mnemonic> <operands>" line per
// instruction. Bytes that do not decode are emitted as ".byte" lines.
func (x *X86) Disas(mem []byte, addr uint64) string {
	var out []string
	for off := 0; off < len(mem); {
		pc := addr + uint64(off)
		ins, err := x.One(mem[off:], pc)
		if err != nil {
			out = append(out, fmt.Sprintf("0x%x: %02x .byte 0x%02x", pc, mem[off], mem[off]))
			off++
			continue
		}
		out = append(out, ins.String())
		off += len(ins.Bytes)
	}
	return strings.Join(out, "\n")
}

func (i Ins) String() string {
	s := fmt.Sprintf("0x%x: %s %s", i.Addr, hex.EncodeToString(i.Bytes), i.Mnemonic)
	if i.OpStr != "" {
		s += " " + i.OpStr
	}
	return s
}

var aesOps = map[x86asm.Op]bool{
	x86asm.AESDEC:          true,
	x86asm.AESDECLAST:      true,
	x86asm.AESENC:          true,
	x86asm.AESENCLAST:      true,
	x86asm.AESIMC:          true,
	x86asm.AESKEYGENASSIST: true,
}

// IsAES reports whether ins is an AES-NI instruction.
func (i Ins) IsAES() bool {
	return aesOps[i.Inst.Op]
}

func isLegacyPrefix(b byte) bool {
	switch b {
	case 0x26, 0x2e, 0x36, 0x3e, 0x64, 0x65, 0x66, 0x67, 0xf0, 0xf2, 0xf3:
		return true
	}
	return false
}

// IsAPX reports whether mem starts with an instruction using the REX2 prefix
// of the advanced performance extensions. REX2 only exists in 64-bit mode.
func IsAPX(mem []byte, bits int) bool {
	if bits != 64 {
		return false
	}
	for _, b := range mem {
		if !isLegacyPrefix(b) {
			return b == 0xd5
		}
	}
	return false
}
