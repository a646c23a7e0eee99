package models

import (
	"fmt"

	"github.com/lunixbochs/shemufuzz/go/models/mem"
)

// register enums, in x86 encoding order
const (
	REG_RAX = iota
	REG_RCX
	REG_RDX
	REG_RBX
	REG_RSP
	REG_RBP
	REG_RSI
	REG_RDI
	REG_R8
	REG_R9
	REG_R10
	REG_R11
	REG_R12
	REG_R13
	REG_R14
	REG_R15
	REG_RIP
	REG_RFLAGS

	REG_COUNT
)

const (
	FLAG_RESERVED = 1 << 1
	FLAG_IF       = 1 << 9
)

// flat ring-3 selectors
const (
	SEL_CODE = 0x10
	SEL_DATA = 0x28
	SEL_TIB  = 0x30
)

// Registers is the general purpose register file plus rip and rflags, indexed by REG_*.
type Registers [REG_COUNT]uint64

type Segment struct {
	Selector uint16
	Base     uint64
	Limit    uint32
}

type Segments struct {
	CS, DS, ES, SS, FS, GS Segment
}

type Options uint32

const (
	OptTraceEmulation Options = 1 << iota
	OptSupportAES
	OptSupportAPX
	OptDirectMappedShell

	DefaultOptions = OptTraceEmulation | OptSupportAES | OptSupportAPX
)

func (o Options) Has(opt Options) bool { return o&opt == opt }

// Flags are set by the engine to report what the shellcode did.
type Flags uint32

const (
	FlagSyscall Flags = 1 << iota
	FlagSelfWrite
	FlagTibAccess
	FlagStackExec
)

func (f Flags) String() string {
	names := []string{"syscall", "selfwrite", "tib", "stackexec"}
	s := ""
	for i, name := range names {
		if f&(1<<uint(i)) != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// LogSink receives free-form engine trace output.
type LogSink func(msg string)

func NopSink(string) {}

// Context is the complete synthetic machine handed to an Engine for one run.
type Context struct {
	Arch Arch
	Ring int

	Regs     Registers
	Segments Segments
	TibBase  uint64

	Shellcode mem.Region
	Stack     mem.Region
	Scratch   mem.Region

	Access          Access
	MaxInstructions uint64
	Options         Options
	Log             LogSink

	// written by the engine
	Flags        Flags
	Instructions uint64
}

func (c *Context) Logf(format string, args ...interface{}) {
	if c.Log != nil && c.Options.Has(OptTraceEmulation) {
		c.Log(fmt.Sprintf(format, args...))
	}
}

// Engine emulates the shellcode described by a Context until it completes,
// faults or exhausts MaxInstructions.
type Engine interface {
	Emulate(ctx *Context) Status
}
