package models

import (
	"sort"
	"strings"

	"github.com/lunixbochs/fvbommel-util/sortorder"
	"github.com/pkg/errors"
)

type Arch int

const (
	ArchX86 Arch = iota
	ArchX64
)

func (a Arch) Bits() uint {
	if a == ArchX64 {
		return 64
	}
	return 32
}

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchX64:
		return "x64"
	}
	return "unknown"
}

func (a Arch) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Arch) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "x86", "i386", "32":
		*a = ArchX86
	case "x64", "x86_64", "amd64", "64":
		*a = ArchX64
	default:
		return errors.Errorf("unknown arch %q", text)
	}
	return nil
}

type Reg struct {
	Enum int
	Name string
}

type regList []Reg

func (r regList) Len() int           { return len(r) }
func (r regList) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r regList) Less(i, j int) bool { return sortorder.NaturalLess(r[i].Name, r[j].Name) }

var regNames = [...][2]string{
	REG_RAX: {"eax", "rax"},
	REG_RCX: {"ecx", "rcx"},
	REG_RDX: {"edx", "rdx"},
	REG_RBX: {"ebx", "rbx"},
	REG_RSP: {"esp", "rsp"},
	REG_RBP: {"ebp", "rbp"},
	REG_RSI: {"esi", "rsi"},
	REG_RDI: {"edi", "rdi"},
	REG_R8:  {"", "r8"},
	REG_R9:  {"", "r9"},
	REG_R10: {"", "r10"},
	REG_R11: {"", "r11"},
	REG_R12: {"", "r12"},
	REG_R13: {"", "r13"},
	REG_R14: {"", "r14"},
	REG_R15: {"", "r15"},

	REG_RIP:    {"eip", "rip"},
	REG_RFLAGS: {"eflags", "rflags"},
}

var regLists [2]regList

func init() {
	for i := range regLists {
		var rl regList
		for enum, names := range regNames {
			if names[i] != "" {
				rl = append(rl, Reg{Enum: enum, Name: names[i]})
			}
		}
		sort.Sort(rl)
		regLists[i] = rl
	}
}

// Regs returns the architecture's registers in natural name order.
func (a Arch) Regs() []Reg {
	if a == ArchX64 {
		return regLists[1]
	}
	return regLists[0]
}

// RegName returns the architectural name of a register enum.
func (a Arch) RegName(enum int) string {
	if enum < 0 || enum >= len(regNames) {
		return ""
	}
	if a == ArchX64 {
		return regNames[enum][1]
	}
	return regNames[enum][0]
}
