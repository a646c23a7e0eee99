package models

import "fmt"

// Status is the outcome an Engine reports for one run. The harness only logs it.
type Status uint32

const (
	StatusSuccess Status = 0

	StatusAbortInstructionCount Status = 0x80000000 | iota
	StatusAbortInvalidInstruction
	StatusAbortUnsupportedInstruction
	StatusAbortRipOutside
	StatusAbortReadFault
	StatusAbortWriteFault
	StatusAbortFetchFault
	StatusAbortCpuException
	StatusAbortUnaligned
	StatusInternalError Status = 0xC0000001
)

var statusNames = map[Status]string{
	StatusSuccess:                     "success",
	StatusAbortInstructionCount:       "instruction count exceeded",
	StatusAbortInvalidInstruction:     "invalid instruction",
	StatusAbortUnsupportedInstruction: "unsupported instruction",
	StatusAbortRipOutside:             "rip outside shellcode",
	StatusAbortReadFault:              "read fault",
	StatusAbortWriteFault:             "write fault",
	StatusAbortFetchFault:             "fetch fault",
	StatusAbortCpuException:           "cpu exception",
	StatusAbortUnaligned:              "unaligned access",
	StatusInternalError:               "internal engine error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%08x", uint32(s))
}
