// Package mock provides a scriptable models.Engine for harness tests.
package mock

import (
	"github.com/lunixbochs/shemufuzz/go/models"
)

// Snapshot records the context an engine was handed, minus host pointers.
type Snapshot struct {
	Arch     models.Arch
	Ring     int
	Regs     models.Registers
	Segments models.Segments
	TibBase  uint64

	ShellcodeAddr, ShellcodeSize uint64
	StackAddr, StackSize         uint64
	ScratchSize                  uint64
	StackLen, ScratchLen         int

	Mode            models.AccessMode
	MaxInstructions uint64
	Options         models.Options

	// Input is a copy of the shellcode bytes on entry.
	Input []byte
	// StackZero and ScratchZero report whether those regions were zeroed on entry.
	StackZero, ScratchZero bool
}

type Engine struct {
	Status models.Status
	// Fn, when set, runs against the context and supplies the status.
	Fn func(ctx *models.Context) models.Status

	Runs []Snapshot
}

func (e *Engine) Emulate(ctx *models.Context) models.Status {
	e.Runs = append(e.Runs, Snap(ctx))
	if e.Fn != nil {
		return e.Fn(ctx)
	}
	return e.Status
}

func zero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

func Snap(ctx *models.Context) Snapshot {
	return Snapshot{
		Arch:     ctx.Arch,
		Ring:     ctx.Ring,
		Regs:     ctx.Regs,
		Segments: ctx.Segments,
		TibBase:  ctx.TibBase,

		ShellcodeAddr: ctx.Shellcode.Addr,
		ShellcodeSize: ctx.Shellcode.Size,
		StackAddr:     ctx.Stack.Addr,
		StackSize:     ctx.Stack.Size,
		ScratchSize:   ctx.Scratch.Size,
		StackLen:      len(ctx.Stack.Data),
		ScratchLen:    len(ctx.Scratch.Data),

		Mode:            ctx.Access.Mode(),
		MaxInstructions: ctx.MaxInstructions,
		Options:         ctx.Options,

		Input:       append([]byte(nil), ctx.Shellcode.Data...),
		StackZero:   zero(ctx.Stack.Data),
		ScratchZero: zero(ctx.Scratch.Data),
	}
}

// Store writes p at guest address addr of the shellcode region the way an
// engine would: in place for direct access, through the callback otherwise.
func Store(ctx *models.Context, addr uint64, p []byte) {
	switch a := ctx.Access.(type) {
	case *models.CallbackAccess:
		a.Fn(ctx, addr, p, true)
	default:
		copy(ctx.Shellcode.Data[addr-ctx.Shellcode.Addr:], p)
	}
}

// Fill returns an Fn that overwrites the whole shellcode region with b and
// dirties the stack and scratch regions.
func Fill(b byte, status models.Status) func(ctx *models.Context) models.Status {
	return func(ctx *models.Context) models.Status {
		p := make([]byte, ctx.Shellcode.Size)
		for i := range p {
			p[i] = b
		}
		Store(ctx, ctx.Shellcode.Addr, p)
		for i := range ctx.Stack.Data {
			ctx.Stack.Data[i] = b
		}
		for i := range ctx.Scratch.Data {
			ctx.Scratch.Data[i] = b
		}
		ctx.Regs[models.REG_RAX] = uint64(b)
		ctx.Instructions = ctx.Shellcode.Size
		return status
	}
}
