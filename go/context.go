package shemu

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/shemufuzz/go/models"
	"github.com/lunixbochs/shemufuzz/go/models/mem"
)

var ErrLayout = errors.New("overlapping context layout")

// TibSize is the guest size reserved for the thread information block.
const TibSize = mem.PageSize

// Build assembles the execution context for one run over buf. buf becomes
// the shellcode region as-is; the engine may write to it. On error nothing
// stays allocated.
func Build(buf []byte, c *models.Config, alloc mem.Allocator, access models.Access, sink models.LogSink) (*models.Context, error) {
	l := c.Layout
	size := uint64(len(buf))

	stack, err := alloc.Alloc(l.StackSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate stack")
	}
	scratch, err := alloc.Alloc(size + l.ScratchPad)
	if err != nil {
		alloc.Free(stack)
		return nil, errors.Wrap(err, "failed to allocate scratch")
	}
	if sink == nil {
		sink = models.NopSink
	}

	ctx := &models.Context{
		Arch: c.Arch,
		Ring: 3,

		Shellcode: mem.Region{Addr: l.ShellcodeBase, Size: size, Prot: mem.PROT_ALL, Data: buf, Desc: "shellcode"},
		Stack:     mem.Region{Addr: l.StackBase, Size: l.StackSize, Prot: mem.PROT_READ | mem.PROT_WRITE, Data: stack, Desc: "stack"},
		Scratch:   mem.Region{Size: size + l.ScratchPad, Data: scratch, Desc: "scratch"},

		Access:          access,
		MaxInstructions: l.MaxInstructions,
		Options:         c.Options(),
		Log:             sink,
	}
	if access.Mode() == models.AccessDirect {
		ctx.Options |= models.OptDirectMappedShell
	} else {
		ctx.Options &^= models.OptDirectMappedShell
	}

	ctx.Regs[models.REG_RIP] = l.ShellcodeBase
	ctx.Regs[models.REG_RSP] = l.StackBase + l.StackOffset
	ctx.Regs[models.REG_RFLAGS] = models.FLAG_IF | models.FLAG_RESERVED

	seg := &ctx.Segments
	seg.CS.Selector = models.SEL_CODE
	seg.DS.Selector = models.SEL_DATA
	seg.ES.Selector = models.SEL_DATA
	seg.SS.Selector = models.SEL_DATA
	seg.FS = models.Segment{Selector: models.SEL_TIB, Base: l.TibBase, Limit: TibSize - 1}
	seg.GS = models.Segment{Selector: models.SEL_TIB, Base: l.TibBase, Limit: TibSize - 1}
	// 32-bit code finds its TIB through fs, 64-bit through gs
	if ctx.Arch == models.ArchX86 {
		ctx.TibBase = seg.FS.Base
	} else {
		ctx.TibBase = seg.GS.Base
	}

	tib := &mem.Region{Addr: ctx.TibBase, Size: TibSize, Desc: "tib"}
	if a, b, ok := (mem.Regions{&ctx.Shellcode, &ctx.Stack, tib}).Overlapping(); ok {
		Release(ctx, alloc)
		return nil, errors.Wrapf(ErrLayout, "%s overlaps %s", a, b)
	}
	return ctx, nil
}

// Release returns the stack and scratch regions to alloc. The shellcode
// region belongs to the caller and is left alone.
func Release(ctx *models.Context, alloc mem.Allocator) {
	alloc.Free(ctx.Scratch.Data)
	alloc.Free(ctx.Stack.Data)
	ctx.Scratch.Data = nil
	ctx.Stack.Data = nil
}
