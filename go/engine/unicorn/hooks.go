package unicorn

import (
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/shemufuzz/go/cpu"
	"github.com/lunixbochs/shemufuzz/go/models"
)

type hookSpec struct {
	name       string
	htype      int
	cb         interface{}
	begin, end uint64
	extra      []int
}

// begin > end hooks every address
func (r *run) addHooks() error {
	ctx := r.ctx
	hooks := []hookSpec{
		{"code", uc.HOOK_CODE, r.onCode, 1, 0, nil},
		{"interrupt", uc.HOOK_INTR, r.onInterrupt, 1, 0, nil},
		{"self-write", uc.HOOK_MEM_WRITE, r.onSelfWrite,
			ctx.Shellcode.Addr, ctx.Shellcode.Addr + ctx.Shellcode.Size - 1, nil},
		{"tib", uc.HOOK_MEM_READ | uc.HOOK_MEM_WRITE, r.onTib,
			ctx.TibBase, ctx.TibBase + TibSize - 1, nil},
	}
	if ctx.Arch == models.ArchX64 {
		hooks = append(hooks, hookSpec{"syscall", uc.HOOK_INSN, r.onSyscall, 1, 0, []int{uc.X86_INS_SYSCALL}})
	}
	if ctx.Options.Has(models.OptTraceEmulation) {
		hooks = append(hooks, hookSpec{"trace", uc.HOOK_BLOCK, r.onTrace, 1, 0, nil})
	}
	if block := r.engine.Block; block != nil {
		cb := func(_ uc.Unicorn, addr uint64, size uint32) { block(addr, size) }
		hooks = append(hooks, hookSpec{"block", uc.HOOK_BLOCK, cb, 1, 0, nil})
	}
	for _, h := range hooks {
		if _, err := r.mu.HookAdd(h.htype, h.cb, h.begin, h.end, h.extra...); err != nil {
			return errors.Wrapf(err, "failed to add %s hook", h.name)
		}
	}
	return nil
}

func (r *run) onCode(_ uc.Unicorn, addr uint64, size uint32) {
	ctx := r.ctx
	if addr == ctx.Shellcode.Addr+ctx.Shellcode.Size {
		// falling off the end is a normal exit
		return
	}
	if ctx.Instructions >= ctx.MaxInstructions {
		r.stop(models.StatusAbortInstructionCount)
		return
	}
	switch r.exec.Find(addr) {
	case &ctx.Shellcode:
	case &ctx.Stack:
		ctx.Flags |= models.FlagStackExec
	default:
		r.stop(models.StatusAbortRipOutside)
		return
	}

	gateAES := !ctx.Options.Has(models.OptSupportAES)
	gateAPX := !ctx.Options.Has(models.OptSupportAPX) && ctx.Arch == models.ArchX64
	if size > 0 && (gateAES || gateAPX) {
		raw, err := r.mu.MemRead(addr, uint64(size))
		if err != nil {
			r.stop(models.StatusAbortFetchFault)
			return
		}
		if gateAPX && cpu.IsAPX(raw, 64) {
			ctx.Logf("0x%x: unsupported apx instruction\n", addr)
			r.stop(models.StatusAbortUnsupportedInstruction)
			return
		}
		if gateAES {
			if ins, err := r.dis.One(raw, addr); err == nil && ins.IsAES() {
				ctx.Logf("0x%x: unsupported aes instruction %s\n", addr, ins.Mnemonic)
				r.stop(models.StatusAbortUnsupportedInstruction)
				return
			}
		}
	}
	ctx.Instructions++
}

// onTrace logs each basic block as it is entered, clipped to the region it
// starts in.
func (r *run) onTrace(_ uc.Unicorn, addr uint64, size uint32) {
	region := r.exec.Find(addr)
	if region == nil || size == 0 {
		return
	}
	n := uint64(size)
	if end := region.Addr + region.Size; addr+n > end {
		n = end - addr
	}
	raw, err := r.mu.MemRead(addr, n)
	if err != nil {
		return
	}
	dis, err := r.dis.Dis(raw, addr)
	for _, ins := range dis {
		r.ctx.Logf("%s\n", ins)
	}
	if err != nil {
		var off uint64
		for _, ins := range dis {
			off += uint64(len(ins.Bytes))
		}
		r.ctx.Logf("0x%x: (bad)\n", addr+off)
	}
}

func (r *run) onInterrupt(_ uc.Unicorn, intno uint32) {
	switch intno {
	case 0x80, 0x2e:
		r.ctx.Flags |= models.FlagSyscall
	default:
		r.ctx.Logf("[!] interrupt 0x%x\n", intno)
		r.stop(models.StatusAbortCpuException)
	}
}

func (r *run) onSyscall(_ uc.Unicorn) {
	r.ctx.Flags |= models.FlagSyscall
}

func (r *run) onSelfWrite(_ uc.Unicorn, access int, addr uint64, size int, value int64) {
	r.ctx.Flags |= models.FlagSelfWrite
}

func (r *run) onTib(_ uc.Unicorn, access int, addr uint64, size int, value int64) {
	r.ctx.Flags |= models.FlagTibAccess
}
