// Package unicorn emulates shellcode contexts on the Unicorn CPU emulator.
package unicorn

import (
	"sync"

	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"go.uber.org/zap"

	"github.com/lunixbochs/shemufuzz/go/cpu"
	"github.com/lunixbochs/shemufuzz/go/log"
	"github.com/lunixbochs/shemufuzz/go/models"
	"github.com/lunixbochs/shemufuzz/go/models/mem"
)

const TibSize = mem.PageSize

var regs32 = [models.REG_COUNT]int{
	models.REG_RAX:    uc.X86_REG_EAX,
	models.REG_RCX:    uc.X86_REG_ECX,
	models.REG_RDX:    uc.X86_REG_EDX,
	models.REG_RBX:    uc.X86_REG_EBX,
	models.REG_RSP:    uc.X86_REG_ESP,
	models.REG_RBP:    uc.X86_REG_EBP,
	models.REG_RSI:    uc.X86_REG_ESI,
	models.REG_RDI:    uc.X86_REG_EDI,
	models.REG_RIP:    uc.X86_REG_EIP,
	models.REG_RFLAGS: uc.X86_REG_EFLAGS,
}

var regs64 = [models.REG_COUNT]int{
	models.REG_RAX:    uc.X86_REG_RAX,
	models.REG_RCX:    uc.X86_REG_RCX,
	models.REG_RDX:    uc.X86_REG_RDX,
	models.REG_RBX:    uc.X86_REG_RBX,
	models.REG_RSP:    uc.X86_REG_RSP,
	models.REG_RBP:    uc.X86_REG_RBP,
	models.REG_RSI:    uc.X86_REG_RSI,
	models.REG_RDI:    uc.X86_REG_RDI,
	models.REG_R8:     uc.X86_REG_R8,
	models.REG_R9:     uc.X86_REG_R9,
	models.REG_R10:    uc.X86_REG_R10,
	models.REG_R11:    uc.X86_REG_R11,
	models.REG_R12:    uc.X86_REG_R12,
	models.REG_R13:    uc.X86_REG_R13,
	models.REG_R14:    uc.X86_REG_R14,
	models.REG_R15:    uc.X86_REG_R15,
	models.REG_RIP:    uc.X86_REG_RIP,
	models.REG_RFLAGS: uc.X86_REG_EFLAGS,
}

// Engine is a models.Engine backed by a fresh Unicorn instance per run.
// Disassembly for tracing is cached across runs.
type Engine struct {
	// Block, when set, is called on entry to every basic block.
	Block   func(addr uint64, size uint32)
	GdtBase uint64
	Log     *log.Logger

	x86, x64 cpu.X86

	lock sync.Mutex
	cur  *run
}

func New(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		GdtBase: DefaultGdtBase,
		Log:     logger,
		x86:     cpu.X86{Bits: 32},
		x64:     cpu.X86{Bits: 64},
	}
}

// Stop ends the emulation in progress, if any, as if its instruction budget
// ran out. It may be called from any goroutine.
func (e *Engine) Stop() {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.cur != nil {
		e.cur.stop(models.StatusAbortInstructionCount)
	}
}

func (e *Engine) setCurrent(r *run) {
	e.lock.Lock()
	e.cur = r
	e.lock.Unlock()
}

// run is the state of a single Emulate call.
type run struct {
	engine *Engine
	ctx    *models.Context
	mu     uc.Unicorn
	dis    *cpu.X86
	regs   *[models.REG_COUNT]int
	// executable regions, sorted
	exec mem.Regions

	lock    sync.Mutex
	status  models.Status
	stopped bool
}

func (e *Engine) Emulate(ctx *models.Context) models.Status {
	if ctx.Shellcode.Size == 0 {
		ctx.Logf("[!] empty shellcode\n")
		return models.StatusAbortRipOutside
	}
	mode, regs, dis := uc.MODE_64, &regs64, &e.x64
	if ctx.Arch == models.ArchX86 {
		mode, regs, dis = uc.MODE_32, &regs32, &e.x86
	}
	mu, err := uc.NewUnicorn(uc.ARCH_X86, mode)
	if err != nil {
		e.Log.Error("NewUnicorn() failed", zap.Error(err))
		return models.StatusInternalError
	}
	defer mu.Close()

	r := &run{engine: e, ctx: ctx, mu: mu, dis: dis, regs: regs}
	r.exec = mem.Regions{&ctx.Shellcode, &ctx.Stack}.Sorted()
	if err := r.setup(); err != nil {
		e.Log.Error("engine setup failed", zap.Error(err))
		return models.StatusInternalError
	}
	e.setCurrent(r)
	defer e.setCurrent(nil)
	return r.start()
}

func (r *run) setup() error {
	ctx := r.ctx
	if err := r.mapStack(); err != nil {
		return err
	}
	if err := r.mapShellcode(); err != nil {
		return err
	}
	if err := r.mapTib(); err != nil {
		return err
	}
	if err := r.loadSegments(); err != nil {
		// flat segments still run most shellcode
		r.engine.Log.Warn("segment setup failed", zap.Error(err), zap.Stringer("arch", ctx.Arch))
	}
	for enum, reg := range r.regs {
		if reg == uc.X86_REG_INVALID {
			continue
		}
		if err := r.mu.RegWrite(reg, ctx.Regs[enum]); err != nil {
			return errors.Wrapf(err, "failed to write %s", ctx.Arch.RegName(enum))
		}
	}
	return r.addHooks()
}

func (r *run) mapStack() error {
	s := &r.ctx.Stack
	addr, size := s.Mapped()
	if err := r.mu.MemMapProt(addr, size, uc.PROT_ALL); err != nil {
		return errors.Wrapf(err, "failed to map %s", s)
	}
	return errors.Wrap(r.mu.MemWrite(s.Addr, s.Data), "failed to write stack")
}

// mapShellcode loads the shellcode image. Direct access writes the region
// as-is; callback access stages it through scratch.
func (r *run) mapShellcode() error {
	s := &r.ctx.Shellcode
	addr, size := s.Mapped()
	if err := r.mu.MemMapProt(addr, size, uc.PROT_ALL); err != nil {
		return errors.Wrapf(err, "failed to map %s", s)
	}
	image := s.Data
	if a, ok := r.ctx.Access.(*models.CallbackAccess); ok {
		image = r.ctx.Scratch.Data[:s.Size]
		if !a.Fn(r.ctx, s.Addr, image, false) {
			return errors.New("shellcode load callback failed")
		}
	}
	return errors.Wrap(r.mu.MemWrite(s.Addr, image), "failed to write shellcode")
}

// sync copies the guest state back into the context after a run.
func (r *run) sync() {
	ctx := r.ctx
	for enum, reg := range r.regs {
		if reg == uc.X86_REG_INVALID {
			continue
		}
		if val, err := r.mu.RegRead(reg); err == nil {
			ctx.Regs[enum] = val
		}
	}
	if err := r.mu.MemReadInto(ctx.Stack.Data, ctx.Stack.Addr); err != nil {
		r.engine.Log.Warn("stack readback failed", zap.Error(err))
	}
	if ctx.Flags&models.FlagSelfWrite == 0 {
		return
	}
	s := &ctx.Shellcode
	switch a := ctx.Access.(type) {
	case *models.CallbackAccess:
		image := ctx.Scratch.Data[:s.Size]
		if err := r.mu.MemReadInto(image, s.Addr); err == nil {
			a.Fn(ctx, s.Addr, image, true)
		}
	default:
		if err := r.mu.MemReadInto(s.Data, s.Addr); err != nil {
			r.engine.Log.Warn("shellcode readback failed", zap.Error(err))
		}
	}
}

func (r *run) stop(status models.Status) {
	r.lock.Lock()
	if !r.stopped {
		r.status = status
		r.stopped = true
	}
	r.lock.Unlock()
	r.mu.Stop()
}

func (r *run) start() models.Status {
	ctx := r.ctx
	begin := ctx.Shellcode.Addr
	err := r.mu.Start(begin, begin+ctx.Shellcode.Size)
	r.sync()
	r.lock.Lock()
	stopped, status := r.stopped, r.status
	r.lock.Unlock()
	switch {
	case stopped:
		return status
	case err != nil:
		status = statusFromError(err)
		ctx.Logf("[!] %s\n", err)
		return status
	}
	return models.StatusSuccess
}
