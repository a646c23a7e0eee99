package shemu

import (
	"go.uber.org/zap"

	"github.com/lunixbochs/shemufuzz/go/log"
	"github.com/lunixbochs/shemufuzz/go/models"
	"github.com/lunixbochs/shemufuzz/go/models/mem"
)

// Runner runs one engine emulation per input.
type Runner struct {
	Config *models.Config
	Engine models.Engine
	Alloc  mem.Allocator
	Access models.Access
	Log    *log.Logger

	sink models.LogSink
}

// NewRunner wires a Runner for c. A nil logger is replaced by a no-op one.
func NewRunner(c *models.Config, engine models.Engine, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.NewNop()
	}
	r := &Runner{
		Config: c,
		Engine: engine,
		Alloc:  &mem.Heap{},
		Access: NewAccess(c.Access),
		Log:    logger,
	}
	if c.Trace {
		r.sink = logger.Sink()
	} else {
		r.sink = models.NopSink
	}
	return r
}

// Build creates the context for buf with the runner's allocator, strategy and sink.
func (r *Runner) Build(buf []byte) (*models.Context, error) {
	return Build(buf, r.Config, r.Alloc, r.Access, r.sink)
}

// Run emulates buf once. The returned error is only ever a context
// construction failure; the engine outcome is the returned Status. The
// engine may modify buf.
func (r *Runner) Run(buf []byte) (models.Status, error) {
	ctx, err := r.Build(buf)
	if err != nil {
		r.Log.Error("context build failed", zap.Error(err), log.Size(uint64(len(buf))))
		return 0, err
	}
	defer Release(ctx, r.Alloc)

	initial := ctx.Regs
	status := r.Engine.Emulate(ctx)

	ctx.Logf("[+] Shemu returned: 0x%08x\n", uint32(status))
	r.Log.Debug("emulation finished",
		log.Status(status),
		zap.Stringer("outcome", status),
		zap.Stringer("flags", ctx.Flags),
		zap.Uint64("instructions", ctx.Instructions),
		log.Addr(ctx.Regs[models.REG_RIP]),
		log.Size(ctx.Shellcode.Size),
	)
	if ctx.Options.Has(models.OptTraceEmulation) {
		if cs := models.DiffRegs(ctx.Arch, &initial, &ctx.Regs, true); cs.Count() > 0 {
			ctx.Logf("registers:\n%s", cs.String(r.Config.Color))
		}
	}
	return status, nil
}
