package unicorn

import (
	"encoding/binary"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	shemu "github.com/lunixbochs/shemufuzz/go"
	"github.com/lunixbochs/shemufuzz/go/cpu"
	"github.com/lunixbochs/shemufuzz/go/models"
	"github.com/lunixbochs/shemufuzz/go/models/mem"
)

const base = 0x200000

func assemble(t *testing.T, arch models.Arch, asm string) []byte {
	k, err := cpu.NewKeystone(int(arch.Bits()))
	require.NoError(t, err)
	defer k.Close()
	code, err := k.Asm(asm, base)
	require.NoError(t, err)
	return code
}

// pad extends code with nops so absolute writes at base+0x10 land inside it.
func pad(code []byte, size int) []byte {
	for len(code) < size {
		code = append(code, 0x90)
	}
	return code
}

func emulate(t *testing.T, arch models.Arch, mode models.AccessMode, code []byte) (*models.Context, models.Status) {
	c := models.DefaultConfig()
	c.Arch = arch
	c.Access = mode
	heap := &mem.Heap{}
	ctx, err := shemu.Build(code, c, heap, shemu.NewAccess(mode), nil)
	require.NoError(t, err)
	status := New(nil).Emulate(ctx)
	return ctx, status
}

var arches = []models.Arch{models.ArchX86, models.ArchX64}

func TestFallOffEnd(t *testing.T) {
	for _, arch := range arches {
		ctx, status := emulate(t, arch, models.AccessCallback, assemble(t, arch, "mov eax, 0x1337; inc ecx"))
		assert.Equal(t, models.StatusSuccess, status, "%s", arch)
		assert.Equal(t, uint64(0x1337), ctx.Regs[models.REG_RAX])
		assert.Equal(t, uint64(1), ctx.Regs[models.REG_RCX])
		assert.Equal(t, uint64(2), ctx.Instructions)
		assert.Equal(t, models.Flags(0), ctx.Flags)
	}
}

func TestInstructionBudget(t *testing.T) {
	for _, arch := range arches {
		ctx, status := emulate(t, arch, models.AccessCallback, []byte{0xeb, 0xfe})
		assert.Equal(t, models.StatusAbortInstructionCount, status, "%s", arch)
		assert.Equal(t, uint64(4096), ctx.Instructions)
		assert.Equal(t, uint64(base), ctx.Regs[models.REG_RIP])
	}
}

func TestInvalidInstruction(t *testing.T) {
	for _, arch := range arches {
		_, status := emulate(t, arch, models.AccessDirect, []byte{0x0f, 0x0b})
		assert.Equal(t, models.StatusAbortInvalidInstruction, status, "%s", arch)
	}
}

func TestEmptyShellcode(t *testing.T) {
	_, status := emulate(t, models.ArchX64, models.AccessCallback, nil)
	assert.Equal(t, models.StatusAbortRipOutside, status)
}

func TestRetToNull(t *testing.T) {
	// the stack is zeroed, so ret lands on address 0
	_, status := emulate(t, models.ArchX64, models.AccessCallback, []byte{0xc3})
	assert.Equal(t, models.StatusAbortRipOutside, status)
}

func TestWriteFault(t *testing.T) {
	code := assemble(t, models.ArchX86, "mov byte ptr [0x10], 1")
	_, status := emulate(t, models.ArchX86, models.AccessCallback, code)
	assert.Equal(t, models.StatusAbortWriteFault, status)
}

func TestSelfWrite(t *testing.T) {
	for _, arch := range arches {
		for _, mode := range []models.AccessMode{models.AccessDirect, models.AccessCallback} {
			code := pad(assemble(t, arch, "mov byte ptr [0x200010], 0x41"), 0x20)
			ctx, status := emulate(t, arch, mode, code)
			assert.Equal(t, models.StatusSuccess, status, "%s/%s", arch, mode)
			assert.True(t, ctx.Flags&models.FlagSelfWrite != 0)
			assert.Equal(t, byte(0x41), code[0x10], "%s/%s: write must reach the input buffer", arch, mode)
		}
	}
}

func TestStackWriteBack(t *testing.T) {
	code := assemble(t, models.ArchX64, "mov rax, 0x1122334455667788; push rax")
	ctx, status := emulate(t, models.ArchX64, models.AccessCallback, code)
	assert.Equal(t, models.StatusSuccess, status)
	off := ctx.Regs[models.REG_RSP] - ctx.Stack.Addr
	assert.Equal(t, uint64(0x1000-8), off)
	assert.Equal(t, uint64(0x1122334455667788), binary.LittleEndian.Uint64(ctx.Stack.Data[off:]))
}

func TestTib(t *testing.T) {
	ctx, status := emulate(t, models.ArchX86, models.AccessCallback, assemble(t, models.ArchX86, "mov eax, dword ptr fs:[0x18]"))
	assert.Equal(t, models.StatusSuccess, status)
	assert.Equal(t, ctx.TibBase, ctx.Regs[models.REG_RAX])
	assert.True(t, ctx.Flags&models.FlagTibAccess != 0)

	ctx, status = emulate(t, models.ArchX64, models.AccessCallback, assemble(t, models.ArchX64, "mov rax, qword ptr gs:[0x30]"))
	assert.Equal(t, models.StatusSuccess, status)
	assert.Equal(t, ctx.TibBase, ctx.Regs[models.REG_RAX])
	assert.True(t, ctx.Flags&models.FlagTibAccess != 0)
}

func TestSyscallFlags(t *testing.T) {
	ctx, status := emulate(t, models.ArchX86, models.AccessCallback, []byte{0xcd, 0x80})
	assert.Equal(t, models.StatusSuccess, status)
	assert.Equal(t, models.FlagSyscall, ctx.Flags)

	ctx, status = emulate(t, models.ArchX64, models.AccessCallback, []byte{0x0f, 0x05})
	assert.Equal(t, models.StatusSuccess, status)
	assert.Equal(t, models.FlagSyscall, ctx.Flags)

	// int3 is a plain exception
	_, status = emulate(t, models.ArchX64, models.AccessCallback, []byte{0xcc})
	assert.Equal(t, models.StatusAbortCpuException, status)
}

func TestUnsupportedAES(t *testing.T) {
	aesenc := []byte{0x66, 0x0f, 0x38, 0xdc, 0xc1}
	c := models.DefaultConfig()
	ctx, err := shemu.Build(aesenc, c, &mem.Heap{}, shemu.NewAccess(c.Access), nil)
	require.NoError(t, err)
	ctx.Options &^= models.OptSupportAES
	assert.Equal(t, models.StatusAbortUnsupportedInstruction, New(nil).Emulate(ctx))
	assert.Zero(t, ctx.Instructions)
}

func TestTrace(t *testing.T) {
	c := models.DefaultConfig()
	c.Trace = true
	var lines []string
	sink := func(msg string) { lines = append(lines, msg) }
	ctx, err := shemu.Build([]byte{0x90, 0x90}, c, &mem.Heap{}, shemu.NewAccess(c.Access), sink)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, New(nil).Emulate(ctx))
	assert.Equal(t, "0x200000: 90 nop\n0x200001: 90 nop\n", strings.Join(lines, ""))
}

func TestTraceAcrossRuns(t *testing.T) {
	c := models.DefaultConfig()
	c.Trace = true
	e := New(nil)
	code := assemble(t, models.ArchX64, "xor ecx, ecx; jmp l1; nop; l1: inc ecx")
	var runs []string
	for i := 0; i < 2; i++ {
		var out strings.Builder
		sink := func(msg string) { out.WriteString(msg) }
		ctx, err := shemu.Build(append([]byte(nil), code...), c, &mem.Heap{}, shemu.NewAccess(c.Access), sink)
		require.NoError(t, err)
		require.Equal(t, models.StatusSuccess, e.Emulate(ctx))
		runs = append(runs, out.String())
	}
	assert.Equal(t, runs[0], runs[1], "cached disassembly traces the same")
	assert.Contains(t, runs[0], "0x200000: 31c9 xor ecx, ecx\n")
	assert.NotContains(t, runs[0], "nop", "skipped instruction is not traced")
}

func TestStop(t *testing.T) {
	e := New(nil)
	e.Stop()

	c := models.DefaultConfig()
	ctx, err := shemu.Build(assemble(t, models.ArchX64, "l1: jmp l1"), c, &mem.Heap{}, shemu.NewAccess(c.Access), nil)
	require.NoError(t, err)
	ctx.MaxInstructions = 1 << 62
	var once sync.Once
	e.Block = func(addr uint64, size uint32) {
		once.Do(func() { go e.Stop() })
	}
	assert.Equal(t, models.StatusAbortInstructionCount, e.Emulate(ctx))
	assert.Less(t, ctx.Instructions, ctx.MaxInstructions)
	assert.Nil(t, e.cur)
}

func TestBlockHook(t *testing.T) {
	var blocks []uint64
	e := New(nil)
	e.Block = func(addr uint64, size uint32) { blocks = append(blocks, addr) }
	c := models.DefaultConfig()
	code := assemble(t, models.ArchX64, "xor ecx, ecx; jmp l1; nop; l1: inc ecx")
	ctx, err := shemu.Build(code, c, &mem.Heap{}, shemu.NewAccess(c.Access), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, e.Emulate(ctx))
	require.Len(t, blocks, 2)
	assert.Equal(t, uint64(base), blocks[0])
}

func TestGdtImage(t *testing.T) {
	c := models.DefaultConfig()
	ctx, err := shemu.Build([]byte{0x90}, c, &mem.Heap{}, shemu.NewAccess(c.Access), nil)
	require.NoError(t, err)
	img, err := gdtImage(&ctx.Segments, 0)
	require.NoError(t, err)
	require.Len(t, img, 7*8)
	assert.Equal(t, make([]byte, 8), img[:8], "null descriptor")
	assert.Equal(t, []byte{0xff, 0xff, 0, 0, 0, 0x9a, 0xcf, 0}, img[0x10:0x18])
	assert.Equal(t, []byte{0xff, 0xff, 0, 0, 0, 0x92, 0xcf, 0}, img[0x28:0x30])
	assert.Equal(t, []byte{0xff, 0x0f, 0x00, 0x00, 0xff, 0x92, 0x40, 0x7f}, img[0x30:0x38])

	img, err = gdtImage(&ctx.Segments, ctx.Ring)
	require.NoError(t, err)
	assert.Equal(t, byte(0xfa), img[0x15], "ring 3 code")
	assert.Equal(t, byte(0xf2), img[0x2d], "ring 3 data")
	assert.Equal(t, byte(0xf2), img[0x35], "ring 3 tib")

	_, err = gdtImage(&ctx.Segments, 4)
	assert.Error(t, err)
}

func TestUserMode32(t *testing.T) {
	ctx, status := emulate(t, models.ArchX86, models.AccessCallback, assemble(t, models.ArchX86, "mov eax, cs; mov ecx, ss"))
	require.Equal(t, models.StatusSuccess, status)
	assert.Equal(t, uint64(models.SEL_CODE|3), ctx.Regs[models.REG_RAX])
	assert.Equal(t, uint64(models.SEL_DATA|3), ctx.Regs[models.REG_RCX])

	// privileged instructions fault outside ring 0
	_, status = emulate(t, models.ArchX86, models.AccessCallback, assemble(t, models.ArchX86, "cli"))
	assert.Equal(t, models.StatusAbortCpuException, status)
}

func TestTibImage(t *testing.T) {
	c := models.DefaultConfig()
	c.Arch = models.ArchX86
	ctx, err := shemu.Build([]byte{0x90}, c, &mem.Heap{}, shemu.NewAccess(c.Access), nil)
	require.NoError(t, err)
	img, err := tibImage(ctx)
	require.NoError(t, err)
	require.Len(t, img, 7*4)
	assert.Equal(t, uint32(0xffffffff), binary.LittleEndian.Uint32(img[0:]))
	assert.Equal(t, uint32(0x102000), binary.LittleEndian.Uint32(img[4:]))
	assert.Equal(t, uint32(0x100000), binary.LittleEndian.Uint32(img[8:]))
	assert.Equal(t, uint32(0x7FFF0000), binary.LittleEndian.Uint32(img[0x18:]))

	ctx.Arch = models.ArchX64
	img, err = tibImage(ctx)
	require.NoError(t, err)
	require.Len(t, img, 7*8)
	assert.Equal(t, uint64(0x7FFF0000), binary.LittleEndian.Uint64(img[0x30:]))
}

func TestStatusFromError(t *testing.T) {
	cases := map[int]models.Status{
		uc.ERR_INSN_INVALID:   models.StatusAbortInvalidInstruction,
		uc.ERR_READ_UNMAPPED:  models.StatusAbortReadFault,
		uc.ERR_WRITE_PROT:     models.StatusAbortWriteFault,
		uc.ERR_FETCH_UNMAPPED: models.StatusAbortRipOutside,
		uc.ERR_FETCH_PROT:     models.StatusAbortFetchFault,
		uc.ERR_READ_UNALIGNED: models.StatusAbortUnaligned,
		uc.ERR_EXCEPTION:      models.StatusAbortCpuException,
		uc.ERR_NOMEM:          models.StatusInternalError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusFromError(uc.UcError(code)), "error %d", code)
	}
	assert.Equal(t, models.StatusInternalError, statusFromError(assert.AnError))
}
