package shemu

import (
	"github.com/lunixbochs/shemufuzz/go/models"
)

// CopyShellcode is the callback-mediated shellcode accessor. The engine is
// trusted to keep addr+len(p) inside the shellcode region; a request outside
// it panics on the slice bounds instead of being clipped.
func CopyShellcode(ctx *models.Context, addr uint64, p []byte, store bool) bool {
	offset := addr - ctx.Shellcode.Addr
	window := ctx.Shellcode.Data[offset : offset+uint64(len(p))]
	if store {
		copy(window, p)
	} else {
		copy(p, window)
	}
	return true
}

// NewAccess returns the shellcode access strategy for mode.
func NewAccess(mode models.AccessMode) models.Access {
	if mode == models.AccessCallback {
		return &models.CallbackAccess{Fn: CopyShellcode}
	}
	return models.DirectAccess{}
}
