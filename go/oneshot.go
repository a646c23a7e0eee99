package shemu

import (
	"go.uber.org/zap"
)

// OneShot is the single-input fuzz entry point. data belongs to the caller
// and is never written: the engine gets a private copy. It returns 1 when the
// copy or the context cannot be allocated, 0 otherwise.
func OneShot(r *Runner, data []byte) int {
	buf, err := r.Alloc.Alloc(uint64(len(data)))
	if err != nil {
		r.Log.Error("input copy failed", zap.Error(err))
		return 1
	}
	defer r.Alloc.Free(buf)
	copy(buf, data)

	if _, err := r.Run(buf); err != nil {
		return 1
	}
	return 0
}
