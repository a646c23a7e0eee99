package shemu

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/shemufuzz/go/log"
	"github.com/lunixbochs/shemufuzz/go/models"
)

// Replay reads path fully and runs it once.
func Replay(r *Runner, path string) (models.Status, error) {
	fd, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %q", path)
	}
	defer fd.Close()
	st, err := fd.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to stat %q", path)
	}
	size := uint64(st.Size())
	buf, err := r.Alloc.Alloc(size)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to allocate %d bytes for %q", size, path)
	}
	defer r.Alloc.Free(buf)
	if _, err := io.ReadFull(fd, buf); err != nil {
		return 0, errors.Wrapf(err, "failed to read %q", path)
	}
	r.Log.Debug("replay", log.Path(path), log.Size(size))
	status, err := r.Run(buf)
	if err != nil {
		return 0, errors.Wrapf(err, "run failed for %q", path)
	}
	return status, nil
}
