package shemu

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/lunixbochs/shemufuzz/go/log"
	"github.com/lunixbochs/shemufuzz/go/models"
)

// Source feeds the persistent loop. Next returns the next input, which may
// share its backing array with every other input the source returns; it is
// only valid until the following Next call. Next returns io.EOF once the
// source is exhausted.
type Source interface {
	Next() ([]byte, error)
	Report(status models.Status) error
}

// Loop runs every input from src through r, up to limit iterations (0 for no
// limit). Inputs are borrowed, not copied: under direct shellcode access the
// engine mutates the source's buffer in place. A context build failure
// aborts the process.
func Loop(r *Runner, src Source, limit uint64) (uint64, error) {
	var n uint64
	for limit == 0 || n < limit {
		buf, err := src.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return n, errors.Wrap(err, "failed to read next input")
		}
		status, err := r.Run(buf)
		if err != nil {
			Abort(r.Log, err)
		}
		n++
		if err := src.Report(status); err != nil {
			return n, errors.Wrap(err, "failed to report status")
		}
	}
	r.Log.Debug("persistent loop finished", zap.Uint64("iterations", n))
	return n, nil
}

const DefaultMaxInput = 1 << 20

// FileSource reads each path in turn into one reusable buffer.
type FileSource struct {
	Paths []string
	// Max bounds the input size; longer files are truncated.
	Max uint64
	Log *log.Logger

	buf []byte
	pos int
}

func (f *FileSource) Next() ([]byte, error) {
	if f.pos >= len(f.Paths) {
		return nil, io.EOF
	}
	path := f.Paths[f.pos]
	f.pos++
	if f.buf == nil {
		max := f.Max
		if max == 0 {
			max = DefaultMaxInput
		}
		f.buf = make([]byte, max)
	}
	fd, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer fd.Close()
	n, err := io.ReadFull(fd, f.buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrapf(err, "failed to read %q", path)
	}
	if f.Log != nil {
		f.Log.Debug("input", log.Path(path), log.Size(uint64(n)))
	}
	return f.buf[:n], nil
}

func (f *FileSource) Report(status models.Status) error { return nil }
