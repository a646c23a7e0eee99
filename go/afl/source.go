package afl

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/shemufuzz/go/models"
)

// Input yields the testcase AFL prepared for the current iteration.
type Input interface {
	Read() ([]byte, error)
}

// FileInput reads the testcase AFL prepared for each run. AFL replaces the
// file at Path between runs, so it is reopened every time. Without a Path,
// File (usually stdin) is rewound and reread instead.
type FileInput struct {
	Path string
	File io.ReadSeeker
	Max  uint64

	buf   []byte
	reads int
}

func (f *FileInput) Read() ([]byte, error) {
	if f.buf == nil {
		f.buf = make([]byte, f.Max)
	}
	if f.Path != "" {
		fd, err := os.Open(f.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q", f.Path)
		}
		defer fd.Close()
		return f.fill(fd)
	}
	// a pipe can be read once, but not rewound
	if _, err := f.File.Seek(0, io.SeekStart); err != nil && f.reads > 0 {
		return nil, errors.Wrap(err, "failed to rewind input")
	}
	f.reads++
	return f.fill(f.File)
}

func (f *FileInput) fill(r io.Reader) ([]byte, error) {
	n, err := io.ReadFull(r, f.buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrap(err, "failed to read input")
	}
	return f.buf[:n], nil
}

// Source feeds the persistent loop from an AFL fork server.
type Source struct {
	Server   *ForkServer
	Input    Input
	Coverage *Coverage
	// Opts is sent in the hello message.
	Opts uint32

	started bool
}

func (s *Source) Next() ([]byte, error) {
	if !s.started {
		if _, err := s.Server.Hello(s.Opts); err != nil {
			return nil, err
		}
		s.started = true
	}
	if err := s.Server.Next(); err != nil {
		return nil, err
	}
	if s.Coverage != nil {
		s.Coverage.Reset()
	}
	return s.Input.Read()
}

// Report tells AFL the run exited cleanly. The emulation status is not a
// process outcome; only a harness crash is.
func (s *Source) Report(status models.Status) error {
	return s.Server.Report(0)
}
