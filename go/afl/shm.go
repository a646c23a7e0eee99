package afl

import (
	"encoding/binary"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	SHM_ENV_VAR      = "__AFL_SHM_ID"
	SHM_FUZZ_ENV_VAR = "__AFL_SHM_FUZZ_ID"

	MAP_SIZE = 1 << 16
)

var ErrNoShm = errors.New("AFL shared memory not configured")

// AttachShm attaches the SysV shared memory segment whose id is in env.
func AttachShm(env string) ([]byte, error) {
	id := os.Getenv(env)
	if id == "" {
		return nil, errors.Wrap(ErrNoShm, env)
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil, errors.Wrapf(err, "bad %s", env)
	}
	area, err := unix.SysvShmAttach(n, 0, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "shmat(%d) failed", n)
	}
	return area, nil
}

func DetachShm(area []byte) error {
	return errors.Wrap(unix.SysvShmDetach(area), "shmdt failed")
}

// ShmInput reads AFL++ shared memory testcases: a little-endian uint32
// length followed by the data.
type ShmInput struct {
	Area []byte
}

// Read returns the current testcase without copying it.
func (s *ShmInput) Read() ([]byte, error) {
	if len(s.Area) < 4 {
		return nil, errors.New("testcase area too small")
	}
	size := uint64(binary.LittleEndian.Uint32(s.Area))
	if max := uint64(len(s.Area) - 4); size > max {
		size = max
	}
	return s.Area[4 : 4+size], nil
}
