// Package afl speaks the AFL fork server protocol for the persistent
// harness loop: it hands AFL a stand-in child per iteration, reads testcases
// from AFL++ shared memory and records edge coverage.
package afl

import (
	"encoding/binary"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/lunixbochs/shemufuzz/go/log"
)

const (
	ForkSrvFD = 198

	FS_OPT_ENABLED     = 0x80000001
	FS_OPT_SHDMEM_FUZZ = 0x01000000
)

var aflHello = []byte{1, 2, 3, 4}

// ForkServer drives the control (Ctrl) and status (Status) pipes AFL opens on
// fds 198 and 199. Child starts the process AFL believes it forked.
type ForkServer struct {
	Ctrl   io.Reader
	Status io.Writer
	Child  func() (int, error)
}

// NewForkServer uses the inherited AFL pipes.
func NewForkServer(child func() (int, error)) *ForkServer {
	return &ForkServer{
		Ctrl:   os.NewFile(uintptr(ForkSrvFD), "afl_ctrl"),
		Status: os.NewFile(uintptr(ForkSrvFD+1), "afl_status"),
		Child:  child,
	}
}

func (f *ForkServer) write(v uint32) error {
	var msg [4]byte
	binary.LittleEndian.PutUint32(msg[:], v)
	_, err := f.Status.Write(msg[:])
	return err
}

func (f *ForkServer) read() (uint32, error) {
	var msg [4]byte
	if _, err := io.ReadFull(f.Ctrl, msg[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(msg[:]), nil
}

// Hello announces the fork server. With options, AFL++ answers with the
// options it accepted, which are returned.
func (f *ForkServer) Hello(opts uint32) (uint32, error) {
	if opts&FS_OPT_ENABLED != FS_OPT_ENABLED {
		_, err := f.Status.Write(aflHello)
		return 0, errors.Wrap(err, "AFL hello failed")
	}
	if err := f.write(opts); err != nil {
		return 0, errors.Wrap(err, "AFL hello failed")
	}
	reply, err := f.read()
	return reply, errors.Wrap(err, "AFL handshake failed")
}

// Next blocks until AFL requests a run, then starts a fake child and reports
// its pid.
func (f *ForkServer) Next() error {
	if _, err := f.read(); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return errors.Wrap(err, "failed to receive control signal from AFL")
	}
	pid, err := f.Child()
	if err != nil {
		return err
	}
	return errors.Wrap(f.write(uint32(pid)), "failed to send pid to AFL")
}

// Report sends the wait status of the finished run.
func (f *ForkServer) Report(status uint32) error {
	return errors.Wrap(f.write(status), "failed to send status to AFL")
}

// FakeProc is a long-running stand-in child. AFL signals it on timeouts
// instead of the harness; it is respawned on demand once it exits.
type FakeProc struct {
	Argv []string
	Log  *log.Logger
	// OnExit runs when the child dies, e.g. to stop the current emulation.
	OnExit func()

	stdin io.WriteCloser
	*exec.Cmd
	sync.Mutex
}

func (p *FakeProc) Start() (int, error) {
	p.Lock()
	defer p.Unlock()
	if p.Cmd != nil {
		// kill(0) to see if it's still running
		if p.Process.Signal(syscall.Signal(0)) == nil {
			return p.Process.Pid, nil
		}
	}
	var err error
	p.Cmd = exec.Command(p.Argv[0], p.Argv[1:]...)
	p.stdin, err = p.StdinPipe()
	if err != nil {
		p.Cmd = nil
		return 0, errors.Wrap(err, "failed to open stdin")
	}
	if err = p.Cmd.Start(); err != nil {
		p.Cmd = nil
		return 0, errors.Wrap(err, "failed to spawn child")
	}
	cmd, stdin := p.Cmd, p.stdin
	go func() {
		cmd.Wait()
		p.Lock()
		defer p.Unlock()
		if p.Log != nil {
			p.Log.Debug("fake child exited", zap.Int("pid", cmd.Process.Pid))
		}
		if p.OnExit != nil {
			p.OnExit()
		}
		stdin.Close()
		if p.Cmd == cmd {
			p.Cmd = nil
		}
	}()
	return cmd.Process.Pid, nil
}

// Kill stops the child, if any.
func (p *FakeProc) Kill() error {
	p.Lock()
	defer p.Unlock()
	if p.Cmd == nil || p.Process == nil {
		return nil
	}
	return p.Process.Kill()
}
