package cpu

import (
	ks "github.com/keystone-engine/keystone/bindings/go/keystone"
	"github.com/pkg/errors"
)

type Keystone struct {
	Arch ks.Architecture
	Mode ks.Mode
	ks   *ks.Keystone
}

// NewKeystone returns an Intel-syntax x86 assembler for 32 or 64-bit code.
func NewKeystone(bits int) (*Keystone, error) {
	k := &Keystone{Arch: ks.ARCH_X86}
	switch bits {
	case 32:
		k.Mode = ks.MODE_32
	case 64:
		k.Mode = ks.MODE_64
	default:
		return nil, errors.Errorf("unsupported x86 mode: %d bits", bits)
	}
	return k, nil
}

func (k *Keystone) Open() (err error) {
	k.ks, err = ks.New(k.Arch, k.Mode)
	return errors.Wrap(err, "ks.New() failed")
}

func (k *Keystone) Asm(asm string, addr uint64) ([]byte, error) {
	if k.ks == nil {
		if err := k.Open(); err != nil {
			return nil, err
		}
	}
	out, _, ok := k.ks.Assemble(asm, addr)
	if !ok {
		return nil, errors.Wrap(k.ks.LastError(), "ks.Assemble() failed")
	}
	return out, nil
}

func (k *Keystone) Close() error {
	if k.ks == nil {
		return nil
	}
	err := k.ks.Close()
	k.ks = nil
	return err
}
