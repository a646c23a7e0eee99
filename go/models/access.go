package models

import (
	"strings"

	"github.com/pkg/errors"
)

type AccessMode int

const (
	AccessDirect AccessMode = iota
	AccessCallback
)

func (m AccessMode) String() string {
	if m == AccessCallback {
		return "callback"
	}
	return "direct"
}

func (m AccessMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *AccessMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "direct", "mapped":
		*m = AccessDirect
	case "callback":
		*m = AccessCallback
	default:
		return errors.Errorf("unknown access mode %q", text)
	}
	return nil
}

// Access is how the engine reaches shellcode memory. It is one of
// DirectAccess or *CallbackAccess.
type Access interface {
	Mode() AccessMode
}

// DirectAccess lets the engine read and write Context.Shellcode.Data in place.
type DirectAccess struct{}

func (DirectAccess) Mode() AccessMode { return AccessDirect }

// AccessFunc moves len(p) bytes between p and guest address addr inside the
// shellcode region. store selects the direction (p -> shellcode when true).
type AccessFunc func(ctx *Context, addr uint64, p []byte, store bool) bool

// CallbackAccess routes every shellcode transfer through Fn.
type CallbackAccess struct {
	Fn AccessFunc
}

func (*CallbackAccess) Mode() AccessMode { return AccessCallback }
