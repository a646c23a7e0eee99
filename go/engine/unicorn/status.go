package unicorn

import (
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/shemufuzz/go/models"
)

// statusFromError maps an emulator stop reason to a run status.
func statusFromError(err error) models.Status {
	ucerr, ok := errors.Cause(err).(uc.UcError)
	if !ok {
		return models.StatusInternalError
	}
	switch ucerr {
	case uc.ERR_INSN_INVALID:
		return models.StatusAbortInvalidInstruction
	case uc.ERR_READ_UNMAPPED, uc.ERR_READ_PROT:
		return models.StatusAbortReadFault
	case uc.ERR_WRITE_UNMAPPED, uc.ERR_WRITE_PROT:
		return models.StatusAbortWriteFault
	case uc.ERR_FETCH_UNMAPPED:
		return models.StatusAbortRipOutside
	case uc.ERR_FETCH_PROT:
		return models.StatusAbortFetchFault
	case uc.ERR_READ_UNALIGNED, uc.ERR_WRITE_UNALIGNED, uc.ERR_FETCH_UNALIGNED:
		return models.StatusAbortUnaligned
	case uc.ERR_EXCEPTION:
		return models.StatusAbortCpuException
	}
	return models.StatusInternalError
}
