package unicorn

import (
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/bootcorn/go/models"
)

// Runner executes a loaded kernel image from its entry point on an emulated cpu, to
// check that control lands on real code.
type Runner struct {
	Arch *models.Arch
	// Count stops emulation after that many instructions. Zero runs until a fault.
	Count uint64
	// Stack is the initial stack pointer. Zero leaves it unset.
	Stack uint64
}

type Result struct {
	PC, SP   uint64
	Executed uint64
}

// Run maps mem at base and starts at entry.
func (r *Runner) Run(base uint64, mem []byte, entry uint64) (*Result, error) {
	u, err := uc.NewUnicorn(r.Arch.UC_ARCH, r.Arch.UC_MODE)
	if err != nil {
		return nil, errors.Wrap(err, "NewUnicorn() failed")
	}
	defer u.Close()

	size := models.AlignUp(uint64(len(mem)), models.PageSize)
	if err := u.MemMap(base, size); err != nil {
		return nil, errors.Wrapf(err, "failed to map 0x%x+0x%x", base, size)
	}
	if err := u.MemWrite(base, mem); err != nil {
		return nil, errors.Wrap(err, "failed to write kernel memory")
	}
	if r.Stack != 0 {
		if err := u.RegWrite(r.Arch.SP, r.Stack); err != nil {
			return nil, errors.Wrap(err, "failed to set stack pointer")
		}
	}
	res := &Result{}
	if _, err := u.HookAdd(uc.HOOK_CODE, func(_ uc.Unicorn, addr uint64, size uint32) {
		res.Executed++
	}, 1, 0); err != nil {
		return nil, errors.Wrap(err, "failed to add code hook")
	}
	err = u.StartWithOptions(entry, 0xffffffffffffffff, &uc.UcOptions{Count: r.Count})
	res.PC, _ = u.RegRead(r.Arch.PC)
	res.SP, _ = u.RegRead(r.Arch.SP)
	if err != nil {
		return res, errors.Wrapf(err, "emulation stopped at 0x%x", res.PC)
	}
	return res, nil
}
