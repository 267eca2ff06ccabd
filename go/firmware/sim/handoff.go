package sim

import (
	"fmt"

	"github.com/lunixbochs/bootcorn/go/models"
)

// Transferred unwinds the caller of Jump.
type Transferred struct {
	Entry uint64
}

func (t *Transferred) String() string { return fmt.Sprintf("control transferred to 0x%x", t.Entry) }

// Halted unwinds the caller of Halt.
type Halted struct{}

func (h *Halted) String() string { return "halted" }

// Outcome describes how a boot attempt left the simulated machine.
type Outcome struct {
	Transferred bool
	Halted      bool
	// Returned is set when the boot function returned, which a real loader never does.
	Returned bool
	Entry    uint64
	// JumpErr is the error returned by Options.OnJump.
	JumpErr error
}

// Jump records the transfer and unwinds the stack, since there is nothing to return to.
func (f *Firmware) Jump(entry uint64) {
	f.Calls = append(f.Calls, fmt.Sprintf("Jump[0x%x]", entry))
	f.jumped = true
	f.entry = entry
	if f.opts.OnJump != nil {
		f.jumpErr = f.opts.OnJump(entry, f)
	}
	panic(&Transferred{Entry: entry})
}

func (f *Firmware) Halt() {
	f.Calls = append(f.Calls, "Halt")
	panic(&Halted{})
}

// Run calls fn, which should end in Jump or Halt, and reports what happened.
func (f *Firmware) Run(fn func()) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case *Transferred:
				out.Transferred = true
				out.Entry = v.Entry
				out.JumpErr = f.jumpErr
			case *Halted:
				out.Halted = true
			default:
				panic(r)
			}
		}
	}()
	fn()
	out.Returned = true
	return out
}

var _ models.Platform = (*Firmware)(nil)

// Entry returns the address control was transferred to, if any.
func (f *Firmware) Entry() (uint64, bool) {
	return f.entry, f.jumped
}
