package run

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/arch"
	"github.com/lunixbochs/bootcorn/go/boot"
	"github.com/lunixbochs/bootcorn/go/cmd"
	"github.com/lunixbochs/bootcorn/go/cpu"
	"github.com/lunixbochs/bootcorn/go/cpu/unicorn"
	"github.com/lunixbochs/bootcorn/go/firmware/sim"
	"github.com/lunixbochs/bootcorn/go/models"
)

type runner struct {
	*cmd.BootCmd

	kernel string
	exec   uint64
	dis    int
	dump   string

	img *models.Image
	win *boot.Window
}

// afterJump inspects the machine as the kernel would find it.
func (r *runner) afterJump(entry uint64, fw *sim.Firmware) error {
	color := cmd.Color()
	out := cmd.Stdout()
	fmt.Fprintln(out, cmd.Paint(color, fmt.Sprintf("jump to 0x%x", entry), "green+b"))
	if r.Config.Verbose {
		for _, p := range fw.Mem.Mem {
			fmt.Fprintf(out, "  %s\n", p)
		}
	}
	for _, p := range fw.PageAllocations() {
		fmt.Fprintf(out, "kernel pages %s\n", p)
	}
	span := r.win.Span()
	if !span.Contains(entry) {
		if r.exec > 0 || r.dis > 0 {
			return errors.Errorf("entry 0x%x is outside loaded memory %s", entry, span)
		}
		return nil
	}
	loaded := &models.Snapshot{Entry: entry, Base: span.Start, Mem: make([]byte, span.Size())}
	if err := r.win.Read(span.Start, loaded.Mem); err != nil {
		return err
	}
	if r.dump != "" {
		f, err := os.Create(r.dump)
		if err != nil {
			return errors.Wrap(err, "dump")
		}
		defer f.Close()
		if err := models.SaveSnapshot(f, loaded.Entry, loaded.Base, loaded.Mem); err != nil {
			return err
		}
		r.Config.Logf("wrote %s\n", r.dump)
	}
	if r.exec == 0 && r.dis == 0 {
		return nil
	}
	a, err := arch.GetArch(r.img.Arch)
	if err != nil {
		return err
	}
	if r.dis > 0 {
		dis := &cpu.Capstr{Arch: a.CS_ARCH, Mode: a.CS_MODE}
		ins, err := dis.Dis(loaded.Mem[entry-loaded.Base:], entry, r.dis)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cpu.Format(ins))
	}
	if r.exec > 0 {
		// stack grows down from the top of the loaded window
		emu := &unicorn.Runner{Arch: a, Count: r.exec, Stack: loaded.Base + uint64(len(loaded.Mem))}
		res, err := emu.Run(loaded.Base, loaded.Mem, entry)
		if res != nil {
			fmt.Fprintf(out, "executed %d instructions, pc = 0x%x, sp = 0x%x\n", res.Executed, res.PC, res.SP)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// boot drives the pipeline stage by stage so the parsed image is available after the jump.
func (r *runner) boot(fw *sim.Firmware) error {
	l, err := boot.LoadNamed(fw, r.Config, r.kernel)
	if err != nil {
		return err
	}
	r.img, r.win = l.Image, l.Window
	ret, err := boot.Retire(fw, r.Config, l)
	if err != nil {
		return err
	}
	return boot.Transfer(fw, ret)
}

func Main(args []string) {
	c := cmd.NewBootCmd(args[0], "")
	c.FirmwareFlags()
	r := &runner{BootCmd: c}
	c.Flags.StringVar(&r.kernel, "kernel", boot.KernelName, "image path on the volume")
	c.Flags.Uint64Var(&r.exec, "exec", 0, "emulate this many instructions from the entry point after handoff")
	c.Flags.IntVar(&r.dis, "dis", 0, "disassemble this many instructions at the entry point after handoff")
	c.Flags.StringVar(&r.dump, "dump", "", "write a snapshot of the loaded kernel to <file>")
	c.Parse(args)

	fw, err := c.Firmware(r.afterJump)
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	var bootErr error
	out := fw.Run(func() {
		if bootErr = r.boot(fw); bootErr != nil {
			fw.Halt()
		}
	})
	if c.Config.Verbose {
		for _, call := range fw.Calls {
			c.Config.Printf("  %s\n", call)
		}
	}
	switch {
	case bootErr != nil:
		cmd.PrintError(bootErr)
		os.Exit(1)
	case out.JumpErr != nil:
		cmd.PrintError(out.JumpErr)
		os.Exit(1)
	case !out.Transferred:
		cmd.PrintError(errors.New("boot ended without a control transfer"))
		os.Exit(1)
	}
}

func init() { cmd.Register("run", "boot a kernel image on simulated firmware", Main) }
