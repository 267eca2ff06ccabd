package inspect

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/arch"
	"github.com/lunixbochs/bootcorn/go/cmd"
	"github.com/lunixbochs/bootcorn/go/cpu"
	"github.com/lunixbochs/bootcorn/go/loader"
	"github.com/lunixbochs/bootcorn/go/models"
)

// entryBytes returns the file bytes backing entry, if a region covers it.
func entryBytes(p []byte, img *models.Image) []byte {
	for _, r := range img.Regions {
		if img.Entry >= r.Addr && img.Entry-r.Addr < r.Filesz && r.ContainsFile(uint64(len(p))) {
			return p[r.Off+(img.Entry-r.Addr) : r.Off+r.Filesz]
		}
	}
	return nil
}

func inspectElf(w io.Writer, p []byte, dis int, color bool) error {
	img, err := loader.ParseElf(p)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s, entry 0x%x\n", cmd.Paint(color, "ELF64", "cyan+b"), img.Arch, img.Entry)
	for i, r := range img.Regions {
		note := ""
		if !r.ContainsFile(uint64(len(p))) {
			note = cmd.Paint(color, " file range out of bounds", "red")
		}
		fmt.Fprintf(w, "  [%d] %s%s\n", i, &r, note)
	}
	span, _ := img.Span()
	pages := span.Pages()
	fmt.Fprintf(w, "span %s, %d pages at 0x%x\n", span, pages.PageCount(), pages.Start)
	if err := loader.CheckOverlap(img.Regions); err != nil {
		fmt.Fprintf(w, "%s %v\n", cmd.Paint(color, "warning:", "yellow+b"), err)
	}
	if dis > 0 {
		code := entryBytes(p, img)
		if code == nil {
			return errors.Errorf("entry 0x%x is not backed by file data", img.Entry)
		}
		a, err := arch.GetArch(img.Arch)
		if err != nil {
			return err
		}
		c := &cpu.Capstr{Arch: a.CS_ARCH, Mode: a.CS_MODE}
		ins, err := c.Dis(code, img.Entry, dis)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, cpu.Format(ins))
	}
	return nil
}

func inspectSnapshot(w io.Writer, p []byte, color bool) error {
	snap, err := models.LoadSnapshot(bytes.NewReader(p))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s entry 0x%x, 0x%x-0x%x\n", cmd.Paint(color, "snapshot", "cyan+b"),
		snap.Entry, snap.Base, snap.Base+uint64(len(snap.Mem)))
	return nil
}

// Inspect describes a kernel image or a snapshot written by run -dump.
func Inspect(w io.Writer, p []byte, dis int, color bool) error {
	if bytes.HasPrefix(p, []byte(models.SNAPSHOT_MAGIC)) {
		return inspectSnapshot(w, p, color)
	}
	if !loader.MatchElf(bytes.NewReader(p)) {
		return errors.New("not an ELF image or snapshot")
	}
	return inspectElf(w, p, dis, color)
}

func Main(args []string) {
	c := cmd.NewBootCmd(args[0], "<image>")
	dis := c.Flags.Int("dis", 0, "disassemble this many instructions at the entry point")
	c.Parse(args)
	if c.Flags.NArg() != 1 {
		c.Usage()
		os.Exit(1)
	}
	p, err := os.ReadFile(c.Flags.Arg(0))
	if err != nil {
		cmd.PrintError(errors.WithStack(err))
		os.Exit(1)
	}
	c.Config.Logf("read %d bytes from %s\n", len(p), c.Flags.Arg(0))
	if err := Inspect(cmd.Stdout(), p, *dis, cmd.Color()); err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
}

func init() { cmd.Register("inspect", "describe a kernel image or snapshot", Main) }
