// Package boot loads a kernel image into physical memory and hands the machine to it.
package boot

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/loader"
	"github.com/lunixbochs/bootcorn/go/models"
)

// KernelName is the image loaded from the boot volume.
const KernelName = "kernel.elf"

var errEntryReturned = errors.New("kernel entry point returned")

// Loaded is the state after the image is in place and before boot services are retired.
type Loaded struct {
	Phase   models.Phase
	Image   *models.Image
	Scratch *loader.Scratch
	Window  *Window
}

// Load reads, parses and places KernelName.
func Load(fw models.BootServices, cfg *models.Config) (*Loaded, error) {
	return LoadNamed(fw, cfg, KernelName)
}

func LoadNamed(fw models.BootServices, cfg *models.Config, name string) (*Loaded, error) {
	cfg = cfg.Init()
	scratch, err := loader.ReadImage(fw, name)
	if err != nil {
		return nil, err
	}
	cfg.Logf("read %s: %d bytes at 0x%x\n", name, len(scratch.Data), scratch.Addr)

	img, err := loader.ParseElf(scratch.Data)
	if err == nil && !cfg.AllowOverlap {
		err = loader.CheckOverlap(img.Regions)
	}
	if err != nil {
		scratch.Free(fw)
		return nil, errors.WithMessage(err, name)
	}
	cfg.Logf("%s\n", img)

	win, err := Place(fw, scratch, img)
	if err != nil {
		scratch.Free(fw)
		return nil, errors.WithMessage(err, name)
	}
	cfg.Logf("placed %s at %s\n", name, win.Span())
	return &Loaded{Phase: models.PhaseLoaded, Image: img, Scratch: scratch, Window: win}, nil
}

// Boot runs the whole pipeline. It only returns on failure.
func Boot(p models.Platform, cfg *models.Config) error {
	l, err := Load(p, cfg)
	if err != nil {
		return err
	}
	r, err := Retire(p, cfg, l)
	if err != nil {
		return err
	}
	if err := Transfer(p, r); err != nil {
		return err
	}
	return errors.WithStack(errEntryReturned)
}

// Main boots the kernel, or reports why it could not and halts.
func Main(p models.Platform, cfg *models.Config) {
	cfg = cfg.Init()
	if err := Boot(p, cfg); err != nil {
		// the console went away with boot services
		if errors.Cause(err) != errEntryReturned {
			cfg.Printf("boot failed: %v\n", err)
		}
	}
	p.Halt()
}
