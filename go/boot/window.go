package boot

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/models"
)

// Window is a view of a fixed physical allocation. It can only be obtained from Place,
// and every access is checked against the allocated range.
type Window struct {
	base uint64
	mem  []byte
}

func newWindow(base uint64, mem []byte) *Window {
	return &Window{base: base, mem: mem[:len(mem):len(mem)]}
}

func (w *Window) Span() models.Span {
	return models.Span{Start: w.base, End: w.base + uint64(len(w.mem))}
}

// Slice returns the bytes backing addr-addr+size.
func (w *Window) Slice(addr, size uint64) ([]byte, error) {
	end := addr + size
	if addr < w.base || end < addr || end > w.base+uint64(len(w.mem)) {
		return nil, errors.Errorf("0x%x+0x%x outside window %s", addr, size, w.Span())
	}
	o := addr - w.base
	return w.mem[o : o+size : o+size], nil
}

func (w *Window) Write(addr uint64, p []byte) error {
	dst, err := w.Slice(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// Read copies out of the window.
func (w *Window) Read(addr uint64, p []byte) error {
	src, err := w.Slice(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(p, src)
	return nil
}

func (w *Window) Zero() {
	for i := range w.mem {
		w.mem[i] = 0
	}
}
