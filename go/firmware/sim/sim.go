// Package sim implements the firmware services the loader consumes on top of an fs.FS
// volume and simulated physical memory, so the boot pipeline can run unmodified on a host.
package sim

import (
	"fmt"
	"io/fs"

	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/models"
	"github.com/lunixbochs/bootcorn/go/models/phys"
)

type PoolPlacement int

const (
	// PoolTop hands out pool memory from the top of RAM, as most firmware does.
	PoolTop PoolPlacement = iota
	// PoolBottom hands out pool memory from the bottom of RAM.
	PoolBottom
)

type Options struct {
	RAMBase, RAMSize uint64
	Pool             PoolPlacement

	// StaleExits makes that many ExitBootServices calls fail with ErrStaleMapKey, as if a
	// firmware event changed the memory map in between.
	StaleExits int

	// OnJump runs when control is transferred, before Jump unwinds.
	OnJump func(entry uint64, fw *Firmware) error
}

const (
	DefaultRAMBase = 0
	DefaultRAMSize = 0x10000000
)

// Firmware is a simulated platform. It is not safe for concurrent use.
type Firmware struct {
	Vol fs.FS
	Mem *phys.Sim

	// Calls records every service invoked, in order.
	Calls []string

	opts    Options
	gen     uint64
	retired bool
	pools   map[uint64]bool
	handles int

	jumped  bool
	entry   uint64
	jumpErr error
}

func New(vol fs.FS, opts Options) *Firmware {
	if opts.RAMSize == 0 {
		opts.RAMBase, opts.RAMSize = DefaultRAMBase, DefaultRAMSize
	}
	return &Firmware{
		Vol:   vol,
		Mem:   phys.NewSim(opts.RAMBase, opts.RAMSize),
		opts:  opts,
		pools: make(map[uint64]bool),
	}
}

func (f *Firmware) call(name string, args ...interface{}) error {
	if len(args) > 0 {
		name += fmt.Sprint(args)
	}
	f.Calls = append(f.Calls, name)
	if f.retired {
		return errors.WithStack(models.ErrServicesRetired)
	}
	return nil
}

// Reserve marks a range as firmware-owned before boot starts.
func (f *Firmware) Reserve(addr, size uint64) error {
	_, err := f.Mem.Reserve(addr, size, phys.FIRMWARE, "firmware")
	return errors.Wrap(err, "reserve")
}

// Retired reports whether ExitBootServices has succeeded.
func (f *Firmware) Retired() bool { return f.retired }

// OpenHandles is the number of file handles not yet closed.
func (f *Firmware) OpenHandles() int { return f.handles }

// Pools returns the addresses of live pool allocations.
func (f *Firmware) Pools() []uint64 {
	ret := make([]uint64, 0, len(f.pools))
	for addr := range f.pools {
		ret = append(ret, addr)
	}
	return ret
}

func (f *Firmware) AllocatePool(size uint64) (uint64, []byte, error) {
	if err := f.call("AllocatePool", size); err != nil {
		return 0, nil, err
	}
	pages := models.AlignUp(size, models.PageSize)
	if pages < size {
		return 0, nil, errors.Wrapf(models.ErrAllocation, "pool size %d overflows", size)
	}
	if pages == 0 {
		pages = models.PageSize
	}
	addr, ok := f.Mem.FindFree(pages, models.PageSize, f.opts.Pool == PoolTop)
	if !ok {
		return 0, nil, errors.Wrapf(models.ErrAllocation, "no room for %d byte pool", size)
	}
	if _, err := f.Mem.Reserve(addr, pages, phys.LOADER_DATA, "pool"); err != nil {
		return 0, nil, errors.Wrap(models.ErrAllocation, err.Error())
	}
	buf, err := f.Mem.View(addr, size)
	if err != nil {
		f.Mem.Release(addr)
		return 0, nil, errors.Wrap(models.ErrAllocation, err.Error())
	}
	f.pools[addr] = true
	f.gen++
	return addr, buf, nil
}

func (f *Firmware) FreePool(addr uint64) error {
	if err := f.call("FreePool", fmt.Sprintf("0x%x", addr)); err != nil {
		return err
	}
	if !f.pools[addr] {
		return errors.Errorf("0x%x is not a pool allocation", addr)
	}
	if err := f.Mem.Release(addr); err != nil {
		return errors.Wrap(err, "free pool")
	}
	delete(f.pools, addr)
	f.gen++
	return nil
}

func (f *Firmware) AllocatePages(addr, count uint64) ([]byte, error) {
	if err := f.call("AllocatePages", fmt.Sprintf("0x%x", addr), count); err != nil {
		return nil, err
	}
	if addr%models.PageSize != 0 || count == 0 {
		return nil, errors.Wrapf(models.ErrAddressUnavailable, "bad page request 0x%x x %d", addr, count)
	}
	size := count * models.PageSize
	if size/models.PageSize != count {
		return nil, errors.Wrapf(models.ErrAddressUnavailable, "page count %d overflows", count)
	}
	if _, err := f.Mem.Reserve(addr, size, phys.LOADER_DATA, "pages"); err != nil {
		return nil, errors.Wrap(models.ErrAddressUnavailable, err.Error())
	}
	mem, err := f.Mem.View(addr, size)
	if err != nil {
		return nil, errors.Wrap(models.ErrAddressUnavailable, err.Error())
	}
	f.gen++
	return mem, nil
}

func (f *Firmware) MapKey() (uint64, error) {
	if err := f.call("MapKey"); err != nil {
		return 0, err
	}
	return f.gen, nil
}

func (f *Firmware) ExitBootServices(key uint64) error {
	if err := f.call("ExitBootServices", key); err != nil {
		return err
	}
	if f.opts.StaleExits > 0 {
		f.opts.StaleExits--
		f.gen++
		return errors.WithStack(models.ErrStaleMapKey)
	}
	if key != f.gen {
		return errors.Wrapf(models.ErrStaleMapKey, "key %d, current %d", key, f.gen)
	}
	f.retired = true
	return nil
}

// PageAllocations returns the reservations made through AllocatePages, lowest first.
func (f *Firmware) PageAllocations() phys.Pages {
	var ret phys.Pages
	for _, p := range f.Mem.Mem {
		if p.Kind == phys.LOADER_DATA && p.Desc == "pages" {
			ret = append(ret, p)
		}
	}
	return ret
}
