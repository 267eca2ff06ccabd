package phys

import (
	"fmt"
	"sort"
)

type MemError struct {
	Addr uint64
	Size uint64
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_READ_UNMAPPED:
		reason = "unreserved read"
	case MEM_WRITE_UNMAPPED:
		reason = "unreserved write"
	case MEM_OUT_OF_RANGE:
		reason = "range outside physical memory"
	case MEM_OVERLAP:
		reason = "range already reserved"
	case MEM_NOT_RESERVED:
		reason = "no reservation"
	case MEM_SPLIT_VIEW:
		reason = "view crosses reservations"
	}
	return fmt.Sprintf("%s at %#x(%#x)", reason, m.Addr, m.Size)
}

// Sim simulates the physical memory of a machine as a sorted list of non-overlapping
// reservations inside [Base, Base+Size). Unreserved memory has no backing store.
type Sim struct {
	Base, Size uint64
	Mem        Pages
}

func NewSim(base, size uint64) *Sim {
	return &Sim{Base: base, Size: size}
}

// InRange checks that addr-addr+size lies inside physical memory without wrapping.
func (m *Sim) InRange(addr, size uint64) bool {
	end := addr + size
	return end >= addr && addr >= m.Base && end <= m.Base+m.Size
}

// Free reports whether no reservation intersects addr-addr+size.
func (m *Sim) Free(addr, size uint64) bool {
	for _, mm := range m.Mem {
		if mm.Overlaps(addr, size) {
			return false
		}
	}
	return true
}

// Reserve backs addr-addr+size with zeroed memory. Unlike a cpu mapping it never
// replaces an existing reservation.
func (m *Sim) Reserve(addr, size uint64, kind int, desc string) (*Page, error) {
	if size == 0 || !m.InRange(addr, size) {
		return nil, &MemError{Addr: addr, Size: size, Enum: MEM_OUT_OF_RANGE}
	}
	if !m.Free(addr, size) {
		return nil, &MemError{Addr: addr, Size: size, Enum: MEM_OVERLAP}
	}
	page := &Page{Addr: addr, Size: size, Kind: kind, Data: make([]byte, size), Desc: desc}
	m.Mem = append(m.Mem, page)
	sort.Sort(m.Mem)
	return page, nil
}

// Release drops the reservation starting exactly at addr.
func (m *Sim) Release(addr uint64) error {
	i := m.Mem.bsearch(addr)
	if i < 0 || m.Mem[i].Addr != addr {
		return &MemError{Addr: addr, Enum: MEM_NOT_RESERVED}
	}
	m.Mem = append(m.Mem[:i], m.Mem[i+1:]...)
	return nil
}

// FindFree returns the lowest (or highest, if top is set) address of a gap of size bytes
// aligned to align.
func (m *Sim) FindFree(size, align uint64, top bool) (uint64, bool) {
	if size == 0 {
		return 0, false
	}
	// gaps between reservations, bottom up
	var gaps [][2]uint64
	cur := m.Base
	for _, mm := range m.Mem {
		if mm.Addr > cur {
			gaps = append(gaps, [2]uint64{cur, mm.Addr})
		}
		if end := mm.Addr + mm.Size; end > cur {
			cur = end
		}
	}
	if end := m.Base + m.Size; end > cur {
		gaps = append(gaps, [2]uint64{cur, end})
	}
	if top {
		for i := len(gaps) - 1; i >= 0; i-- {
			start, end := gaps[i][0], gaps[i][1]
			if end-start < size {
				continue
			}
			addr := (end - size) &^ (align - 1)
			if addr >= start {
				return addr, true
			}
		}
		return 0, false
	}
	for _, g := range gaps {
		addr := (g[0] + align - 1) &^ (align - 1)
		if addr >= g[0] && addr+size <= g[1] && addr+size > addr {
			return addr, true
		}
	}
	return 0, false
}

// RangeValid checks whether the address range is fully reserved.
func (m *Sim) RangeValid(addr, size uint64) bool {
	first := m.Mem.bsearch(addr)
	if first == -1 {
		return false
	}
	end := addr + size
	for _, mm := range m.Mem[first:] {
		if mm.Contains(addr) {
			addr = mm.Addr + mm.Size
			if addr >= end {
				break
			}
		} else {
			break
		}
	}
	return addr >= end
}

func (m *Sim) Read(addr uint64, p []byte) error {
	if !m.RangeValid(addr, uint64(len(p))) {
		return &MemError{Addr: addr, Size: uint64(len(p)), Enum: MEM_READ_UNMAPPED}
	}
	i := m.Mem.bsearch(addr)
	for _, mm := range m.Mem[i:] {
		if len(p) == 0 || !mm.Contains(addr) {
			break
		}
		n := copy(p, mm.Data[addr-mm.Addr:])
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}

func (m *Sim) Write(addr uint64, p []byte) error {
	if !m.RangeValid(addr, uint64(len(p))) {
		return &MemError{Addr: addr, Size: uint64(len(p)), Enum: MEM_WRITE_UNMAPPED}
	}
	i := m.Mem.bsearch(addr)
	for _, mm := range m.Mem[i:] {
		if len(p) == 0 || !mm.Contains(addr) {
			break
		}
		n := copy(mm.Data[addr-mm.Addr:], p)
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}

// View returns the backing store of addr-addr+size. The range must lie in a single
// reservation, which is how firmware hands out memory.
func (m *Sim) View(addr, size uint64) ([]byte, error) {
	page := m.Mem.Find(addr)
	if page == nil {
		return nil, &MemError{Addr: addr, Size: size, Enum: MEM_READ_UNMAPPED}
	}
	o := addr - page.Addr
	if size > page.Size-o {
		return nil, &MemError{Addr: addr, Size: size, Enum: MEM_SPLIT_VIEW}
	}
	return page.Data[o : o+size : o+size], nil
}
