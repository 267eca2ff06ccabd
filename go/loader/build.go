package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/models"
)

// ElfSegment describes one program header for ElfBuilder.
type ElfSegment struct {
	// Type defaults to PT_LOAD.
	Type elf.ProgType
	Addr uint64
	Data []byte
	// Memsz defaults to len(Data).
	Memsz uint64
	// Off places Data at a fixed file offset. Zero packs it after the previous segment.
	Off uint64
}

// ElfBuilder writes minimal ELF64 executables: file header, segment data, then the
// program header table.
type ElfBuilder struct {
	Machine  elf.Machine
	Order    binary.ByteOrder
	Entry    uint64
	Segments []ElfSegment

	// Phoff is set by Bytes to the offset of the program header table.
	Phoff uint64
}

func (b *ElfBuilder) order() binary.ByteOrder {
	if b.Order == nil {
		return binary.LittleEndian
	}
	return b.Order
}

func (b *ElfBuilder) Bytes() ([]byte, error) {
	order := b.order()
	data := elf.ELFDATA2LSB
	if order == binary.BigEndian {
		data = elf.ELFDATA2MSB
	}
	machine := b.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_X86_64
	}

	// lay out segment data
	progs := make([]Elf64Prog, len(b.Segments))
	end := uint64(Elf64HeaderSize)
	for i, seg := range b.Segments {
		off := seg.Off
		if off == 0 {
			off = end
		}
		memsz := seg.Memsz
		if memsz == 0 {
			memsz = uint64(len(seg.Data))
		}
		typ := seg.Type
		if typ == elf.PT_NULL {
			typ = elf.PT_LOAD
		}
		progs[i] = Elf64Prog{
			Type:   uint32(typ),
			Flags:  uint32(elf.PF_R | elf.PF_W | elf.PF_X),
			Off:    off,
			Vaddr:  seg.Addr,
			Paddr:  seg.Addr,
			Filesz: uint64(len(seg.Data)),
			Memsz:  memsz,
			Align:  models.PageSize,
		}
		if e := off + uint64(len(seg.Data)); e > end {
			end = e
		}
	}
	b.Phoff = models.AlignUp(end, 8)

	buf := make([]byte, b.Phoff+uint64(len(progs))*Elf64ProgSize)
	for i, seg := range b.Segments {
		copy(buf[progs[i].Off:], seg.Data)
	}
	hdr := &Elf64Header{
		Magic:     string(elfMagic),
		Class:     uint8(elf.ELFCLASS64),
		Data:      uint8(data),
		IdentVer:  uint8(elf.EV_CURRENT),
		Pad:       make([]byte, 7),
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     b.Entry,
		Phoff:     b.Phoff,
		Ehsize:    Elf64HeaderSize,
		Phentsize: Elf64ProgSize,
		Phnum:     uint16(len(progs)),
		Shentsize: 64,
	}
	options := &struc.Options{Order: order}
	var tmp bytes.Buffer
	if err := struc.PackWithOptions(&tmp, hdr, options); err != nil {
		return nil, errors.Wrap(err, "failed to pack ELF header")
	}
	for i := range progs {
		if err := struc.PackWithOptions(&tmp, &progs[i], options); err != nil {
			return nil, errors.Wrapf(err, "failed to pack program header %d", i)
		}
	}
	p := tmp.Bytes()
	copy(buf, p[:Elf64HeaderSize])
	copy(buf[b.Phoff:], p[Elf64HeaderSize:])
	return buf, nil
}
