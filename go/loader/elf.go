package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"sort"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/models"
)

// Sizes of the ELF64 structures and the fixed offset of e_entry.
const (
	Elf64HeaderSize = 64
	Elf64ProgSize   = 56
	EntryOffset     = 24
)

var machineMap = map[elf.Machine]string{
	elf.EM_X86_64:  "x86_64",
	elf.EM_AARCH64: "arm64",
	elf.EM_RISCV:   "riscv64",
	elf.EM_PPC64:   "ppc64",
	elf.EM_MIPS:    "mips64",
}

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

// Elf64Header is the ELF64 file header. The identification bytes are order-independent.
type Elf64Header struct {
	Magic      string `struc:"[4]byte"`
	Class      uint8
	Data       uint8
	IdentVer   uint8
	OSABI      uint8
	ABIVersion uint8
	Pad        []byte `struc:"[7]byte"`

	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// Elf64Prog is one ELF64 program header.
type Elf64Prog struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

func MatchElf(r io.ReaderAt) bool {
	return bytes.Equal(getMagic(r), elfMagic)
}

func malformed(format string, args ...interface{}) error {
	return errors.Wrapf(models.ErrMalformedImage, format, args...)
}

func elfOrder(p []byte) (binary.ByteOrder, error) {
	if len(p) < Elf64HeaderSize {
		return nil, malformed("image is %d bytes, shorter than an ELF64 header", len(p))
	}
	if !bytes.Equal(p[:4], elfMagic) {
		return nil, malformed("bad ELF magic % x", p[:4])
	}
	if elf.Class(p[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return nil, malformed("unsupported ELF class %s", elf.Class(p[elf.EI_CLASS]))
	}
	switch elf.Data(p[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		return binary.LittleEndian, nil
	case elf.ELFDATA2MSB:
		return binary.BigEndian, nil
	default:
		return nil, malformed("unknown ELF data encoding %d", p[elf.EI_DATA])
	}
}

// ReadElfHeader validates the identification bytes and decodes the file header.
func ReadElfHeader(p []byte) (*Elf64Header, binary.ByteOrder, error) {
	order, err := elfOrder(p)
	if err != nil {
		return nil, nil, err
	}
	var hdr Elf64Header
	options := &struc.Options{Order: order}
	if err := struc.UnpackWithOptions(bytes.NewReader(p[:Elf64HeaderSize]), &hdr, options); err != nil {
		return nil, nil, errors.Wrap(models.ErrMalformedImage, err.Error())
	}
	return &hdr, order, nil
}

// ReadEntry reads e_entry straight from its header offset.
func ReadEntry(p []byte) (uint64, error) {
	order, err := elfOrder(p)
	if err != nil {
		return 0, err
	}
	return order.Uint64(p[EntryOffset : EntryOffset+8]), nil
}

// ParseElf extracts the entry address and PT_LOAD regions of an ELF64 image. It does not
// modify p and does not check regions against each other or against len(p).
func ParseElf(p []byte) (*models.Image, error) {
	hdr, order, err := ReadElfHeader(p)
	if err != nil {
		return nil, err
	}
	entry, err := ReadEntry(p)
	if err != nil {
		return nil, err
	}
	img := &models.Image{
		Machine: hdr.Machine,
		Arch:    "unknown",
		Bits:    64,
		Order:   order,
		Entry:   entry,
	}
	if name, ok := machineMap[elf.Machine(hdr.Machine)]; ok {
		img.Arch = name
	}
	if hdr.Phnum > 0 && hdr.Phentsize < Elf64ProgSize {
		return nil, malformed("program header size %d < %d", hdr.Phentsize, Elf64ProgSize)
	}
	tableSize := uint64(hdr.Phnum) * uint64(hdr.Phentsize)
	tableEnd := hdr.Phoff + tableSize
	if tableEnd < hdr.Phoff || tableEnd > uint64(len(p)) {
		return nil, malformed("program header table 0x%x+0x%x outside %d byte image", hdr.Phoff, tableSize, len(p))
	}
	options := &struc.Options{Order: order}
	for i := 0; i < int(hdr.Phnum); i++ {
		off := hdr.Phoff + uint64(i)*uint64(hdr.Phentsize)
		var prog Elf64Prog
		if err := struc.UnpackWithOptions(bytes.NewReader(p[off:off+Elf64ProgSize]), &prog, options); err != nil {
			return nil, errors.Wrap(models.ErrMalformedImage, err.Error())
		}
		if elf.ProgType(prog.Type) != elf.PT_LOAD {
			continue
		}
		if prog.Memsz < prog.Filesz {
			return nil, malformed("segment %d: memsz 0x%x < filesz 0x%x", i, prog.Memsz, prog.Filesz)
		}
		if prog.Vaddr+prog.Memsz < prog.Vaddr {
			return nil, malformed("segment %d: 0x%x+0x%x wraps the address space", i, prog.Vaddr, prog.Memsz)
		}
		img.Regions = append(img.Regions, models.Region{
			Off:    prog.Off,
			Filesz: prog.Filesz,
			Addr:   prog.Vaddr,
			Memsz:  prog.Memsz,
		})
	}
	if len(img.Regions) == 0 {
		return nil, malformed("no loadable segments")
	}
	return img, nil
}

// CheckOverlap fails with ErrMalformedImage if any two regions share target addresses.
func CheckOverlap(regions []models.Region) error {
	sorted := make([]models.Region, len(regions))
	copy(sorted, regions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })
	// the furthest-reaching span seen so far
	var last models.Span
	for i := range sorted {
		cur := sorted[i].Span()
		if cur.Empty() {
			continue
		}
		if last.Overlaps(cur) {
			return malformed("segments %s and %s overlap", last, cur)
		}
		if cur.End > last.End {
			last = cur
		}
	}
	return nil
}

// MachineByName maps an architecture name such as "x86_64" back to its ELF machine.
func MachineByName(name string) (elf.Machine, error) {
	for m, n := range machineMap {
		if n == name {
			return m, nil
		}
	}
	return elf.EM_NONE, errors.Errorf("unknown architecture %q", name)
}
