package mkimage

import (
	"encoding/binary"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/cmd"
	"github.com/lunixbochs/bootcorn/go/loader"
)

// parseSegment parses "addr:file[:memsz]".
func parseSegment(s string, readFile func(string) ([]byte, error)) (loader.ElfSegment, error) {
	var seg loader.ElfSegment
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return seg, errors.Errorf("bad segment %q, want addr:file[:memsz]", s)
	}
	addr, err := strconv.ParseUint(parts[0], 0, 64)
	if err != nil {
		return seg, errors.Wrapf(err, "segment %q address", s)
	}
	data, err := readFile(parts[1])
	if err != nil {
		return seg, errors.WithStack(err)
	}
	seg.Addr, seg.Data = addr, data
	if len(parts) == 3 {
		if seg.Memsz, err = strconv.ParseUint(parts[2], 0, 64); err != nil {
			return seg, errors.Wrapf(err, "segment %q memsz", s)
		}
		if seg.Memsz < uint64(len(data)) {
			return seg, errors.Errorf("segment %q: memsz is smaller than %d file bytes", s, len(data))
		}
	}
	return seg, nil
}

// Build assembles an ELF64 executable from segment specs.
func Build(archName string, entry uint64, bigEndian bool, specs []string, readFile func(string) ([]byte, error)) ([]byte, error) {
	machine, err := loader.MachineByName(archName)
	if err != nil {
		return nil, err
	}
	b := &loader.ElfBuilder{Machine: machine, Entry: entry, Order: binary.LittleEndian}
	if bigEndian {
		b.Order = binary.BigEndian
	}
	for _, s := range specs {
		seg, err := parseSegment(s, readFile)
		if err != nil {
			return nil, err
		}
		b.Segments = append(b.Segments, seg)
	}
	if len(b.Segments) == 0 {
		return nil, errors.New("no segments")
	}
	return b.Bytes()
}

func Main(args []string) {
	c := cmd.NewBootCmd(args[0], "addr:file[:memsz]...")
	archName := c.Flags.String("arch", "x86_64", "target architecture")
	entry := c.Flags.Uint64("entry", 0, "entry point address")
	be := c.Flags.Bool("be", false, "write a big endian image")
	out := c.Flags.String("o", "kernel.elf", "output file")
	c.Parse(args)

	p, err := Build(*archName, *entry, *be, c.Flags.Args(), os.ReadFile)
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, p, 0644); err != nil {
		cmd.PrintError(errors.WithStack(err))
		os.Exit(1)
	}
	c.Config.Logf("wrote %d bytes to %s\n", len(p), *out)
}

func init() { cmd.Register("mkimage", "build a kernel image from raw blobs", Main) }
