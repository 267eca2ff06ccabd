package models

import (
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// snapshot format:
// struc-packed SnapshotHeader (big endian)
// remainder is the snappy-framed contents of the loaded span

var SNAPSHOT_MAGIC = "BCSP"

type SnapshotHeader struct {
	Magic   string `struc:"[4]byte"`
	Version uint32
	Entry   uint64
	Base    uint64
	Size    uint64
	// crc32 of the uncompressed memory
	Crc uint32
}

type Snapshot struct {
	Entry uint64
	Base  uint64
	Mem   []byte
}

// SaveSnapshot writes the memory handed to a kernel so it can be inspected offline.
func SaveSnapshot(w io.Writer, entry, base uint64, mem []byte) error {
	header := &SnapshotHeader{
		Magic:   SNAPSHOT_MAGIC,
		Version: 1,
		Entry:   entry,
		Base:    base,
		Size:    uint64(len(mem)),
		Crc:     crc32.ChecksumIEEE(mem),
	}
	if err := struc.Pack(w, header); err != nil {
		return errors.Wrap(err, "failed to pack snapshot header")
	}
	zw := snappy.NewBufferedWriter(w)
	if _, err := zw.Write(mem); err != nil {
		return errors.Wrap(err, "failed to write snapshot body")
	}
	return errors.Wrap(zw.Close(), "failed to flush snapshot body")
}

func LoadSnapshot(r io.Reader) (*Snapshot, error) {
	var header SnapshotHeader
	if err := struc.Unpack(r, &header); err != nil {
		return nil, errors.Wrap(err, "failed to unpack snapshot header")
	}
	if header.Magic != SNAPSHOT_MAGIC {
		return nil, errors.New("invalid snapshot magic")
	}
	if header.Version != 1 {
		return nil, errors.Errorf("unsupported snapshot version %d", header.Version)
	}
	mem := make([]byte, header.Size)
	if _, err := io.ReadFull(snappy.NewReader(r), mem); err != nil {
		return nil, errors.Wrap(err, "failed to read snapshot body")
	}
	if crc32.ChecksumIEEE(mem) != header.Crc {
		return nil, errors.New("snapshot checksum mismatch")
	}
	return &Snapshot{Entry: header.Entry, Base: header.Base, Mem: mem}, nil
}
