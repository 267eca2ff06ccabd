package loader

import (
	"io"

	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/models"
)

// Scratch is the raw image buffer. Addr is its physical address, which matters because
// the kernel's fixed placement must not land on top of it.
type Scratch struct {
	Addr uint64
	Data []byte
}

// Span returns the physical range occupied by the buffer.
func (s *Scratch) Span() models.Span {
	return models.Span{Start: s.Addr, End: s.Addr + uint64(len(s.Data))}
}

// Free returns the buffer to the firmware pool.
func (s *Scratch) Free(fw models.BootServices) error {
	if s.Data == nil {
		return nil
	}
	if err := fw.FreePool(s.Addr); err != nil {
		return errors.Wrapf(err, "free scratch buffer at 0x%x", s.Addr)
	}
	s.Data = nil
	return nil
}

// kind keeps err's cause if it is one of the given sentinels, otherwise classifies it as
// fallback.
func kind(err error, fallback error, keep ...error) error {
	cause := errors.Cause(err)
	for _, k := range keep {
		if cause == k {
			return err
		}
	}
	return errors.Wrap(fallback, err.Error())
}

// ReadImage reads the whole named file into a pool buffer sized from the file metadata.
// The file handle is closed on every path.
func ReadImage(fw models.BootServices, name string) (scratch *Scratch, err error) {
	f, err := fw.Open(name)
	if err != nil {
		return nil, errors.WithMessagef(kind(err, models.ErrIO, models.ErrNotFound), "open %s", name)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			scratch.Free(fw)
			scratch = nil
			err = errors.WithMessagef(kind(cerr, models.ErrIO), "close %s", name)
		}
	}()

	size, err := f.Size()
	if err != nil {
		return nil, errors.WithMessagef(kind(err, models.ErrIO), "stat %s", name)
	}
	addr, buf, err := fw.AllocatePool(size)
	if err != nil {
		return nil, errors.WithMessagef(kind(err, models.ErrAllocation), "allocate %d bytes for %s", size, name)
	}
	if uint64(len(buf)) < size {
		fw.FreePool(addr)
		return nil, errors.Wrapf(models.ErrAllocation, "pool returned %d of %d bytes", len(buf), size)
	}
	scratch = &Scratch{Addr: addr, Data: buf[:size]}

	n, err := io.ReadFull(f, scratch.Data)
	if err != nil {
		scratch.Free(fw)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, errors.Wrapf(models.ErrIO, "short read of %s: %d of %d bytes", name, n, size)
		}
		return nil, errors.WithMessagef(kind(err, models.ErrIO), "read %s", name)
	}
	return scratch, nil
}
