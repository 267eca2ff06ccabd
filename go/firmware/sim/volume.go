package sim

import (
	"io/fs"

	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/models"
)

type file struct {
	fs.File
	fw     *Firmware
	closed bool
}

func (f *file) Size() (uint64, error) {
	if err := f.fw.call("GetInfo"); err != nil {
		return 0, err
	}
	info, err := f.File.Stat()
	if err != nil {
		return 0, errors.Wrap(models.ErrIO, err.Error())
	}
	if info.Size() < 0 {
		return 0, errors.Wrapf(models.ErrIO, "negative file size %d", info.Size())
	}
	return uint64(info.Size()), nil
}

func (f *file) Read(p []byte) (int, error) {
	if err := f.fw.call("Read"); err != nil {
		return 0, err
	}
	return f.File.Read(p)
}

func (f *file) Close() error {
	f.fw.Calls = append(f.fw.Calls, "Close")
	if f.closed {
		return errors.New("file already closed")
	}
	f.closed = true
	f.fw.handles--
	return f.File.Close()
}

// Open opens a regular file on the volume read-only.
func (f *Firmware) Open(name string) (models.File, error) {
	if err := f.call("Open", name); err != nil {
		return nil, err
	}
	fh, err := f.Vol.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(models.ErrNotFound, name)
	} else if err != nil {
		return nil, errors.Wrap(models.ErrIO, err.Error())
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, errors.Wrap(models.ErrIO, err.Error())
	}
	if !info.Mode().IsRegular() {
		fh.Close()
		return nil, errors.Wrapf(models.ErrNotFound, "%s is not a regular file", name)
	}
	f.handles++
	return &file{File: fh, fw: f}, nil
}
