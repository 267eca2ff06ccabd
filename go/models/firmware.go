package models

// File is an open firmware file handle.
type File interface {
	// Size returns the size recorded in the file's metadata.
	Size() (uint64, error)
	Read(p []byte) (int, error)
	Close() error
}

// Volume is a read-only filesystem exposed by firmware.
type Volume interface {
	// Open returns ErrNotFound if name does not exist.
	Open(name string) (File, error)
}

// BootServices are the firmware services available until ExitBootServices succeeds.
type BootServices interface {
	Volume

	// AllocatePool returns scratch memory of at least size bytes and its physical address.
	AllocatePool(size uint64) (addr uint64, buf []byte, err error)
	FreePool(addr uint64) error
	// AllocatePages reserves count pages at exactly addr and returns a view of them.
	// It fails with ErrAddressUnavailable if the range cannot be granted.
	AllocatePages(addr, count uint64) ([]byte, error)

	// MapKey returns the current memory map generation.
	MapKey() (uint64, error)
	// ExitBootServices retires boot services. It returns ErrStaleMapKey if key is not
	// the current generation.
	ExitBootServices(key uint64) error
}

// Platform is everything the loader needs from the machine.
type Platform interface {
	BootServices

	// Jump transfers control to entry using the native calling convention. It does not
	// return.
	Jump(entry uint64)
	// Halt parks the processor forever.
	Halt()
}
