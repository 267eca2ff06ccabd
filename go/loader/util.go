package loader

import (
	"io"
)

func getMagic(r io.ReaderAt) []byte {
	ret := make([]byte, len(elfMagic))
	r.ReadAt(ret, 0)
	return ret
}
