package models

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Image is the parsed layout of a kernel image. Regions are in program header order.
type Image struct {
	Arch    string
	Machine uint16
	Bits    int
	Order   binary.ByteOrder
	Entry   uint64
	Regions []Region
}

// Span returns the Load Span of the image.
func (i *Image) Span() (Span, bool) {
	return SpanOf(i.Regions)
}

// Equal compares entry and regions, ignoring decoded metadata.
func (i *Image) Equal(o *Image) bool {
	if i.Entry != o.Entry || len(i.Regions) != len(o.Regions) {
		return false
	}
	for n := range i.Regions {
		if i.Regions[n] != o.Regions[n] {
			return false
		}
	}
	return true
}

func (i *Image) String() string {
	lines := []string{fmt.Sprintf("entry 0x%x (%s, %d-bit)", i.Entry, i.Arch, i.Bits)}
	for n := range i.Regions {
		lines = append(lines, "  "+i.Regions[n].String())
	}
	if span, ok := i.Span(); ok {
		lines = append(lines, fmt.Sprintf("span %s, %d pages", span, span.PageCount()))
	}
	return strings.Join(lines, "\n")
}
