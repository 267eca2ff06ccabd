package models

import (
	"fmt"
)

// Region is one PT_LOAD segment: Filesz bytes at Off in the image are placed at Addr, and
// the remaining Memsz-Filesz bytes are zero.
type Region struct {
	Off    uint64
	Filesz uint64
	Addr   uint64
	Memsz  uint64
}

func (r *Region) String() string {
	return fmt.Sprintf("0x%x-0x%x file[0x%x+0x%x]", r.Addr, r.Addr+r.Memsz, r.Off, r.Filesz)
}

// Span returns the target address range of the region.
func (r *Region) Span() Span {
	return Span{Start: r.Addr, End: r.Addr + r.Memsz}
}

// ContainsFile reports whether the file bytes of the region fit in an image of size n.
func (r *Region) ContainsFile(n uint64) bool {
	end := r.Off + r.Filesz
	return end >= r.Off && end <= n
}

// Span is a half-open address range [Start, End).
type Span struct {
	Start, End uint64
}

func (s Span) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", s.Start, s.End)
}

func (s Span) Size() uint64 {
	return s.End - s.Start
}

func (s Span) Empty() bool {
	return s.End <= s.Start
}

func (s Span) Contains(addr uint64) bool {
	return addr >= s.Start && addr < s.End
}

// Overlaps is false when either span is empty.
func (s Span) Overlaps(o Span) bool {
	if s.Empty() || o.Empty() {
		return false
	}
	return (s.Start >= o.Start && s.Start < o.End) || (o.Start >= s.Start && o.Start < s.End)
}

func (s *Span) Merge(o Span) {
	if s.Start > o.Start {
		s.Start = o.Start
	}
	if s.End < o.End {
		s.End = o.End
	}
}

// Pages returns the page-aligned span covering s.
func (s Span) Pages() Span {
	return Span{Start: AlignDown(s.Start, PageSize), End: AlignUp(s.End, PageSize)}
}

// PageCount is ceil(size / PageSize) of the page-aligned span.
func (s Span) PageCount() uint64 {
	return s.Pages().Size() / PageSize
}

// SpanOf returns the minimal span covering every region. ok is false for an empty list.
func SpanOf(regions []Region) (span Span, ok bool) {
	for i := range regions {
		if !ok {
			span, ok = regions[i].Span(), true
			continue
		}
		span.Merge(regions[i].Span())
	}
	return span, ok
}
