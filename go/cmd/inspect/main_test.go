package inspect

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lunixbochs/bootcorn/go/loader"
	"github.com/lunixbochs/bootcorn/go/models"
)

func TestInspectElf(t *testing.T) {
	b := &loader.ElfBuilder{
		Entry: 0x100001,
		Segments: []loader.ElfSegment{
			{Addr: 0x100000, Data: []byte{0x90, 0x90, 0xc3}},
			{Addr: 0x100800, Data: []byte{1}, Memsz: 0x1000},
		},
	}
	p, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := Inspect(&out, p, 2, false); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	for _, want := range []string{"x86_64, entry 0x100001", "2 pages at 0x100000", "0x100001: nop", "0x100002: ret"} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in:\n%s", want, s)
		}
	}
}

func TestInspectOverlapWarning(t *testing.T) {
	b := &loader.ElfBuilder{
		Entry: 0x1000,
		Segments: []loader.ElfSegment{
			{Addr: 0x1000, Data: make([]byte, 0x20)},
			{Addr: 0x1010, Data: make([]byte, 0x20)},
		},
	}
	p, _ := b.Bytes()
	var out bytes.Buffer
	if err := Inspect(&out, p, 0, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "warning:") {
		t.Errorf("no overlap warning:\n%s", out.String())
	}
}

func TestInspectSnapshot(t *testing.T) {
	var buf bytes.Buffer
	if err := models.SaveSnapshot(&buf, 0x100008, 0x100000, make([]byte, 0x2000)); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := Inspect(&out, buf.Bytes(), 0, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "entry 0x100008, 0x100000-0x102000") {
		t.Errorf("bad snapshot summary: %s", out.String())
	}
	if err := Inspect(&out, []byte("nothing here"), 0, false); err == nil {
		t.Error("garbage accepted")
	}
}
