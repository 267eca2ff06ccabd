package boot

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/lunixbochs/bootcorn/go/firmware/sim"
	"github.com/lunixbochs/bootcorn/go/loader"
	"github.com/lunixbochs/bootcorn/go/models"
)

func scenarioA() *loader.ElfBuilder {
	return &loader.ElfBuilder{
		Entry: 0x100008,
		Segments: []loader.ElfSegment{
			{Addr: 0x100000, Data: bytes.Repeat([]byte{0xaa}, 0x100), Off: 0x40},
			{Addr: 0x101000, Data: bytes.Repeat([]byte{0xbb}, 0x20), Memsz: 0x60, Off: 0x140},
		},
	}
}

func volume(t *testing.T, b *loader.ElfBuilder) fstest.MapFS {
	p, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return fstest.MapFS{KernelName: {Data: p}}
}

func imageVolume(p []byte) fstest.MapFS {
	return fstest.MapFS{KernelName: {Data: p}}
}

// index of the first call starting with prefix, or -1
func called(fw *sim.Firmware, prefix string) int {
	for i, c := range fw.Calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func boot(fw *sim.Firmware, cfg *models.Config) (sim.Outcome, error) {
	var err error
	out := fw.Run(func() { err = Boot(fw, cfg) })
	return out, err
}

func readMem(t *testing.T, fw *sim.Firmware, addr, size uint64) []byte {
	p := make([]byte, size)
	if err := fw.Mem.Read(addr, p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestScenarioA(t *testing.T) {
	fw := sim.New(volume(t, scenarioA()), sim.Options{})
	out, err := boot(fw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Transferred || out.Entry != 0x100008 {
		t.Fatalf("bad outcome %+v", out)
	}
	if !bytes.Equal(readMem(t, fw, 0x100000, 0x100), bytes.Repeat([]byte{0xaa}, 0x100)) {
		t.Error("region 1 not copied")
	}
	if !bytes.Equal(readMem(t, fw, 0x100100, 0xf00), make([]byte, 0xf00)) {
		t.Error("gap between regions not zero")
	}
	if !bytes.Equal(readMem(t, fw, 0x101000, 0x20), bytes.Repeat([]byte{0xbb}, 0x20)) {
		t.Error("region 2 not copied")
	}
	if !bytes.Equal(readMem(t, fw, 0x101020, 0x40), make([]byte, 0x40)) {
		t.Error("bss of region 2 not zero")
	}
	if !bytes.Equal(readMem(t, fw, 0x101060, 0xfa0), make([]byte, 0xfa0)) {
		t.Error("page tail not zero")
	}
	if !fw.Retired() || len(fw.Pools()) != 0 {
		t.Error("boot services not retired or scratch not freed")
	}
}

func TestScenarioBEntryVerbatim(t *testing.T) {
	b := scenarioA()
	b.Segments[0].Data = bytes.Repeat([]byte{0xcc}, 0x100)
	for _, entry := range []uint64{0x100008, 0x100000, 0xdeadbeef} {
		b.Entry = entry
		fw := sim.New(volume(t, b), sim.Options{})
		out, err := boot(fw, nil)
		if err != nil {
			t.Fatal(err)
		}
		if out.Entry != entry {
			t.Errorf("jumped to 0x%x, want 0x%x", out.Entry, entry)
		}
	}
}

func TestLoadSpanMatchesImage(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 50; iter++ {
		b := &loader.ElfBuilder{Entry: 0x200000}
		addr := uint64(0x200000) + uint64(rng.Intn(0x1000))
		n := 1 + rng.Intn(5)
		for i := 0; i < n; i++ {
			data := make([]byte, rng.Intn(0x300))
			rng.Read(data)
			memsz := uint64(len(data)) + uint64(rng.Intn(0x200))
			b.Segments = append(b.Segments, loader.ElfSegment{Addr: addr, Data: data, Memsz: memsz})
			addr += memsz + uint64(rng.Intn(0x2000))
		}
		// expected memory, including zero between regions
		first, last := b.Segments[0], b.Segments[n-1]
		span := models.Span{Start: first.Addr, End: last.Addr + last.Memsz}
		want := make([]byte, span.Size())
		for _, seg := range b.Segments {
			copy(want[seg.Addr-span.Start:], seg.Data)
		}
		// shuffle header order; copy order must not matter
		rng.Shuffle(len(b.Segments), func(i, j int) { b.Segments[i], b.Segments[j] = b.Segments[j], b.Segments[i] })

		fw := sim.New(volume(t, b), sim.Options{})
		if _, err := boot(fw, nil); err != nil {
			t.Fatal(err)
		}
		pages := span.Pages()
		got := readMem(t, fw, pages.Start, pages.Size())
		lead := span.Start - pages.Start
		if !bytes.Equal(got[lead:lead+span.Size()], want) {
			t.Fatalf("iteration %d: loaded span differs from image", iter)
		}
		tail := got[lead+span.Size():]
		if !bytes.Equal(got[:lead], make([]byte, lead)) || !bytes.Equal(tail, make([]byte, len(tail))) {
			t.Fatalf("iteration %d: page padding not zero", iter)
		}
	}
}

func TestMalformedNeverAllocates(t *testing.T) {
	p, _ := scenarioA().Bytes()
	images := map[string][]byte{
		"short": p[:40],
		"magic": append([]byte("\x7fELG"), p[4:]...),
	}
	for name, img := range images {
		fw := sim.New(imageVolume(img), sim.Options{})
		out, err := boot(fw, nil)
		if models.Kind(err) != models.ErrMalformedImage {
			t.Errorf("%s: got %v", name, err)
		}
		if out.Transferred || called(fw, "AllocatePages") >= 0 {
			t.Errorf("%s: allocated or jumped: %v", name, fw.Calls)
		}
		if len(fw.Pools()) != 0 {
			t.Errorf("%s: scratch not freed", name)
		}
	}
}

func TestCopyOutOfBoundsBeforeAllocation(t *testing.T) {
	b := scenarioA()
	p, _ := b.Bytes()
	// region 2 claims more file bytes than the image holds
	binary.LittleEndian.PutUint64(p[b.Phoff+loader.Elf64ProgSize+32:], 0x1000)
	binary.LittleEndian.PutUint64(p[b.Phoff+loader.Elf64ProgSize+40:], 0x1000)
	fw := sim.New(imageVolume(p), sim.Options{})
	_, err := boot(fw, nil)
	if models.Kind(err) != models.ErrCopyOutOfBounds {
		t.Fatalf("got %v", err)
	}
	if called(fw, "AllocatePages") >= 0 {
		t.Error("allocated before bounds check")
	}
	if !fw.Mem.Free(0x100000, 0x2000) {
		t.Error("target range touched")
	}
}

func TestAddressUnavailable(t *testing.T) {
	fw := sim.New(volume(t, scenarioA()), sim.Options{})
	if err := fw.Reserve(0x101000, 0x1000); err != nil {
		t.Fatal(err)
	}
	marker := bytes.Repeat([]byte{0x5a}, 0x1000)
	fw.Mem.Write(0x101000, marker)

	out, err := boot(fw, nil)
	if models.Kind(err) != models.ErrAddressUnavailable {
		t.Fatalf("got %v", err)
	}
	if out.Transferred || fw.Retired() {
		t.Error("continued after denied allocation")
	}
	if !bytes.Equal(readMem(t, fw, 0x101000, 0x1000), marker) {
		t.Error("zeroed or copied into memory it does not own")
	}
	if !fw.Mem.Free(0x100000, 0x1000) {
		t.Error("partial allocation left behind")
	}
}

func TestScratchInsideSpan(t *testing.T) {
	// pool memory comes from the bottom of RAM, exactly where the kernel wants to live
	fw := sim.New(volume(t, scenarioA()), sim.Options{RAMBase: 0x100000, RAMSize: 0x100000, Pool: sim.PoolBottom})
	_, err := boot(fw, nil)
	if models.Kind(err) != models.ErrAddressUnavailable {
		t.Fatalf("got %v", err)
	}
	if called(fw, "AllocatePages") >= 0 {
		t.Error("requested pages over a live scratch buffer")
	}
}

func TestHandoffRetry(t *testing.T) {
	fw := sim.New(volume(t, scenarioA()), sim.Options{StaleExits: 1})
	out, err := boot(fw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Transferred {
		t.Fatal("did not transfer after one stale key")
	}
	exits := 0
	for _, c := range fw.Calls {
		if strings.HasPrefix(c, "ExitBootServices") {
			exits++
		}
	}
	if exits != 2 {
		t.Errorf("ExitBootServices called %d times", exits)
	}
}

func TestHandoffRejected(t *testing.T) {
	var buf bytes.Buffer
	cfg := &models.Config{Output: &buf}
	fw := sim.New(volume(t, scenarioA()), sim.Options{StaleExits: 2})
	out := fw.Run(func() { Main(fw, cfg) })
	if !out.Halted || out.Transferred {
		t.Fatalf("bad outcome %+v", out)
	}
	if !strings.Contains(buf.String(), models.ErrHandoffRejected.Error()) {
		t.Errorf("missing diagnostic: %q", buf.String())
	}
	if called(fw, "ExitBootServices") < 0 || fw.Retired() {
		t.Error("bad retire state")
	}
	if n := len(fw.Calls); fw.Calls[n-1] != "Halt" || strings.Count(strings.Join(fw.Calls, " "), "ExitBootServices") != 2 {
		t.Errorf("unexpected calls %v", fw.Calls)
	}
}

func TestHandoffOrder(t *testing.T) {
	var buf bytes.Buffer
	fw := sim.New(volume(t, scenarioA()), sim.Options{})
	out := fw.Run(func() { Main(fw, &models.Config{Output: &buf, Verbose: true}) })
	if !out.Transferred {
		t.Fatalf("bad outcome %+v", out)
	}
	seq := []string{"Open", "GetInfo", "AllocatePool", "Read", "Close", "AllocatePages", "FreePool", "MapKey", "ExitBootServices", "Jump"}
	last := -1
	for _, name := range seq {
		i := called(fw, name)
		if i <= last {
			t.Fatalf("%s out of order: %v", name, fw.Calls)
		}
		last = i
	}
	if fw.Calls[len(fw.Calls)-1] != "Jump[0x100008]" {
		t.Errorf("calls after jump: %v", fw.Calls)
	}
	if strings.Contains(buf.String(), "boot failed") {
		t.Errorf("unexpected failure output %q", buf.String())
	}
}

func TestPhases(t *testing.T) {
	fw := sim.New(volume(t, scenarioA()), sim.Options{})
	if _, err := Retire(fw, nil, nil); models.Kind(err) != models.ErrPhase {
		t.Errorf("retire(nil): %v", err)
	}
	if err := Transfer(fw, &Retired{Phase: models.PhaseLoaded}); models.Kind(err) != models.ErrPhase {
		t.Errorf("transfer before retire: %v", err)
	}

	l, err := Load(fw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Phase != models.PhaseLoaded {
		t.Fatalf("phase %s", l.Phase)
	}
	if fw.Retired() || len(fw.Pools()) != 1 {
		t.Error("load retired services or dropped scratch early")
	}
	r, err := Retire(fw, nil, l)
	if err != nil {
		t.Fatal(err)
	}
	if r.Phase != models.PhaseServicesRetired || l.Phase != models.PhaseServicesRetired {
		t.Errorf("phases %s %s", r.Phase, l.Phase)
	}
	if _, err := Retire(fw, nil, l); models.Kind(err) != models.ErrPhase {
		t.Errorf("second retire: %v", err)
	}
	// boot services are gone
	if _, _, err := fw.AllocatePool(16); models.Kind(err) != models.ErrServicesRetired {
		t.Errorf("pool after retire: %v", err)
	}
	out := fw.Run(func() { Transfer(fw, r) })
	if !out.Transferred || out.Entry != 0x100008 {
		t.Errorf("bad outcome %+v", out)
	}
}

func TestOverlappingRegions(t *testing.T) {
	b := &loader.ElfBuilder{
		Entry: 0x100000,
		Segments: []loader.ElfSegment{
			{Addr: 0x100000, Data: bytes.Repeat([]byte{1}, 0x100)},
			{Addr: 0x100080, Data: bytes.Repeat([]byte{2}, 0x100)},
		},
	}
	fw := sim.New(volume(t, b), sim.Options{})
	if _, err := boot(fw, nil); models.Kind(err) != models.ErrMalformedImage {
		t.Fatalf("got %v", err)
	}

	fw = sim.New(volume(t, b), sim.Options{})
	if _, err := boot(fw, &models.Config{AllowOverlap: true}); err != nil {
		t.Fatal(err)
	}
	want := append(bytes.Repeat([]byte{1}, 0x80), bytes.Repeat([]byte{2}, 0x100)...)
	if !bytes.Equal(readMem(t, fw, 0x100000, 0x180), want) {
		t.Error("later region should win in compat mode")
	}

	// a later region's bss does not clear bytes an earlier region copied
	b.Segments = []loader.ElfSegment{
		{Addr: 0x100000, Data: bytes.Repeat([]byte{1}, 0x100)},
		{Addr: 0x100040, Data: bytes.Repeat([]byte{2}, 0x10), Memsz: 0x100},
	}
	fw = sim.New(volume(t, b), sim.Options{})
	if _, err := boot(fw, &models.Config{AllowOverlap: true}); err != nil {
		t.Fatal(err)
	}
	want = append(bytes.Repeat([]byte{1}, 0x40), bytes.Repeat([]byte{2}, 0x10)...)
	want = append(want, bytes.Repeat([]byte{1}, 0xb0)...)
	if !bytes.Equal(readMem(t, fw, 0x100000, 0x100), want) {
		t.Error("bss of a later region overwrote earlier file bytes")
	}
}

func TestMissingKernel(t *testing.T) {
	var buf bytes.Buffer
	fw := sim.New(fstest.MapFS{}, sim.Options{})
	out := fw.Run(func() { Main(fw, &models.Config{Output: &buf}) })
	if !out.Halted {
		t.Fatal("did not halt")
	}
	if !strings.Contains(buf.String(), "not found") {
		t.Errorf("output %q", buf.String())
	}
}

func TestWindowRead(t *testing.T) {
	fw := sim.New(volume(t, scenarioA()), sim.Options{})
	l, err := Load(fw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if span := l.Window.Span(); span.Start != 0x100000 || span.End != 0x102000 {
		t.Fatalf("window %s", span)
	}
	p := make([]byte, 0x30)
	if err := l.Window.Read(0x101010, p); err != nil {
		t.Fatal(err)
	}
	want := append(bytes.Repeat([]byte{0xbb}, 0x10), make([]byte, 0x20)...)
	if !bytes.Equal(p, want) {
		t.Errorf("read % x", p)
	}
	if err := l.Window.Read(0x101ff0, p); err == nil {
		t.Error("read past the window")
	}
	if err := l.Window.Read(0xfffff, p[:1]); err == nil {
		t.Error("read below the window")
	}
}
