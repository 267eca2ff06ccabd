package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/firmware/sim"
	"github.com/lunixbochs/bootcorn/go/models"
)

type strslice []string

func (s *strslice) String() string {
	return fmt.Sprintf("%v", *s)
}

func (s *strslice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// Color reports whether stdout is a terminal that should get ansi colors.
func Color() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Stdout returns a writer that renders ansi escapes on every platform.
func Stdout() io.Writer {
	return colorable.NewColorableStdout()
}

// Paint wraps s in an ansi color if color is enabled.
func Paint(color bool, s, style string) string {
	if !color {
		return s
	}
	return ansi.Color(s, style)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints an error, and a stacktrace if available.
func PrintError(err error) {
	w := colorable.NewColorableStderr()
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(w, "%s %s\n", ansi.Color("Error:", "red+b"), err)
	tracer, ok := err.(stackTracer)
	if !ok {
		return
	}
	// parse full path and method name for each stack frame
	var frames [][]string
	for _, f := range tracer.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	// calculate column widths
	widths := make([]int, 3)
	for _, f := range frames {
		for i, s := range f {
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(w, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(w, "%s()\n", f[2])
	}
}

// reservation parses "addr+size" or "addr-end".
func parseReservation(s string) (addr, size uint64, err error) {
	sep := strings.IndexAny(s, "+-")
	if sep < 0 {
		return 0, 0, errors.Errorf("bad reservation %q, want addr+size or addr-end", s)
	}
	addr, err = strconv.ParseUint(s[:sep], 0, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "bad reservation address %q", s[:sep])
	}
	n, err := strconv.ParseUint(s[sep+1:], 0, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "bad reservation %q", s)
	}
	if s[sep] == '+' {
		return addr, n, nil
	}
	if n <= addr {
		return 0, 0, errors.Errorf("reservation %q ends before it starts", s)
	}
	return addr, n - addr, nil
}

// BootCmd holds the flags shared by commands that boot an image on simulated firmware.
type BootCmd struct {
	Flags  *flag.FlagSet
	Config *models.Config

	volume    *string
	ramBase   *uint64
	ramSize   *uint64
	poolLow   *bool
	stale     *int
	overlap   *bool
	verbose   *bool
	reserved  strslice
	usageArgs string
}

func NewBootCmd(name, usageArgs string) *BootCmd {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := &BootCmd{Flags: fs, usageArgs: usageArgs}
	c.verbose = fs.Bool("v", false, "verbose output")
	fs.Usage = c.Usage
	return c
}

// FirmwareFlags registers the flags that shape the simulated machine.
func (c *BootCmd) FirmwareFlags() {
	fs := c.Flags
	c.overlap = fs.Bool("allow-overlap", false, "accept images whose segments overlap (later file bytes win)")
	c.volume = fs.String("volume", ".", "directory served as the boot volume")
	c.ramBase = fs.Uint64("ram-base", sim.DefaultRAMBase, "physical RAM base address")
	c.ramSize = fs.Uint64("ram-size", sim.DefaultRAMSize, "physical RAM size")
	c.poolLow = fs.Bool("pool-low", false, "allocate pool memory from the bottom of RAM")
	c.stale = fs.Int("stale", 0, "number of ExitBootServices calls that report a stale map key")
	fs.Var(&c.reserved, "reserve", "reserve firmware memory, as addr+size or addr-end (repeatable)")
}

func (c *BootCmd) Usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] %s\n\nOptions:\n", c.Flags.Name(), c.usageArgs)
	var flags []*flag.Flag
	c.Flags.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
	models.PrintFlags(os.Stderr, flags)
}

// Parse parses argv (argv[0] is the command name) and builds Config.
func (c *BootCmd) Parse(argv []string) {
	c.Flags.Parse(argv[1:])
	c.Config = (&models.Config{Verbose: *c.verbose}).Init()
	if c.overlap != nil {
		c.Config.AllowOverlap = *c.overlap
	}
}

// Firmware builds a simulated platform over the volume directory.
func (c *BootCmd) Firmware(onJump func(entry uint64, fw *sim.Firmware) error) (*sim.Firmware, error) {
	if c.volume == nil {
		return nil, errors.New("firmware flags not registered")
	}
	st, err := os.Stat(*c.volume)
	if err != nil {
		return nil, errors.Wrap(err, "volume")
	}
	if !st.IsDir() {
		return nil, errors.Errorf("volume %s is not a directory", *c.volume)
	}
	opts := sim.Options{
		RAMBase:    *c.ramBase,
		RAMSize:    *c.ramSize,
		StaleExits: *c.stale,
		OnJump:     onJump,
	}
	if *c.poolLow {
		opts.Pool = sim.PoolBottom
	}
	fw := sim.New(os.DirFS(*c.volume), opts)
	for _, r := range c.reserved {
		addr, size, err := parseReservation(r)
		if err != nil {
			return nil, err
		}
		if err := fw.Reserve(addr, size); err != nil {
			return nil, err
		}
		c.Config.Logf("reserved firmware memory 0x%x-0x%x\n", addr, addr+size)
	}
	return fw, nil
}
