package models

import (
	"fmt"
	"io"
	"os"
)

type Config struct {
	// Output is the console while boot services are alive. Defaults to os.Stderr.
	Output  io.Writer
	Verbose bool

	// AllowOverlap accepts images whose loadable regions overlap in memory. The file bytes
	// of later regions then overwrite earlier ones in header order. Zero fill only
	// happens once, before any copy, so a later region's bss never clears earlier bytes.
	AllowOverlap bool
}

func (c *Config) Init() *Config {
	if c == nil {
		c = &Config{}
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
	return c
}

func (c *Config) Printf(format string, args ...interface{}) {
	if c.Output != nil {
		fmt.Fprintf(c.Output, format, args...)
	}
}

// Logf prints only in verbose mode.
func (c *Config) Logf(format string, args ...interface{}) {
	if c.Verbose {
		c.Printf(format, args...)
	}
}
