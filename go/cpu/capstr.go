package cpu

import (
	"fmt"
	"strings"

	cs "github.com/lunixbochs/capstr"
	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/models"
)

type Capstr struct {
	Arch, Mode int

	cs *cs.Engine
}

func (c *Capstr) Open() (err error) {
	engine, err := cs.New(c.Arch, c.Mode)
	if err == nil {
		c.cs = engine
	}
	return errors.Wrap(err, "cs.New() failed")
}

// Dis disassembles up to count instructions of mem, which is located at addr. A count of
// zero disassembles all of mem.
func (c *Capstr) Dis(mem []byte, addr uint64, count int) ([]models.Ins, error) {
	if c.cs == nil {
		if err := c.Open(); err != nil {
			return nil, err
		}
	}
	if count < 0 {
		count = 0
	}
	dis, err := c.cs.Dis(mem, addr, uint64(count))
	if err != nil {
		return nil, errors.Wrap(err, "capstone disassembly failed")
	}
	if count > 0 && len(dis) > count {
		dis = dis[:count]
	}
	ret := make([]models.Ins, len(dis))
	for i, v := range dis {
		ret[i] = v
	}
	return ret, nil
}

// Format renders instructions one per line as "0xaddr: mnemonic operands".
func Format(ins []models.Ins) string {
	lines := make([]string, len(ins))
	for i, v := range ins {
		lines[i] = strings.TrimSpace(fmt.Sprintf("0x%x: %s %s", v.Addr(), v.Mnemonic(), v.OpStr()))
	}
	return strings.Join(lines, "\n")
}
