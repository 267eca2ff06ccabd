package arch

import (
	cs "github.com/lunixbochs/capstr"
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/bootcorn/go/models"
)

var archMap = map[string]*models.Arch{
	"x86_64": {
		Name:    "x86_64",
		Bits:    64,
		CS_ARCH: cs.ARCH_X86,
		CS_MODE: cs.MODE_64,
		UC_ARCH: uc.ARCH_X86,
		UC_MODE: uc.MODE_64,
		PC:      uc.X86_REG_RIP,
		SP:      uc.X86_REG_RSP,
	},
	"arm64": {
		Name:    "arm64",
		Bits:    64,
		CS_ARCH: cs.ARCH_ARM64,
		CS_MODE: cs.MODE_ARM,
		UC_ARCH: uc.ARCH_ARM64,
		UC_MODE: uc.MODE_ARM,
		PC:      uc.ARM64_REG_PC,
		SP:      uc.ARM64_REG_SP,
	},
}

func GetArch(name string) (*models.Arch, error) {
	a, ok := archMap[name]
	if !ok {
		return nil, errors.Errorf("arch '%s' not supported for emulation", name)
	}
	return a, nil
}
