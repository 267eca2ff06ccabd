package boot

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/bootcorn/go/models"
)

// Retired is the state after boot services are gone. Nothing may print or allocate from
// here on.
type Retired struct {
	Phase  models.Phase
	Entry  uint64
	Window *Window
}

// exitAttempts bounds ExitBootServices: one retry after a stale map key.
const exitAttempts = 2

// Retire frees the scratch buffer and retires boot services.
func Retire(fw models.BootServices, cfg *models.Config, l *Loaded) (*Retired, error) {
	if l == nil || l.Phase != models.PhaseLoaded {
		return nil, errors.Wrap(models.ErrPhase, "retire needs a loaded image")
	}
	cfg = cfg.Init()
	if err := l.Scratch.Free(fw); err != nil {
		return nil, err
	}
	cfg.Logf("exiting boot services, entry 0x%x\n", l.Image.Entry)

	var err error
	for attempt := 1; attempt <= exitAttempts; attempt++ {
		var key uint64
		if key, err = fw.MapKey(); err != nil {
			break
		}
		if err = fw.ExitBootServices(key); err == nil {
			l.Phase = models.PhaseServicesRetired
			return &Retired{Phase: models.PhaseServicesRetired, Entry: l.Image.Entry, Window: l.Window}, nil
		}
		if errors.Cause(err) != models.ErrStaleMapKey {
			break
		}
	}
	return nil, errors.Wrap(models.ErrHandoffRejected, err.Error())
}

// Transfer jumps to the kernel. It only returns for state from the wrong phase.
func Transfer(p models.Platform, r *Retired) error {
	if r == nil || r.Phase != models.PhaseServicesRetired {
		return errors.Wrap(models.ErrPhase, "transfer needs retired boot services")
	}
	CallUnsafeEntry(p, r.Entry)
	return nil
}

// CallUnsafeEntry hands the machine to the code at entry. This is the one irreversible
// action of the loader: execution after this point belongs to the loaded image.
func CallUnsafeEntry(p models.Platform, entry uint64) {
	p.Jump(entry)
}
