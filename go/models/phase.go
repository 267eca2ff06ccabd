package models

import "fmt"

// Phase is the one-way state of a boot. It only moves forward.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseLoaded
	PhaseServicesRetired
)

var phaseNames = []string{"init", "loaded", "services-retired"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}
