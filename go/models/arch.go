package models

// Arch holds the emulator and disassembler constants for one machine type.
type Arch struct {
	Name    string
	Bits    int
	CS_ARCH int
	CS_MODE int
	UC_ARCH int
	UC_MODE int
	PC      int
	SP      int
}
