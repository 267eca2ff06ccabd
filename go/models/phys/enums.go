package phys

// reservation kinds, after the firmware memory types the loader cares about
const (
	LOADER_DATA = iota + 1
	FIRMWARE
)

var kindNames = map[int]string{
	LOADER_DATA: "loader",
	FIRMWARE:    "firmware",
}

// these errors are reported in MemError.Enum
const (
	MEM_READ_UNMAPPED = iota + 1
	MEM_WRITE_UNMAPPED
	MEM_OUT_OF_RANGE
	MEM_OVERLAP
	MEM_NOT_RESERVED
	MEM_SPLIT_VIEW
)
