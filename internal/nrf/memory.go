package nrf

// MemoryType classifies a region of the device memory map.
type MemoryType uint8

const (
	MemTypeCode    MemoryType = 0
	MemTypeDataRAM MemoryType = 1
	MemTypeCodeRAM MemoryType = 2
	MemTypeFICR    MemoryType = 3
	MemTypeUICR    MemoryType = 4
	MemTypeXIP     MemoryType = 5
)

func (t MemoryType) String() string {
	switch t {
	case MemTypeCode:
		return "CODE"
	case MemTypeDataRAM:
		return "DATA_RAM"
	case MemTypeCodeRAM:
		return "CODE_RAM"
	case MemTypeFICR:
		return "FICR"
	case MemTypeUICR:
		return "UICR"
	case MemTypeXIP:
		return "XIP"
	default:
		return "INVALID"
	}
}

// MemoryAccess is a bit mask of the access kinds a memory region supports.
type MemoryAccess uint8

const (
	AccessExecute MemoryAccess = 1 << iota
	AccessWrite
	AccessRead
	AccessErase
	AccessSecure
)

// MemoryDescription describes one region of a device memory map.
type MemoryDescription struct {
	Start    uint32
	Size     uint32
	NumPages uint32
	Type     MemoryType
	Access   MemoryAccess
	Label    string
}

// End returns the first address past the region.
func (m MemoryDescription) End() uint32 { return m.Start + m.Size }

// Contains reports whether [addr, addr+n) lies fully inside the region.
func (m MemoryDescription) Contains(addr, n uint32) bool {
	return addr >= m.Start && n <= m.Size && addr-m.Start <= m.Size-n
}

// PageSize returns the erase page size, or 0 for unpaged regions.
func (m MemoryDescription) PageSize() uint32 {
	if m.NumPages == 0 {
		return 0
	}
	return m.Size / m.NumPages
}

func (m MemoryDescription) Readable() bool { return m.Access&AccessRead != 0 }
func (m MemoryDescription) Writable() bool { return m.Access&AccessWrite != 0 }
func (m MemoryDescription) Erasable() bool { return m.Access&AccessErase != 0 }
