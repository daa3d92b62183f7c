package nrf

import "fmt"

// DeviceName identifies a specific part within a family. Values follow the
// device_name_t encoding: 0x0PPNN000 where PP/NN come from the marketing
// number, so NRF52840 is 0x05284000.
type DeviceName uint32

const (
	NameUnknown DeviceName = 0x00000000

	NRF51xxx DeviceName = 0x05100000
	NRF51801 DeviceName = 0x05180100
	NRF51802 DeviceName = 0x05180200

	NRF52805 DeviceName = 0x05280500
	NRF52810 DeviceName = 0x05281000
	NRF52811 DeviceName = 0x05281100
	NRF52820 DeviceName = 0x05282000
	NRF52832 DeviceName = 0x05283200
	NRF52833 DeviceName = 0x05283300
	NRF52840 DeviceName = 0x05284000

	NRF5340 DeviceName = 0x05340000

	NRF9120 DeviceName = 0x09120000
	NRF9160 DeviceName = 0x09160000
)

func (n DeviceName) String() string {
	switch n {
	case NRF51xxx:
		return "NRF51xxx"
	case NRF51801:
		return "NRF51801"
	case NRF51802:
		return "NRF51802"
	case NRF52805:
		return "NRF52805"
	case NRF52810:
		return "NRF52810"
	case NRF52811:
		return "NRF52811"
	case NRF52820:
		return "NRF52820"
	case NRF52832:
		return "NRF52832"
	case NRF52833:
		return "NRF52833"
	case NRF52840:
		return "NRF52840"
	case NRF5340:
		return "NRF5340"
	case NRF9120:
		return "NRF9120"
	case NRF9160:
		return "NRF9160"
	default:
		return "UNKNOWN"
	}
}

// Family derives the product family from the name encoding.
func (n DeviceName) Family() Family {
	switch n >> 20 {
	case 0x051:
		return FamilyNRF51
	case 0x052:
		return FamilyNRF52
	case 0x053:
		return FamilyNRF53
	case 0x091:
		return FamilyNRF91
	default:
		return FamilyUnknown
	}
}

// MemoryCode is the memory variant of a part, the "xxAA" in NRF52840_xxAA.
type MemoryCode uint8

const (
	MemoryUnknown MemoryCode = 0
	MemoryAA      MemoryCode = 1
	MemoryAB      MemoryCode = 2
	MemoryAC      MemoryCode = 3
)

func (m MemoryCode) String() string {
	switch m {
	case MemoryAA:
		return "xxAA"
	case MemoryAB:
		return "xxAB"
	case MemoryAC:
		return "xxAC"
	default:
		return "xx??"
	}
}

// Revision is the silicon revision of a part.
type Revision uint8

const (
	RevisionUnknown Revision = 0
	RevisionEngA    Revision = 10
	RevisionEngB    Revision = 11
	RevisionEngC    Revision = 12
	RevisionRev1    Revision = 20
	RevisionRev2    Revision = 21
	RevisionRev3    Revision = 22

	// RevisionFuture marks silicon newer than this library. Operations
	// proceed using the newest known revision's behavior.
	RevisionFuture Revision = 30
)

func (r Revision) String() string {
	switch r {
	case RevisionEngA:
		return "ENGA"
	case RevisionEngB:
		return "ENGB"
	case RevisionEngC:
		return "ENGC"
	case RevisionRev1:
		return "REV1"
	case RevisionRev2:
		return "REV2"
	case RevisionRev3:
		return "REV3"
	case RevisionFuture:
		return "FUTURE"
	default:
		return "UNKNOWN"
	}
}

// Version is the identification tuple of a device: which part, which memory
// variant, which silicon revision.
type Version struct {
	Name     DeviceName
	Memory   MemoryCode
	Revision Revision
}

func (v Version) String() string {
	if v.Name == NameUnknown {
		return "UNKNOWN"
	}
	return fmt.Sprintf("%s_%s_%s", v.Name, v.Memory, v.Revision)
}

// Known reports whether identification produced a usable part name.
func (v Version) Known() bool { return v.Name != NameUnknown }

// Future reports whether the silicon revision is newer than this library.
func (v Version) Future() bool { return v.Revision == RevisionFuture }
