package nrf

// InvalidAddress is the nil address sentinel used where an address argument
// is optional, such as the RTT control block hint.
const InvalidAddress uint32 = 0xFFFFFFFF

// CoProcessor selects a core on multi-core devices.
type CoProcessor uint8

const (
	CPApplication CoProcessor = 0
	CPModem       CoProcessor = 1
	CPNetwork     CoProcessor = 2
)

func (c CoProcessor) String() string {
	switch c {
	case CPApplication:
		return "APPLICATION"
	case CPModem:
		return "MODEM"
	case CPNetwork:
		return "NETWORK"
	default:
		return "INVALID"
	}
}

// Architecture is the CPU core of a device.
type Architecture uint8

const (
	ArchCortexM0  Architecture = 0x00
	ArchCortexM4  Architecture = 0x04
	ArchCortexM33 Architecture = 0x33
)

func (a Architecture) String() string {
	switch a {
	case ArchCortexM0:
		return "Cortex-M0"
	case ArchCortexM4:
		return "Cortex-M4"
	case ArchCortexM33:
		return "Cortex-M33"
	default:
		return "unknown core"
	}
}

// Region0Source tells who configured code region 0 on nRF51 devices.
type Region0Source uint8

const (
	NoRegion0      Region0Source = 0
	Region0Factory Region0Source = 1
	Region0User    Region0Source = 2
)

func (s Region0Source) String() string {
	switch s {
	case Region0Factory:
		return "FACTORY"
	case Region0User:
		return "USER"
	default:
		return "NO_REGION_0"
	}
}

// RamPowerState is the power state of one RAM section.
type RamPowerState uint8

const (
	RamOff RamPowerState = 0
	RamOn  RamPowerState = 1
)

func (s RamPowerState) String() string {
	if s == RamOn {
		return "ON"
	}
	return "OFF"
}

// RTTDirection distinguishes target-to-host (up) from host-to-target (down)
// RTT channels.
type RTTDirection uint8

const (
	RTTUp   RTTDirection = 0
	RTTDown RTTDirection = 1
)

func (d RTTDirection) String() string {
	if d == RTTDown {
		return "DOWN"
	}
	return "UP"
}

// ReadbackProtection is the debug-port readback protection level of a device.
// Families support different subsets; see the protection controller.
type ReadbackProtection uint8

const (
	ProtectionNone    ReadbackProtection = 0
	ProtectionRegion0 ReadbackProtection = 1
	ProtectionAll     ReadbackProtection = 2
	ProtectionBoth    ReadbackProtection = 3
	ProtectionSecure  ReadbackProtection = 4
)

func (p ReadbackProtection) String() string {
	switch p {
	case ProtectionNone:
		return "NONE"
	case ProtectionRegion0:
		return "REGION_0"
	case ProtectionAll:
		return "ALL"
	case ProtectionBoth:
		return "BOTH"
	case ProtectionSecure:
		return "SECURE"
	default:
		return "INVALID"
	}
}

// CPURegister indexes a Cortex-M core register for the debug register file.
type CPURegister uint8

const (
	RegR0   CPURegister = 0
	RegR1   CPURegister = 1
	RegR2   CPURegister = 2
	RegR3   CPURegister = 3
	RegR4   CPURegister = 4
	RegR5   CPURegister = 5
	RegR6   CPURegister = 6
	RegR7   CPURegister = 7
	RegR8   CPURegister = 8
	RegR9   CPURegister = 9
	RegR10  CPURegister = 10
	RegR11  CPURegister = 11
	RegR12  CPURegister = 12
	RegSP   CPURegister = 13
	RegLR   CPURegister = 14
	RegPC   CPURegister = 15
	RegXPSR CPURegister = 16
	RegMSP  CPURegister = 17
	RegPSP  CPURegister = 18
)

// EraseAction selects how much of the device a programming pass erases
// before writing.
type EraseAction uint8

const (
	EraseNone EraseAction = 0
	EraseAll  EraseAction = 1

	// ErasePages erases exactly the pages an image touches.
	ErasePages EraseAction = 2

	// ErasePagesIncludingUICR additionally erases the UICR when the image
	// writes there. Only valid as a pre-programming action; a standalone
	// erase must use explicit UICR erase instead.
	ErasePagesIncludingUICR EraseAction = 3

	// EraseCtrlAP performs the CTRL-AP mass erase used by recover.
	EraseCtrlAP EraseAction = 5
)

func (a EraseAction) String() string {
	switch a {
	case EraseNone:
		return "ERASE_NONE"
	case EraseAll:
		return "ERASE_ALL"
	case ErasePages:
		return "ERASE_PAGES"
	case ErasePagesIncludingUICR:
		return "ERASE_PAGES_INCLUDING_UICR"
	case EraseCtrlAP:
		return "ERASE_CTRL_AP"
	default:
		return "INVALID"
	}
}

// ResetAction selects the reset performed after programming.
type ResetAction uint8

const (
	ResetNone   ResetAction = 0
	ResetSystem ResetAction = 1
	ResetDebug  ResetAction = 2
	ResetPin    ResetAction = 3
	ResetHard   ResetAction = 4
)

func (a ResetAction) String() string {
	switch a {
	case ResetNone:
		return "RESET_NONE"
	case ResetSystem:
		return "RESET_SYSTEM"
	case ResetDebug:
		return "RESET_DEBUG"
	case ResetPin:
		return "RESET_PIN"
	case ResetHard:
		return "RESET_HARD"
	default:
		return "INVALID"
	}
}

// VerifyAction selects how programming output is checked.
type VerifyAction uint8

const (
	VerifyNone VerifyAction = 0

	// VerifyRead reads programmed ranges back and compares bytes.
	VerifyRead VerifyAction = 1

	// VerifyHash compares a SHA-256 digest of the programmed ranges.
	VerifyHash VerifyAction = 2
)

func (a VerifyAction) String() string {
	switch a {
	case VerifyNone:
		return "VERIFY_NONE"
	case VerifyRead:
		return "VERIFY_READ"
	case VerifyHash:
		return "VERIFY_HASH"
	default:
		return "INVALID"
	}
}

// ProgramOptions configure a full programming pass.
type ProgramOptions struct {
	Verify        VerifyAction
	ChipErase     EraseAction
	QSPIChipErase EraseAction
	Reset         ResetAction
}

// DefaultProgramOptions mirror the established tool defaults: erase the
// whole chip, skip verification, system reset afterwards.
func DefaultProgramOptions() ProgramOptions {
	return ProgramOptions{
		Verify:        VerifyNone,
		ChipErase:     EraseAll,
		QSPIChipErase: EraseNone,
		Reset:         ResetSystem,
	}
}

// ReadOptions select which memories a device readout includes.
type ReadOptions struct {
	ReadRAM  bool
	ReadCode bool
	ReadUICR bool
	ReadFICR bool
	ReadQSPI bool
}

// DefaultReadOptions read code flash only.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{ReadCode: true}
}
