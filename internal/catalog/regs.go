package catalog

import "github.com/nrfprobe/nrfprobe/internal/nrf"

// DP register addresses.
const (
	DPAbort    uint8 = 0x00
	DPCtrlStat uint8 = 0x04
	DPSelect   uint8 = 0x08
	DPRdBuff   uint8 = 0x0C
)

// DP CTRL/STAT bits for debug power-up handshake.
const (
	CSysPwrUpAck uint32 = 1 << 31
	CSysPwrUpReq uint32 = 1 << 30
	CDbgPwrUpAck uint32 = 1 << 29
	CDbgPwrUpReq uint32 = 1 << 28
)

// Access-port register addresses. IDR sits in the last bank; transports
// handle bank selection internally.
const (
	APCsw uint8 = 0x00
	APTar uint8 = 0x04
	APDrw uint8 = 0x0C
	APIdr uint8 = 0xFC
)

// CTRL-AP register addresses.
const (
	CtrlAPReset              uint8 = 0x00
	CtrlAPEraseAll           uint8 = 0x04
	CtrlAPEraseAllStatus     uint8 = 0x08
	CtrlAPApprotectStatus    uint8 = 0x0C
	CtrlAPEraseProtectStatus uint8 = 0x18
	CtrlAPEraseProtectReset  uint8 = 0x1C
)

// CtrlAPApprotectStatus bits. A set bit means the protection is enabled.
const (
	ApprotectEnabled       uint32 = 1 << 0
	SecureApprotectEnabled uint32 = 1 << 1
)

// NVMC register offsets from the controller base.
const (
	NVMCReady     uint32 = 0x400
	NVMCReadyNext uint32 = 0x408
	NVMCConfig    uint32 = 0x504
	NVMCErasePage uint32 = 0x508
	NVMCEraseAll  uint32 = 0x50C
	NVMCEraseUICR uint32 = 0x514
)

// NVMC CONFIG write-enable values.
const (
	NVMCConfigRen uint32 = 0
	NVMCConfigWen uint32 = 1
	NVMCConfigEen uint32 = 2
)

// nRF51 FICR offsets.
const (
	FICRCodePageSize uint32 = 0x010
	FICRCodeSize     uint32 = 0x014
	FICRCLenR0       uint32 = 0x028
	FICRPPFC         uint32 = 0x02C
	FICRConfigID     uint32 = 0x05C
)

// nRF51 UICR offsets.
const (
	UICRCLenR0  uint32 = 0x000
	UICRRBPConf uint32 = 0x004
)

// nRF51 RBPCONF fields. A byte reads 0xFF when the protection is off.
const (
	RBPConfPR0Mask  uint32 = 0x000000FF
	RBPConfPAllMask uint32 = 0x0000FF00
)

// BPROT CONFIG register file. Four words of one-way latch bits, each bit
// covering one BPROTBlockSize block.
const BPROTConfigWords uint32 = 4

// ACL entry PERM bits on nRF52840. A set write bit blocks writes and
// erases of the covered range.
const (
	ACLPermWriteBlock uint32 = 1 << 1
	ACLPermReadBlock  uint32 = 1 << 2
)

// SPU flash region permission array. Entry n sits at SPUFlashRegion0+4n
// from the SPU base; a cleared permission bit denies that access.
const (
	SPUFlashRegion0 uint32 = 0x600
	SPUPermExecute  uint32 = 1 << 0
	SPUPermWrite    uint32 = 1 << 1
	SPUPermRead     uint32 = 1 << 2
	SPUPermDefault         = SPUPermExecute | SPUPermWrite | SPUPermRead
)

// Cortex-M AIRCR, used to trigger system resets through the debugger.
const (
	SCBAircr      uint32 = 0xE000ED0C
	AircrVectKey  uint32 = 0x05FA0000
	AircrSysReset uint32 = 0x00000004
)

// QSPI peripheral register offsets.
const (
	QSPITasksActivate   uint32 = 0x000
	QSPITasksReadStart  uint32 = 0x004
	QSPITasksWriteStart uint32 = 0x008
	QSPITasksEraseStart uint32 = 0x00C
	QSPITasksDeactivate uint32 = 0x010
	QSPIEventsReady     uint32 = 0x100
	QSPIReadSrc         uint32 = 0x534
	QSPIReadDst         uint32 = 0x538
	QSPIReadCnt         uint32 = 0x53C
	QSPIWriteDst        uint32 = 0x544
	QSPIWriteSrc        uint32 = 0x548
	QSPIWriteCnt        uint32 = 0x54C
	QSPIErasePtr        uint32 = 0x554
	QSPIEraseLen        uint32 = 0x558
	QSPIIfConfig0       uint32 = 0x560
	QSPIIfConfig1       uint32 = 0x600
	QSPIStatusReg       uint32 = 0x604
	QSPIAddrConf        uint32 = 0x624
	QSPICinstrConf      uint32 = 0x634
	QSPICinstrDat0      uint32 = 0x638
	QSPICinstrDat1      uint32 = 0x63C
)

// IPC peripheral register offsets and the mailbox interface of the DFU
// responder on nRF91 (modem firmware store) and nRF53 (network core). The
// host places a command block in the mailbox RAM, rings the doorbell
// channel, and waits for the responder to raise an event channel: command
// for plain acknowledgements, data when the response carries a payload,
// fault on any failure.
const (
	IPCTasksSend     uint32 = 0x000
	IPCEventsReceive uint32 = 0x100

	IPCChanDoorbell uint32 = 0
	IPCChanFault    uint32 = 0
	IPCChanCommand  uint32 = 1
	IPCChanData     uint32 = 2

	// Mailbox block in application-core RAM, command and response share it.
	// Command: cmd, address, length, payload. Response: status, length,
	// payload.
	IPCMailboxOffset uint32 = 0x8000
	IPCMailboxSize   uint32 = 0x2000

	IPCCmdWrite  uint32 = 1
	IPCCmdRead   uint32 = 2
	IPCCmdDigest uint32 = 3
	IPCCmdUUID   uint32 = 4

	IPCStatusBadCommand uint32 = 1
	IPCStatusBadRange   uint32 = 2
	IPCStatusFault      uint32 = 3
)

// BlockProtKind is the flash block protection mechanism of a family member.
type BlockProtKind uint8

const (
	BlockProtNone BlockProtKind = iota
	BlockProtBPROT
	BlockProtACL
	BlockProtSPU
)

// ParseBlockProt maps a catalog string to its kind.
func ParseBlockProt(s string) BlockProtKind {
	switch s {
	case "bprot":
		return BlockProtBPROT
	case "acl":
		return BlockProtACL
	case "spu":
		return BlockProtSPU
	default:
		return BlockProtNone
	}
}

// CoreRegs is the address layout of one core of one family.
type CoreRegs struct {
	CodeBase uint32
	RAMBase  uint32
	// CodeRAM is the executable alias of the data RAM, 0 on families
	// without one.
	CodeRAM uint32
	FICR    uint32
	UICR    uint32
	NVMC    uint32

	// FICR INFO block offsets, 0 when the family has no INFO block.
	InfoPart    uint32
	InfoVariant uint32
	InfoRAM     uint32
	InfoFlash   uint32

	// UICR protection word offsets. SecureApprotect and EraseProtect are 0
	// when the family lacks them.
	UICRApprotect       uint32
	UICRSecureApprotect uint32
	UICREraseProtect    uint32

	// UICRPselReset is the reset pin selection word, 0 on families with a
	// dedicated reset pin.
	UICRPselReset uint32

	// RAM section power control. nRF51 uses the two RAMON registers, later
	// families have one register per section.
	RAMOnAddr      uint32
	RAMOnBAddr     uint32
	RAMPowerBase   uint32
	RAMPowerStride uint32

	// Block protection registers.
	BPROTConfigBase uint32
	BPROTBlockSize  uint32
	ACLBase         uint32
	ACLEntries      uint32
	SPUBase         uint32
	SPURegionSize   uint32

	// QSPI controller base, 0 when absent, and the RAM window the engine
	// borrows for QSPI DMA staging.
	QSPIBase        uint32
	QSPIScratch     uint32
	QSPIScratchSize uint32

	// Reset bookkeeping and coprocessor power gates (absolute addresses,
	// 0 when absent).
	ResetReas       uint32
	NetworkForceOff uint32
	ModemForceOff   uint32

	// IPCBase is the application-core IPC peripheral carrying the DFU
	// mailbox doorbell, 0 on families without one.
	IPCBase uint32
}

// APLayout is the access-port arrangement for one core.
type APLayout struct {
	MemAP  uint8
	CtrlAP uint8
	// HasCtrlAP is false on nRF51 where protection lives in the UICR.
	HasCtrlAP bool
}

var nrf51Regs = CoreRegs{
	CodeBase:   0x00000000,
	RAMBase:    0x20000000,
	FICR:       0x10000000,
	UICR:       0x10001000,
	NVMC:       0x4001E000,
	RAMOnAddr:  0x40000524,
	RAMOnBAddr: 0x40000554,
	ResetReas:  0x40000400,
}

var nrf52Regs = CoreRegs{
	CodeBase:        0x00000000,
	RAMBase:         0x20000000,
	CodeRAM:         0x00800000,
	FICR:            0x10000000,
	UICR:            0x10001000,
	NVMC:            0x4001E000,
	InfoPart:        0x100,
	InfoVariant:     0x104,
	InfoRAM:         0x10C,
	InfoFlash:       0x110,
	UICRApprotect:   0x208,
	UICRPselReset:   0x200,
	RAMPowerBase:    0x40000900,
	RAMPowerStride:  0x10,
	BPROTConfigBase: 0x40000600,
	BPROTBlockSize:  4096,
	ACLBase:         0x4001E800,
	ACLEntries:      8,
	QSPIBase:        0x40029000,
	QSPIScratch:     0x2003C000,
	QSPIScratchSize: 0x1000,
	ResetReas:       0x40000400,
}

var nrf53AppRegs = CoreRegs{
	CodeBase:            0x00000000,
	RAMBase:             0x20000000,
	FICR:                0x00FF0000,
	UICR:                0x00FF8000,
	NVMC:                0x50039000,
	InfoPart:            0x204,
	InfoVariant:         0x208,
	InfoRAM:             0x210,
	InfoFlash:           0x214,
	UICRApprotect:       0x000,
	UICRSecureApprotect: 0x01C,
	UICREraseProtect:    0x004,
	RAMPowerBase:        0x50081600,
	RAMPowerStride:      0x10,
	SPUBase:             0x50003000,
	SPURegionSize:       16 * 1024,
	QSPIBase:            0x5002B000,
	QSPIScratch:         0x2007C000,
	QSPIScratchSize:     0x1000,
	ResetReas:           0x50005400,
	NetworkForceOff:     0x50005614,
	IPCBase:             0x5002A000,
}

var nrf53NetRegs = CoreRegs{
	CodeBase:            0x01000000,
	RAMBase:             0x21000000,
	FICR:                0x01FF0000,
	UICR:                0x01FF8000,
	NVMC:                0x41080000,
	InfoPart:            0x204,
	InfoVariant:         0x208,
	InfoRAM:             0x210,
	InfoFlash:           0x214,
	UICRApprotect:       0x000,
	UICRSecureApprotect: 0x01C,
	UICREraseProtect:    0x004,
	RAMPowerBase:        0x41081600,
	RAMPowerStride:      0x10,
	ResetReas:           0x41005400,
}

var nrf91Regs = CoreRegs{
	CodeBase:            0x00000000,
	RAMBase:             0x20000000,
	FICR:                0x00FF0000,
	UICR:                0x00FF8000,
	NVMC:                0x50039000,
	InfoPart:            0x140,
	InfoVariant:         0x148,
	InfoRAM:             0x218,
	InfoFlash:           0x21C,
	UICRApprotect:       0x000,
	UICRSecureApprotect: 0x02C,
	UICREraseProtect:    0x030,
	RAMPowerBase:        0x50004600,
	RAMPowerStride:      0x10,
	SPUBase:             0x50003000,
	SPURegionSize:       32 * 1024,
	ResetReas:           0x50005400,
	ModemForceOff:       0x50005610,
	IPCBase:             0x4002A000,
}

// Regs returns the register layout for a family core. The coprocessor is
// ignored on single-core families.
func Regs(f nrf.Family, cp nrf.CoProcessor) (CoreRegs, bool) {
	switch f {
	case nrf.FamilyNRF51:
		return nrf51Regs, true
	case nrf.FamilyNRF52:
		return nrf52Regs, true
	case nrf.FamilyNRF53:
		if cp == nrf.CPNetwork {
			return nrf53NetRegs, true
		}
		return nrf53AppRegs, true
	case nrf.FamilyNRF91:
		return nrf91Regs, true
	}
	return CoreRegs{}, false
}

// APs returns the access-port layout for a family core.
func APs(f nrf.Family, cp nrf.CoProcessor) (APLayout, bool) {
	switch f {
	case nrf.FamilyNRF51:
		return APLayout{MemAP: 0}, true
	case nrf.FamilyNRF52:
		return APLayout{MemAP: 0, CtrlAP: 1, HasCtrlAP: true}, true
	case nrf.FamilyNRF53:
		if cp == nrf.CPNetwork {
			return APLayout{MemAP: 1, CtrlAP: 3, HasCtrlAP: true}, true
		}
		return APLayout{MemAP: 0, CtrlAP: 2, HasCtrlAP: true}, true
	case nrf.FamilyNRF91:
		return APLayout{MemAP: 0, CtrlAP: 4, HasCtrlAP: true}, true
	}
	return APLayout{}, false
}

// AHB-AP IDR values per family, used as a last identification resort when
// no CTRL-AP answers.
var ahbAPIDR = map[nrf.Family]uint32{
	nrf.FamilyNRF51: 0x04770021,
	nrf.FamilyNRF52: 0x24770011,
	nrf.FamilyNRF53: 0x84770001,
	nrf.FamilyNRF91: 0x84770001,
}

// CTRL-AP IDR values per family. These are distinct per family, which makes
// them the primary identification probe.
var ctrlAPIDR = map[nrf.Family]uint32{
	nrf.FamilyNRF52: 0x02880000,
	nrf.FamilyNRF53: 0x12880000,
	nrf.FamilyNRF91: 0x22880000,
}

// AHBAPIdr returns the expected AHB-AP IDR for a family.
func AHBAPIdr(f nrf.Family) (uint32, bool) {
	v, ok := ahbAPIDR[f]
	return v, ok
}

// CtrlAPIdr returns the expected CTRL-AP IDR for a family.
func CtrlAPIdr(f nrf.Family) (uint32, bool) {
	v, ok := ctrlAPIDR[f]
	return v, ok
}

// FamilyProbeOrder is the order identification tries CTRL-AP IDR matches.
// nRF51 is probed last through its AHB-AP because it has no CTRL-AP.
var FamilyProbeOrder = []nrf.Family{nrf.FamilyNRF52, nrf.FamilyNRF53, nrf.FamilyNRF91}
