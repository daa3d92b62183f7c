package nrf

// QSPIEraseLen selects the erase granularity of an external QSPI flash.
type QSPIEraseLen uint8

const (
	QSPIErase4KB  QSPIEraseLen = 0
	QSPIErase64KB QSPIEraseLen = 1
	QSPIEraseAll  QSPIEraseLen = 2
	QSPIErase32KB QSPIEraseLen = 3
)

// Bytes returns the byte span of the erase unit, or 0 for a chip erase.
func (l QSPIEraseLen) Bytes() uint32 {
	switch l {
	case QSPIErase4KB:
		return 4 * 1024
	case QSPIErase32KB:
		return 32 * 1024
	case QSPIErase64KB:
		return 64 * 1024
	default:
		return 0
	}
}

func (l QSPIEraseLen) String() string {
	switch l {
	case QSPIErase4KB:
		return "ERASE4KB"
	case QSPIErase32KB:
		return "ERASE32KB"
	case QSPIErase64KB:
		return "ERASE64KB"
	case QSPIEraseAll:
		return "ERASEALL"
	default:
		return "INVALID"
	}
}

// QSPIReadMode is the flash read opcode class.
type QSPIReadMode uint8

const (
	QSPIFastRead QSPIReadMode = 0
	QSPIRead2O   QSPIReadMode = 1
	QSPIRead2IO  QSPIReadMode = 2
	QSPIRead4O   QSPIReadMode = 3
	QSPIRead4IO  QSPIReadMode = 4
)

// QSPIWriteMode is the flash page program opcode class.
type QSPIWriteMode uint8

const (
	QSPIWritePP    QSPIWriteMode = 0
	QSPIWritePP2O  QSPIWriteMode = 1
	QSPIWritePP4O  QSPIWriteMode = 2
	QSPIWritePP4IO QSPIWriteMode = 3
)

// QSPIAddressMode selects 24 or 32 bit flash addressing.
type QSPIAddressMode uint8

const (
	QSPIAddr24Bit QSPIAddressMode = 0
	QSPIAddr32Bit QSPIAddressMode = 1
)

// QSPIFrequency encodes the SCK divider. The values are hardware divider
// settings, not Hz; M16 means 16 MHz.
type QSPIFrequency int8

const (
	QSPIFreqM2  QSPIFrequency = 15
	QSPIFreqM4  QSPIFrequency = 7
	QSPIFreqM8  QSPIFrequency = 3
	QSPIFreqM16 QSPIFrequency = 1
	QSPIFreqM32 QSPIFrequency = 0
	QSPIFreqM64 QSPIFrequency = -1
	QSPIFreqM96 QSPIFrequency = -2
)

// QSPISpiMode is the SPI clock phase/polarity mode.
type QSPISpiMode uint8

const (
	QSPIMode0 QSPISpiMode = 0
	QSPIMode3 QSPISpiMode = 1
)

// QSPILevelIO is the level driven on IO2/IO3 during custom instructions.
type QSPILevelIO uint8

const (
	QSPILevelLow  QSPILevelIO = 0
	QSPILevelHigh QSPILevelIO = 1
)

// QSPIPPSize is the page program size of the external flash.
type QSPIPPSize uint8

const (
	QSPIPage256 QSPIPPSize = 0
	QSPIPage512 QSPIPPSize = 1
)

// QSPIPin addresses one GPIO by port and pin number.
type QSPIPin struct {
	Pin  uint32
	Port uint32
}

// QSPIInitParams configures the QSPI peripheral and the attached flash.
type QSPIInitParams struct {
	ReadMode    QSPIReadMode
	WriteMode   QSPIWriteMode
	AddressMode QSPIAddressMode
	Frequency   QSPIFrequency
	SpiMode     QSPISpiMode
	SckDelay    uint32

	// Levels driven on IO2/IO3 while a custom instruction runs.
	CustomIO2Level QSPILevelIO
	CustomIO3Level QSPILevelIO

	CSN  QSPIPin
	SCK  QSPIPin
	DIO0 QSPIPin
	DIO1 QSPIPin
	DIO2 QSPIPin
	DIO3 QSPIPin

	// WIPIndex is the write-in-progress bit position in the flash status
	// register.
	WIPIndex uint32
	PPSize   QSPIPPSize
}

// DefaultQSPIInitParams return the reference configuration for the external
// flash fitted on the nRF52840 and nRF5340 development kits.
func DefaultQSPIInitParams() QSPIInitParams {
	return QSPIInitParams{
		ReadMode:       QSPIRead4IO,
		WriteMode:      QSPIWritePP4IO,
		AddressMode:    QSPIAddr24Bit,
		Frequency:      QSPIFreqM16,
		SpiMode:        QSPIMode0,
		SckDelay:       0x80,
		CustomIO2Level: QSPILevelLow,
		CustomIO3Level: QSPILevelHigh,
		CSN:            QSPIPin{Pin: 17},
		SCK:            QSPIPin{Pin: 19},
		DIO0:           QSPIPin{Pin: 20},
		DIO1:           QSPIPin{Pin: 21},
		DIO2:           QSPIPin{Pin: 22},
		DIO3:           QSPIPin{Pin: 23},
		WIPIndex:       0,
		PPSize:         QSPIPage256,
	}
}
