package device

import (
	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/transport"
)

const (
	defaultPageSize uint32 = 4096
	ficrSize        uint32 = 0x1000

	// xipWindowSize is the QSPI execute-in-place window, 16 MB under the
	// default 24-bit addressing mode.
	xipWindowSize uint32 = 0x01000000
)

// Info is the identified description of the connected core: what the part
// is and where its memories live.
type Info struct {
	// Version is the part/memory/revision tuple. Parts the catalog does
	// not know report NameUnknown with the geometry still populated from
	// the FICR, so callers of a stale build keep working.
	Version nrf.Version

	// Device is the catalog entry behind Version, nil for unknown parts.
	Device *catalog.Device

	CodeAddress  uint32
	CodePageSize uint32
	CodeSize     uint32

	UICRAddress uint32
	UICRSize    uint32

	RAMAddress uint32
	RAMSize    uint32

	QSPIPresent bool
	XIPAddress  uint32
	XIPSize     uint32

	// ResetPin is the decoded UICR PSELRESET pin number, InvalidAddress
	// when no pin is routed or the family has a dedicated reset pin.
	ResetPin uint32
}

// ReadDeviceInfo identifies the device and returns its description. The
// readout happens once; identification is a property of the silicon and
// keeps for the life of the context.
func (c *Context) ReadDeviceInfo() (Info, error) {
	info, err := c.ensureInfo()
	if err != nil {
		return Info{}, err
	}
	return *info, nil
}

// ReadDeviceVersion returns the part/memory/revision tuple alone.
func (c *Context) ReadDeviceVersion() (nrf.Version, error) {
	info, err := c.ensureInfo()
	if err != nil {
		return nrf.Version{}, err
	}
	return info.Version, nil
}

func (c *Context) ensureInfo() (*Info, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, nrf.OpError(nrf.CodeInvalidOperation, "device", "not connected to the device")
	}
	if c.info != nil {
		info := c.info
		c.mu.Unlock()
		return info, nil
	}
	conn := c.conn
	c.mu.Unlock()

	info, err := c.loadInfo(conn)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.info == nil {
		c.info = info
	}
	info = c.info
	c.mu.Unlock()
	return info, nil
}

func (c *Context) loadInfo(conn transport.Conn) (*Info, error) {
	info := &Info{
		CodeAddress: c.regs.CodeBase,
		UICRAddress: c.regs.UICR,
		RAMAddress:  c.regs.RAMBase,
		ResetPin:    nrf.InvalidAddress,
	}
	ap := c.aps.MemAP

	var err error
	if c.family == nrf.FamilyNRF51 {
		err = c.loadConfigID(conn, ap, info)
	} else {
		err = c.loadInfoBlock(conn, ap, info)
	}
	if err != nil {
		return nil, err
	}

	if info.CodePageSize == 0 {
		info.CodePageSize = defaultPageSize
	}
	info.UICRSize = uicrSize(info.CodePageSize)

	if c.regs.UICRPselReset != 0 {
		if w, err := readWord(conn, ap, c.regs.UICR+c.regs.UICRPselReset); err == nil {
			// Bit 31 disconnects the pin; the low bits select port and pin.
			if w&(1<<31) == 0 {
				info.ResetPin = w & 0x3F
			}
		}
	}

	if d := info.Device; d != nil && d.QSPI && c.cp == nrf.CPApplication {
		info.QSPIPresent = true
		info.XIPAddress = d.XIPBase
		info.XIPSize = xipWindowSize
	}
	return info, nil
}

// loadConfigID classifies an nRF51, which has no FICR INFO block. The
// CONFIGID hardware ID names the part, CODEPAGESIZE and CODESIZE give the
// flash geometry, and the RAM extent is found by probing because no FICR
// word records it reliably across revisions.
func (c *Context) loadConfigID(conn transport.Conn, ap uint8, info *Info) error {
	configID, err := readWord(conn, ap, c.regs.FICR+catalog.FICRConfigID)
	if err != nil {
		return err
	}
	info.Version = c.cat.ClassifyHWID(uint16(configID))
	if d, ok := c.cat.ByName(info.Version.Name.String()); ok {
		info.Device = d
	}

	pageSize, err := readWord(conn, ap, c.regs.FICR+catalog.FICRCodePageSize)
	if err != nil {
		return err
	}
	pages, err := readWord(conn, ap, c.regs.FICR+catalog.FICRCodeSize)
	if err != nil {
		return err
	}
	geom, haveGeom := fallbackVariant(info.Device, info.Version.Memory)

	if !plausible(pageSize) {
		pageSize = 1024
		if info.Device != nil && info.Device.PageSize != 0 {
			pageSize = info.Device.PageSize
		}
	}
	info.CodePageSize = pageSize
	if plausible(pages) {
		info.CodeSize = pageSize * pages
	} else if haveGeom {
		info.CodeSize = geom.FlashKB * 1024
	}

	info.RAMSize = probeRAMSize(conn, ap, c.regs.RAMBase)
	if info.RAMSize == 0 && haveGeom {
		info.RAMSize = geom.RAMKB * 1024
	}
	return nil
}

// loadInfoBlock identifies nRF52 and later through the FICR INFO words.
func (c *Context) loadInfoBlock(conn transport.Conn, ap uint8, info *Info) error {
	part, err := readWord(conn, ap, c.regs.FICR+c.regs.InfoPart)
	if err != nil {
		return err
	}
	variantWord, err := readWord(conn, ap, c.regs.FICR+c.regs.InfoVariant)
	if err != nil {
		return err
	}
	vb := [4]byte{byte(variantWord >> 24), byte(variantWord >> 16), byte(variantWord >> 8), byte(variantWord)}
	if version, dev, ok := c.cat.ClassifyPart(part, vb); ok {
		info.Version = version
		info.Device = dev
	}

	// The network core's FICR mirrors the part identity; its geometry is
	// fixed and comes from the catalog.
	if c.cp == nrf.CPNetwork {
		if d := info.Device; d != nil && d.Network != nil {
			info.CodePageSize = d.Network.PageSize
			info.CodeSize = d.Network.FlashKB * 1024
			info.RAMSize = d.Network.RAMKB * 1024
			return nil
		}
	}

	flashKB, err := readWord(conn, ap, c.regs.FICR+c.regs.InfoFlash)
	if err != nil {
		return err
	}
	ramKB, err := readWord(conn, ap, c.regs.FICR+c.regs.InfoRAM)
	if err != nil {
		return err
	}
	geom, haveGeom := fallbackVariant(info.Device, info.Version.Memory)
	if !plausible(flashKB) && haveGeom {
		flashKB = geom.FlashKB
	}
	if !plausible(ramKB) && haveGeom {
		ramKB = geom.RAMKB
	}

	if info.Device != nil && info.Device.PageSize != 0 {
		info.CodePageSize = info.Device.PageSize
	}
	info.CodeSize = flashKB * 1024
	info.RAMSize = ramKB * 1024
	return nil
}

// probeRAMSize walks the data RAM in power-of-two steps until a read
// faults. A protected device faults immediately and reports zero.
func probeRAMSize(conn transport.Conn, ap uint8, base uint32) uint32 {
	var size uint32
	for cand := uint32(8 * 1024); cand <= 64*1024; cand *= 2 {
		if _, err := readWord(conn, ap, base+cand-4); err != nil {
			break
		}
		size = cand
	}
	return size
}

func plausible(w uint32) bool { return w != 0 && w != 0xFFFFFFFF }

// uicrSize follows the hardware: one small page on parts with sub-4K
// flash pages, one full 4K page elsewhere.
func uicrSize(pageSize uint32) uint32 {
	if pageSize < 0x1000 {
		return 0x400
	}
	return 0x1000
}

func fallbackVariant(d *catalog.Device, code nrf.MemoryCode) (catalog.Variant, bool) {
	if d == nil {
		return catalog.Variant{}, false
	}
	if v, ok := d.VariantByCode(code); ok {
		return v, true
	}
	if len(d.Variants) > 0 {
		return d.Variants[0], true
	}
	return catalog.Variant{}, false
}

// MemoryMap returns the readable description of every region the core
// maps: code flash, FICR, UICR, the RAM windows and the XIP window on
// QSPI parts.
func (c *Context) MemoryMap() ([]nrf.MemoryDescription, error) {
	info, err := c.ensureInfo()
	if err != nil {
		return nil, err
	}
	var secure nrf.MemoryAccess
	if c.family == nrf.FamilyNRF53 || c.family == nrf.FamilyNRF91 {
		secure = nrf.AccessSecure
	}
	m := []nrf.MemoryDescription{
		{
			Start:    info.CodeAddress,
			Size:     info.CodeSize,
			NumPages: info.CodeSize / info.CodePageSize,
			Type:     nrf.MemTypeCode,
			Access:   nrf.AccessRead | nrf.AccessWrite | nrf.AccessErase | nrf.AccessExecute | secure,
			Label:    "code flash",
		},
		{
			Start:  c.regs.FICR,
			Size:   ficrSize,
			Type:   nrf.MemTypeFICR,
			Access: nrf.AccessRead | secure,
			Label:  "FICR",
		},
		{
			Start:    info.UICRAddress,
			Size:     info.UICRSize,
			NumPages: 1,
			Type:     nrf.MemTypeUICR,
			Access:   nrf.AccessRead | nrf.AccessWrite | nrf.AccessErase | secure,
			Label:    "UICR",
		},
		{
			Start:  info.RAMAddress,
			Size:   info.RAMSize,
			Type:   nrf.MemTypeDataRAM,
			Access: nrf.AccessRead | nrf.AccessWrite | nrf.AccessExecute | secure,
			Label:  "data RAM",
		},
	}
	if c.regs.CodeRAM != 0 {
		m = append(m, nrf.MemoryDescription{
			Start:  c.regs.CodeRAM,
			Size:   info.RAMSize,
			Type:   nrf.MemTypeCodeRAM,
			Access: nrf.AccessRead | nrf.AccessWrite | nrf.AccessExecute,
			Label:  "code RAM",
		})
	}
	if info.QSPIPresent {
		m = append(m, nrf.MemoryDescription{
			Start:    info.XIPAddress,
			Size:     info.XIPSize,
			NumPages: info.XIPSize / 4096,
			Type:     nrf.MemTypeXIP,
			Access:   nrf.AccessRead | nrf.AccessWrite | nrf.AccessErase | nrf.AccessExecute,
			Label:    "external flash (XIP)",
		})
	}
	return m, nil
}

// PageSpan is one run of equally sized pages or sections in the map.
type PageSpan struct {
	Start uint32
	Size  uint32
	Count uint32
}

// PageSizes returns the erase and power granularities of the map: code
// flash pages, the UICR page and the RAM power sections.
func (c *Context) PageSizes() ([]PageSpan, error) {
	info, err := c.ensureInfo()
	if err != nil {
		return nil, err
	}
	spans := []PageSpan{
		{Start: info.CodeAddress, Size: info.CodePageSize, Count: info.CodeSize / info.CodePageSize},
		{Start: info.UICRAddress, Size: info.UICRSize, Count: 1},
	}
	if sec := c.ramSectionSize(info); sec != 0 && info.RAMSize != 0 {
		spans = append(spans, PageSpan{Start: info.RAMAddress, Size: sec, Count: info.RAMSize / sec})
	}
	return spans, nil
}

// ramSectionSize is the power-gating granularity of the data RAM. The
// catalog knows it for known parts; unknown silicon falls back to the
// family's usual arrangement.
func (c *Context) ramSectionSize(info *Info) uint32 {
	if d := info.Device; d != nil {
		if c.cp == nrf.CPNetwork && d.Network != nil {
			return d.Network.RAMSectionKB * 1024
		}
		if d.RAMSectionKB != 0 {
			return d.RAMSectionKB * 1024
		}
	}
	switch c.family {
	case nrf.FamilyNRF51, nrf.FamilyNRF52:
		return 8 * 1024
	case nrf.FamilyNRF53:
		if c.cp == nrf.CPNetwork {
			return 16 * 1024
		}
		return 64 * 1024
	case nrf.FamilyNRF91:
		return 32 * 1024
	}
	return 0
}

// RAMSectionCount returns how many independently powered RAM sections the
// core has.
func (c *Context) RAMSectionCount() (uint32, error) {
	info, err := c.ensureInfo()
	if err != nil {
		return 0, err
	}
	sec := c.ramSectionSize(info)
	if sec == 0 {
		return 0, nrf.OpError(nrf.CodeInternalError, "ram_sections", "no RAM section layout for this family")
	}
	return info.RAMSize / sec, nil
}

// RAMSectionSize returns the size in bytes of one RAM section. Sections
// are uniform on every supported part.
func (c *Context) RAMSectionSize() (uint32, error) {
	info, err := c.ensureInfo()
	if err != nil {
		return 0, err
	}
	sec := c.ramSectionSize(info)
	if sec == 0 {
		return 0, nrf.OpError(nrf.CodeInternalError, "ram_sections", "no RAM section layout for this family")
	}
	return sec, nil
}

// RAMSectionPowered reads the live power state of one RAM section.
func (c *Context) RAMSectionPowered(section uint32) (nrf.RamPowerState, error) {
	count, err := c.RAMSectionCount()
	if err != nil {
		return nrf.RamOff, err
	}
	if section >= count {
		return nrf.RamOff, nrf.OpErrorf(nrf.CodeInvalidParameter, "ram_sections",
			"section %d out of range, device has %d", section, count)
	}
	conn, err := c.live()
	if err != nil {
		return nrf.RamOff, err
	}
	on, err := c.ramSectionOn(conn, section)
	if err != nil {
		return nrf.RamOff, err
	}
	if on {
		return nrf.RamOn, nil
	}
	return nrf.RamOff, nil
}

// ramSectionOn reads the power gate register of one section. nRF51 packs
// two sections per RAMON register; later families have one register per
// section.
func (c *Context) ramSectionOn(conn transport.Conn, section uint32) (bool, error) {
	if c.family == nrf.FamilyNRF51 {
		reg := c.regs.RAMOnAddr
		bit := section
		if section >= 2 {
			reg = c.regs.RAMOnBAddr
			bit = section - 2
		}
		v, err := readWord(conn, c.aps.MemAP, reg)
		if err != nil {
			return false, err
		}
		return v&(1<<bit) != 0, nil
	}
	v, err := readWord(conn, c.aps.MemAP, c.regs.RAMPowerBase+section*c.regs.RAMPowerStride)
	if err != nil {
		return false, err
	}
	return v&1 != 0, nil
}
