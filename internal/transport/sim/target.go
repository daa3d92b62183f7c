package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/transport"
)

// RESETREAS bits the model records.
const (
	resetReasPin    uint32 = 1 << 0
	resetReasSoft   uint32 = 1 << 2
	resetReasCtrlAP uint32 = 1 << 4
)

const dpIDCode uint32 = 0x2BA01477

// Target is one simulated nRF device: one core per coprocessor, each with
// flash, UICR, FICR and power-gated RAM, reachable through the access-port
// layout of its family.
type Target struct {
	mu     sync.Mutex
	dev    *catalog.Device
	family nrf.Family

	cores map[uint8]*core
	ctrls map[uint8]*core
	app   *core
	net   *core

	dpPowered bool
	dpCtrl    uint32
	dpSelect  uint32

	hwid   uint16
	xflash []byte

	// modem is the nRF91 modem firmware store, reachable only through the
	// IPC DFU responder, never through a mem-AP.
	modem []byte
	ipc   ipcState
}

type aclEntry struct {
	addr uint32
	size uint32
	perm uint32
}

type core struct {
	family nrf.Family
	cp     nrf.CoProcessor
	regs   catalog.CoreRegs
	ap     catalog.APLayout

	flash []byte
	uicr  []byte
	ficr  []byte
	ram   []byte

	pageSize    uint32
	sectionSize uint32
	ramOn       []bool

	nvmcConfig uint32
	nvmcBusy   int

	// Latched protection state, refreshed from UICR at every reset.
	approtect    bool
	secureApprot bool
	eraseProt    bool
	region0Len   uint32
	region0Prot  bool
	pallProt     bool

	eraseAllBusy  int
	ctrlResetHeld bool

	halted  bool
	cpuRegs map[nrf.CPURegister]uint32

	bprot [4]uint32
	acl   [8]aclEntry
	spu   []uint32

	// forceOff is set on a core held in reset by its sibling; forceOffReg
	// mirrors the FORCEOFF register value on the core that owns it.
	forceOff    bool
	forceOffReg uint32

	qspi *qspiState

	// Installed RTT control block bookkeeping for the firmware-side test
	// helpers.
	rttAddr uint32
	rttUp   int

	resetReas uint32
}

type firmwareLoad struct {
	addr uint32
	data []byte
}

type targetConfig struct {
	variant        string
	memory         string
	hwid           uint16
	xflashKB       uint32
	protection     nrf.ReadbackProtection
	region0        uint32
	factoryRegion0 uint32
	eraseProt      bool
	loads          []firmwareLoad
}

// TargetOption adjusts the initial state of a simulated target.
type TargetOption func(*targetConfig)

// WithVariant sets the raw four-character FICR variant string, e.g. "AAD0".
func WithVariant(s string) TargetOption {
	return func(c *targetConfig) { c.variant = s }
}

// WithMemory selects a memory configuration by code, e.g. "AB".
func WithMemory(code string) TargetOption {
	return func(c *targetConfig) { c.memory = code }
}

// WithHWID sets the nRF51 FICR CONFIGID hardware ID.
func WithHWID(hwid uint16) TargetOption {
	return func(c *targetConfig) { c.hwid = hwid }
}

// WithExternalFlash attaches a serial NOR flash of the given size to the
// QSPI peripheral.
func WithExternalFlash(sizeKB uint32) TargetOption {
	return func(c *targetConfig) { c.xflashKB = sizeKB }
}

// WithProtection programs the UICR so the target powers up with the given
// readback protection latched.
func WithProtection(p nrf.ReadbackProtection) TargetOption {
	return func(c *targetConfig) { c.protection = p }
}

// WithRegion0Size sets the nRF51 region 0 length in bytes used together
// with WithProtection(ProtectionRegion0).
func WithRegion0Size(bytes uint32) TargetOption {
	return func(c *targetConfig) { c.region0 = bytes }
}

// WithFactoryRegion0 marks the nRF51 FICR with a pre-programmed factory
// code length, the way parts ship with a factory SoftDevice.
func WithFactoryRegion0(bytes uint32) TargetOption {
	return func(c *targetConfig) { c.factoryRegion0 = bytes }
}

// WithEraseProtect programs the UICR erase protection word.
func WithEraseProtect() TargetOption {
	return func(c *targetConfig) { c.eraseProt = true }
}

// WithFirmware preloads data at an address of the application core before
// the first connection, bypassing NVMC gates.
func WithFirmware(addr uint32, data []byte) TargetOption {
	return func(c *targetConfig) {
		c.loads = append(c.loads, firmwareLoad{addr: addr, data: append([]byte(nil), data...)})
	}
}

// NewTarget builds a simulated device from a catalog entry, e.g.
// NewTarget("NRF52840").
func NewTarget(name string, opts ...TargetOption) (*Target, error) {
	cat, err := catalog.Load()
	if err != nil {
		return nil, err
	}
	dev, ok := cat.ByName(name)
	if !ok {
		return nil, fmt.Errorf("sim: unknown device %q", name)
	}

	cfg := targetConfig{hwid: 0x0072}
	for _, opt := range opts {
		opt(&cfg)
	}

	memCode := cfg.memory
	if memCode == "" && len(dev.Variants) > 0 {
		memCode = dev.Variants[0].Code
	}
	var geom catalog.Variant
	found := false
	for _, v := range dev.Variants {
		if v.Code == memCode {
			geom = v
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("sim: device %q has no %q memory configuration", name, memCode)
	}

	t := &Target{
		dev:    dev,
		family: dev.FamilyID(),
		cores:  make(map[uint8]*core),
		ctrls:  make(map[uint8]*core),
		hwid:   cfg.hwid,
	}
	if cfg.xflashKB > 0 && dev.QSPI {
		t.xflash = make([]byte, cfg.xflashKB*1024)
		fill(t.xflash, 0xFF)
	}

	variant := variantString(dev, memCode, cfg.variant)

	t.app = t.newCore(nrf.CPApplication, dev.PageSize, dev.RAMSectionKB, geom.FlashKB, geom.RAMKB, variant)
	t.cores[t.app.ap.MemAP] = t.app
	if t.app.ap.HasCtrlAP {
		t.ctrls[t.app.ap.CtrlAP] = t.app
	}

	if dev.Network != nil {
		n := dev.Network
		t.net = t.newCore(nrf.CPNetwork, n.PageSize, n.RAMSectionKB, n.FlashKB, n.RAMKB, variant)
		t.net.forceOff = true
		t.cores[t.net.ap.MemAP] = t.net
		t.ctrls[t.net.ap.CtrlAP] = t.net
		t.app.forceOffReg = 1
	}
	if t.app.regs.ModemForceOff != 0 {
		t.app.forceOffReg = 1
	}
	if t.family == nrf.FamilyNRF91 {
		t.modem = make([]byte, modemStoreSize)
		fill(t.modem, 0xFF)
	}
	if t.app.regs.IPCBase != 0 {
		t.ipc.armed = true
		for i := range t.ipc.uuid {
			t.ipc.uuid[i] = 0x6E726600 + uint32(i)
		}
	}

	for _, l := range cfg.loads {
		if err := t.app.plant(l.addr, l.data); err != nil {
			return nil, err
		}
	}
	if cfg.factoryRegion0 > 0 && t.family == nrf.FamilyNRF51 {
		put32(t.app.ficr, catalog.FICRCLenR0, cfg.factoryRegion0)
		put32(t.app.ficr, catalog.FICRPPFC, 0xFFFFFF00)
	}
	t.applyProtection(cfg)
	for _, c := range t.cores {
		c.latchProtection()
		c.loadVectors()
	}
	return t, nil
}

func (t *Target) newCore(cp nrf.CoProcessor, pageSize, sectionKB, flashKB, ramKB uint32, variant string) *core {
	regs, _ := catalog.Regs(t.family, cp)
	ap, _ := catalog.APs(t.family, cp)

	uicrSize := uint32(0x1000)
	if pageSize < 0x1000 {
		uicrSize = 0x400
	}
	c := &core{
		family:      t.family,
		cp:          cp,
		regs:        regs,
		ap:          ap,
		flash:       make([]byte, flashKB*1024),
		uicr:        make([]byte, uicrSize),
		ficr:        make([]byte, 0x1000),
		ram:         make([]byte, ramKB*1024),
		pageSize:    pageSize,
		sectionSize: sectionKB * 1024,
		cpuRegs:     make(map[nrf.CPURegister]uint32),
	}
	fill(c.flash, 0xFF)
	fill(c.uicr, 0xFF)
	fill(c.ficr, 0xFF)
	c.ramOn = make([]bool, (uint32(len(c.ram))+c.sectionSize-1)/c.sectionSize)
	for i := range c.ramOn {
		c.ramOn[i] = true
	}
	if regs.SPUBase != 0 {
		c.spu = make([]uint32, uint32(len(c.flash))/regs.SPURegionSize)
		for i := range c.spu {
			c.spu[i] = catalog.SPUPermDefault
		}
	}
	if regs.QSPIBase != 0 && t.dev.QSPI && cp == nrf.CPApplication {
		c.qspi = newQSPIState()
	}
	c.fillFICR(t.dev, variant, flashKB, ramKB, t.hwid)
	return c
}

func variantString(dev *catalog.Device, memCode, override string) string {
	if override != "" {
		return override
	}
	letter := "A"
	if len(dev.Revisions) > 0 {
		letters := make([]string, 0, len(dev.Revisions))
		for l := range dev.Revisions {
			letters = append(letters, l)
		}
		sort.Strings(letters)
		letter = letters[len(letters)-1]
	}
	if dev.RevChar != nil && *dev.RevChar == 0 {
		return letter + memCode + "0"
	}
	return memCode + letter + "0"
}

func (c *core) fillFICR(dev *catalog.Device, variant string, flashKB, ramKB uint32, hwid uint16) {
	r := c.regs
	switch c.family {
	case nrf.FamilyNRF51:
		put32(c.ficr, catalog.FICRCodePageSize, c.pageSize)
		put32(c.ficr, catalog.FICRCodeSize, uint32(len(c.flash))/c.pageSize)
		put32(c.ficr, catalog.FICRCLenR0, 0xFFFFFFFF)
		put32(c.ficr, catalog.FICRPPFC, 0x000000FF)
		put32(c.ficr, catalog.FICRConfigID, uint32(hwid))
	case nrf.FamilyNRF52:
		put32(c.ficr, catalog.FICRCodePageSize, c.pageSize)
		put32(c.ficr, catalog.FICRCodeSize, uint32(len(c.flash))/c.pageSize)
		put32(c.ficr, r.InfoPart, dev.Part)
		put32(c.ficr, r.InfoVariant, variantWord(variant))
		put32(c.ficr, r.InfoRAM, ramKB)
		put32(c.ficr, r.InfoFlash, flashKB)
	default:
		put32(c.ficr, r.InfoPart, dev.Part)
		put32(c.ficr, r.InfoVariant, variantWord(variant))
		put32(c.ficr, r.InfoRAM, ramKB)
		put32(c.ficr, r.InfoFlash, flashKB)
	}
}

func variantWord(v string) uint32 {
	var b [4]byte
	copy(b[:], "    ")
	copy(b[:], v)
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (t *Target) applyProtection(cfg targetConfig) {
	c := t.app
	switch t.family {
	case nrf.FamilyNRF51:
		conf := uint32(0xFFFFFFFF)
		switch cfg.protection {
		case nrf.ProtectionRegion0:
			conf = 0xFFFFFF00
		case nrf.ProtectionAll:
			conf = 0xFFFF00FF
		case nrf.ProtectionBoth:
			conf = 0xFFFF0000
		}
		if conf != 0xFFFFFFFF {
			put32(c.uicr, catalog.UICRRBPConf, conf)
		}
		if cfg.protection == nrf.ProtectionRegion0 || cfg.protection == nrf.ProtectionBoth {
			r0 := cfg.region0
			if r0 == 0 {
				r0 = 0x4000
			}
			put32(c.uicr, catalog.UICRCLenR0, r0)
		}
	default:
		if cfg.protection == nrf.ProtectionAll || cfg.protection == nrf.ProtectionBoth {
			put32(c.uicr, c.regs.UICRApprotect, 0)
		}
		if cfg.protection == nrf.ProtectionSecure && c.regs.UICRSecureApprotect != 0 {
			put32(c.uicr, c.regs.UICRApprotect, 0)
			put32(c.uicr, c.regs.UICRSecureApprotect, 0)
		}
		if cfg.eraseProt && c.regs.UICREraseProtect != 0 {
			put32(c.uicr, c.regs.UICREraseProtect, 0)
		}
	}
}

// Device returns the catalog entry the target was built from.
func (t *Target) Device() *catalog.Device { return t.dev }

// Family returns the device family.
func (t *Target) Family() nrf.Family { return t.family }

// FlashBytes returns a copy of a core's flash contents.
func (t *Target) FlashBytes(cp nrf.CoProcessor) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.coreFor(cp); c != nil {
		return append([]byte(nil), c.flash...)
	}
	return nil
}

// UICRBytes returns a copy of a core's UICR contents.
func (t *Target) UICRBytes(cp nrf.CoProcessor) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.coreFor(cp); c != nil {
		return append([]byte(nil), c.uicr...)
	}
	return nil
}

// RAMBytes returns a copy of a core's RAM contents.
func (t *Target) RAMBytes(cp nrf.CoProcessor) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.coreFor(cp); c != nil {
		return append([]byte(nil), c.ram...)
	}
	return nil
}

// ExternalFlashBytes returns a copy of the QSPI flash contents, nil when
// no external flash is attached.
func (t *Target) ExternalFlashBytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.xflash == nil {
		return nil
	}
	return append([]byte(nil), t.xflash...)
}

func (t *Target) coreFor(cp nrf.CoProcessor) *core {
	if cp == nrf.CPNetwork {
		return t.net
	}
	return t.app
}

// --- DP and AP plumbing ---

func (t *Target) readDP(reg uint8) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch reg {
	case 0x00:
		return dpIDCode, nil
	case catalog.DPCtrlStat:
		v := t.dpCtrl
		if v&catalog.CDbgPwrUpReq != 0 {
			v |= catalog.CDbgPwrUpAck
		}
		if v&catalog.CSysPwrUpReq != 0 {
			v |= catalog.CSysPwrUpAck
		}
		return v, nil
	case catalog.DPSelect:
		return t.dpSelect, nil
	case catalog.DPRdBuff:
		return 0, nil
	}
	return 0, transport.ErrBusFault
}

func (t *Target) writeDP(reg uint8, value uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch reg {
	case catalog.DPAbort:
		return nil
	case catalog.DPCtrlStat:
		t.dpCtrl = value
		t.dpPowered = value&catalog.CDbgPwrUpReq != 0 && value&catalog.CSysPwrUpReq != 0
		return nil
	case catalog.DPSelect:
		t.dpSelect = value
		return nil
	}
	return transport.ErrBusFault
}

func (t *Target) readAP(ap, reg uint8) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dpPowered {
		return 0, transport.ErrNotPowered
	}
	if c, ok := t.ctrls[ap]; ok {
		return t.readCtrlAP(c, reg)
	}
	if _, ok := t.cores[ap]; ok {
		if reg == catalog.APIdr {
			idr, _ := catalog.AHBAPIdr(t.family)
			return idr, nil
		}
		return 0, fmt.Errorf("sim: AHB-AP register %#02x not modeled", reg)
	}
	// Unimplemented access ports read as zero, which is how identification
	// rules a family out.
	return 0, nil
}

func (t *Target) writeAP(ap, reg uint8, value uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dpPowered {
		return transport.ErrNotPowered
	}
	if c, ok := t.ctrls[ap]; ok {
		t.writeCtrlAP(c, reg, value)
		return nil
	}
	if _, ok := t.cores[ap]; ok {
		return fmt.Errorf("sim: AHB-AP register %#02x not modeled", reg)
	}
	return nil
}

func (t *Target) readCtrlAP(c *core, reg uint8) (uint32, error) {
	switch reg {
	case catalog.APIdr:
		idr, _ := catalog.CtrlAPIdr(t.family)
		return idr, nil
	case catalog.CtrlAPApprotectStatus:
		var v uint32
		if c.approtect {
			v |= catalog.ApprotectEnabled
		}
		if c.secureApprot {
			v |= catalog.SecureApprotectEnabled
		}
		return v, nil
	case catalog.CtrlAPEraseAllStatus:
		if c.eraseAllBusy > 0 {
			c.eraseAllBusy--
			return 1, nil
		}
		return 0, nil
	case catalog.CtrlAPEraseProtectStatus:
		if c.eraseProt {
			return 1, nil
		}
		return 0, nil
	case catalog.CtrlAPReset:
		if c.ctrlResetHeld {
			return 1, nil
		}
		return 0, nil
	}
	return 0, nil
}

func (t *Target) writeCtrlAP(c *core, reg uint8, value uint32) {
	switch reg {
	case catalog.CtrlAPEraseAll:
		if value != 1 {
			return
		}
		// Erase protection and secure access-port protection both gate the
		// CTRL-AP erase. The strobe is silently ignored, so the status
		// register never goes busy and the protection survives.
		if c.eraseProt || c.secureApprot {
			return
		}
		fill(c.flash, 0xFF)
		fill(c.uicr, 0xFF)
		fill(c.ram, 0x00)
		c.eraseAllBusy = 2
	case catalog.CtrlAPReset:
		if value != 0 {
			c.ctrlResetHeld = true
			return
		}
		if c.ctrlResetHeld {
			c.ctrlResetHeld = false
			c.reset(resetReasCtrlAP)
		}
	case catalog.CtrlAPEraseProtectReset:
		if !c.secureApprot {
			c.eraseProt = false
		}
	}
}

// --- memory transactions ---

// liveCore resolves a memory access port to a reachable core. Access-port
// protection kills every mem-AP transaction on nRF52 and later; nRF51
// readback protection is region-scoped and checked at dispatch instead.
func (t *Target) liveCore(ap uint8) (*core, error) {
	if !t.dpPowered {
		return nil, transport.ErrNotPowered
	}
	c, ok := t.cores[ap]
	if !ok {
		return nil, transport.ErrBusFault
	}
	if c.forceOff {
		return nil, transport.ErrCoreHeldInReset
	}
	if c.approtect || c.secureApprot {
		return nil, transport.ErrAPProtected
	}
	return c, nil
}

func (t *Target) readMemory(ap uint8, addr uint32, buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.liveCore(ap)
	if err != nil {
		return err
	}
	return c.read(t, addr, buf)
}

func (t *Target) writeMemory(ap uint8, addr uint32, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.liveCore(ap)
	if err != nil {
		return err
	}
	return c.write(t, addr, data)
}

func (c *core) read(t *Target, addr uint32, buf []byte) error {
	n := uint32(len(buf))
	if n == 0 {
		return nil
	}
	r := c.regs
	if off, ok := span(addr, n, r.CodeBase, uint32(len(c.flash))); ok {
		if c.pallProt {
			return transport.ErrAPProtected
		}
		if c.region0Prot && off < c.region0Len {
			return transport.ErrAPProtected
		}
		copy(buf, c.flash[off:off+n])
		return nil
	}
	if off, ok := span(addr, n, r.FICR, uint32(len(c.ficr))); ok {
		copy(buf, c.ficr[off:off+n])
		return nil
	}
	if off, ok := span(addr, n, r.UICR, uint32(len(c.uicr))); ok {
		copy(buf, c.uicr[off:off+n])
		return nil
	}
	if off, ok := span(addr, n, r.RAMBase, uint32(len(c.ram))); ok {
		if c.pallProt || c.region0Prot {
			return transport.ErrAPProtected
		}
		if err := c.ramPowerCheck(off, n); err != nil {
			return err
		}
		copy(buf, c.ram[off:off+n])
		return nil
	}
	if r.CodeRAM != 0 {
		if off, ok := span(addr, n, r.CodeRAM, uint32(len(c.ram))); ok {
			if err := c.ramPowerCheck(off, n); err != nil {
				return err
			}
			copy(buf, c.ram[off:off+n])
			return nil
		}
	}
	if c.qspi != nil && t.dev.XIPBase != 0 {
		if off, ok := span(addr, n, t.dev.XIPBase, uint32(len(t.xflash))); ok {
			if !c.qspi.activated {
				return transport.ErrBusFault
			}
			copy(buf, t.xflash[off:off+n])
			return nil
		}
	}
	if addr%4 != 0 || n%4 != 0 {
		return transport.ErrBusFault
	}
	for i := uint32(0); i < n; i += 4 {
		v, err := t.periphRead(c, addr+i)
		if err != nil {
			return err
		}
		put32(buf, i, v)
	}
	return nil
}

func (c *core) write(t *Target, addr uint32, data []byte) error {
	n := uint32(len(data))
	if n == 0 {
		return nil
	}
	r := c.regs
	if off, ok := span(addr, n, r.CodeBase, uint32(len(c.flash))); ok {
		if c.pallProt {
			return transport.ErrAPProtected
		}
		if c.region0Prot && off < c.region0Len {
			return transport.ErrAPProtected
		}
		c.flashWrite(c.flash, off, data)
		return nil
	}
	if _, ok := span(addr, n, r.FICR, uint32(len(c.ficr))); ok {
		return transport.ErrBusFault
	}
	if off, ok := span(addr, n, r.UICR, uint32(len(c.uicr))); ok {
		if c.nvmcConfig == catalog.NVMCConfigWen {
			andBytes(c.uicr[off:off+n], data)
		}
		return nil
	}
	if off, ok := span(addr, n, r.RAMBase, uint32(len(c.ram))); ok {
		if c.pallProt || c.region0Prot {
			return transport.ErrAPProtected
		}
		if err := c.ramPowerCheck(off, n); err != nil {
			return err
		}
		copy(c.ram[off:off+n], data)
		return nil
	}
	if r.CodeRAM != 0 {
		if off, ok := span(addr, n, r.CodeRAM, uint32(len(c.ram))); ok {
			if err := c.ramPowerCheck(off, n); err != nil {
				return err
			}
			copy(c.ram[off:off+n], data)
			return nil
		}
	}
	if addr%4 != 0 || n%4 != 0 {
		return transport.ErrBusFault
	}
	for i := uint32(0); i < n; i += 4 {
		if err := t.periphWrite(c, addr+i, le32(data[i:])); err != nil {
			return err
		}
	}
	return nil
}

// flashWrite performs an NVMC-gated NOR program: bits only clear, never
// set, and nothing happens unless write mode is enabled. Words covered by
// block protection are dropped.
func (c *core) flashWrite(dst []byte, off uint32, data []byte) {
	if c.nvmcConfig != catalog.NVMCConfigWen {
		return
	}
	for i := range data {
		o := off + uint32(i)
		if c.writeBlocked(o) {
			continue
		}
		dst[o] &= data[i]
	}
}

// writeBlocked reports whether flash byte offset o is covered by the
// family's block protection.
func (c *core) writeBlocked(o uint32) bool {
	r := c.regs
	if r.BPROTConfigBase != 0 {
		block := o / r.BPROTBlockSize
		if block < 128 && c.bprot[block/32]&(1<<(block%32)) != 0 {
			return true
		}
	}
	if r.ACLBase != 0 {
		for _, e := range c.acl {
			if e.size != 0 && e.perm&catalog.ACLPermWriteBlock != 0 &&
				o >= e.addr && o < e.addr+e.size {
				return true
			}
		}
	}
	if r.SPUBase != 0 && len(c.spu) > 0 {
		region := o / r.SPURegionSize
		if region < uint32(len(c.spu)) && c.spu[region]&catalog.SPUPermWrite == 0 {
			return true
		}
	}
	return false
}

func (c *core) ramPowerCheck(off, n uint32) error {
	first := off / c.sectionSize
	last := (off + n - 1) / c.sectionSize
	for s := first; s <= last; s++ {
		if !c.ramOn[s] {
			return transport.ErrBusFault
		}
	}
	return nil
}

// plant writes initial content into whichever region holds addr, with no
// NVMC or protection involvement.
func (c *core) plant(addr uint32, data []byte) error {
	n := uint32(len(data))
	if off, ok := span(addr, n, c.regs.CodeBase, uint32(len(c.flash))); ok {
		copy(c.flash[off:off+n], data)
		return nil
	}
	if off, ok := span(addr, n, c.regs.UICR, uint32(len(c.uicr))); ok {
		copy(c.uicr[off:off+n], data)
		return nil
	}
	if off, ok := span(addr, n, c.regs.RAMBase, uint32(len(c.ram))); ok {
		copy(c.ram[off:off+n], data)
		return nil
	}
	return fmt.Errorf("sim: firmware load at %#08x falls outside the device", addr)
}

// --- peripheral registers ---

func (t *Target) periphRead(c *core, addr uint32) (uint32, error) {
	r := c.regs
	switch {
	case r.NVMC != 0 && addr >= r.NVMC && addr < r.NVMC+0x1000:
		return c.nvmcRead(addr - r.NVMC), nil
	case c.family == nrf.FamilyNRF51 && addr == r.RAMOnAddr:
		return c.ramOnWord(0), nil
	case c.family == nrf.FamilyNRF51 && addr == r.RAMOnBAddr:
		return c.ramOnWord(2), nil
	case r.RAMPowerBase != 0 && addr >= r.RAMPowerBase && addr < r.RAMPowerBase+uint32(len(c.ramOn))*r.RAMPowerStride:
		off := addr - r.RAMPowerBase
		if off%r.RAMPowerStride != 0 {
			return 0, nil
		}
		if c.ramOn[off/r.RAMPowerStride] {
			return 1, nil
		}
		return 0, nil
	case r.ResetReas != 0 && addr == r.ResetReas:
		return c.resetReas, nil
	case r.NetworkForceOff != 0 && addr == r.NetworkForceOff:
		return c.forceOffReg, nil
	case r.ModemForceOff != 0 && addr == r.ModemForceOff:
		return c.forceOffReg, nil
	case r.BPROTConfigBase != 0 && addr >= r.BPROTConfigBase && addr < r.BPROTConfigBase+16:
		return c.bprot[(addr-r.BPROTConfigBase)/4], nil
	case r.ACLBase != 0 && addr >= r.ACLBase && addr < r.ACLBase+r.ACLEntries*16:
		off := addr - r.ACLBase
		e := &c.acl[off/16]
		switch off % 16 {
		case 0:
			return e.addr, nil
		case 4:
			return e.size, nil
		case 8:
			return e.perm, nil
		}
		return 0, nil
	case r.SPUBase != 0 && addr >= r.SPUBase+catalog.SPUFlashRegion0 && addr < r.SPUBase+catalog.SPUFlashRegion0+uint32(len(c.spu))*4:
		return c.spu[(addr-r.SPUBase-catalog.SPUFlashRegion0)/4], nil
	case c.qspi != nil && addr >= r.QSPIBase && addr < r.QSPIBase+0x1000:
		return c.qspi.readReg(addr - r.QSPIBase), nil
	case r.IPCBase != 0 && addr >= r.IPCBase && addr < r.IPCBase+0x1000:
		return t.ipcRead(addr - r.IPCBase), nil
	case addr == catalog.SCBAircr:
		return 0, nil
	}
	return 0, transport.ErrBusFault
}

func (t *Target) periphWrite(c *core, addr uint32, v uint32) error {
	r := c.regs
	switch {
	case r.NVMC != 0 && addr >= r.NVMC && addr < r.NVMC+0x1000:
		c.nvmcWrite(addr-r.NVMC, v)
		return nil
	case c.family == nrf.FamilyNRF51 && addr == r.RAMOnAddr:
		c.setRAMOnWord(0, v)
		return nil
	case c.family == nrf.FamilyNRF51 && addr == r.RAMOnBAddr:
		c.setRAMOnWord(2, v)
		return nil
	case r.RAMPowerBase != 0 && addr >= r.RAMPowerBase && addr < r.RAMPowerBase+uint32(len(c.ramOn))*r.RAMPowerStride:
		off := addr - r.RAMPowerBase
		if off%r.RAMPowerStride == 0 {
			c.ramOn[off/r.RAMPowerStride] = v != 0
		}
		return nil
	case r.ResetReas != 0 && addr == r.ResetReas:
		c.resetReas &^= v
		return nil
	case r.NetworkForceOff != 0 && addr == r.NetworkForceOff:
		c.forceOffReg = v
		if t.net != nil {
			t.setNetForceOff(v&1 != 0)
		}
		return nil
	case r.ModemForceOff != 0 && addr == r.ModemForceOff:
		c.forceOffReg = v
		return nil
	case r.BPROTConfigBase != 0 && addr >= r.BPROTConfigBase && addr < r.BPROTConfigBase+16:
		// Block protection bits latch until reset, writes only ever add.
		c.bprot[(addr-r.BPROTConfigBase)/4] |= v
		return nil
	case r.ACLBase != 0 && addr >= r.ACLBase && addr < r.ACLBase+r.ACLEntries*16:
		off := addr - r.ACLBase
		e := &c.acl[off/16]
		switch off % 16 {
		case 0:
			e.addr = v
		case 4:
			e.size = v
		case 8:
			e.perm |= v
		}
		return nil
	case r.SPUBase != 0 && addr >= r.SPUBase+catalog.SPUFlashRegion0 && addr < r.SPUBase+catalog.SPUFlashRegion0+uint32(len(c.spu))*4:
		c.spu[(addr-r.SPUBase-catalog.SPUFlashRegion0)/4] = v
		return nil
	case c.qspi != nil && addr >= r.QSPIBase && addr < r.QSPIBase+0x1000:
		return c.qspi.writeReg(t, c, addr-r.QSPIBase, v)
	case r.IPCBase != 0 && addr >= r.IPCBase && addr < r.IPCBase+0x1000:
		t.ipcWrite(addr-r.IPCBase, v)
		return nil
	case addr == catalog.SCBAircr:
		if v&0xFFFF0000 == catalog.AircrVectKey && v&catalog.AircrSysReset != 0 {
			c.reset(resetReasSoft)
		}
		return nil
	}
	return transport.ErrBusFault
}

func (t *Target) setNetForceOff(off bool) {
	was := t.net.forceOff
	t.net.forceOff = off
	if was && !off {
		// Released from reset, the core boots.
		t.net.reset(0)
	}
}

func (c *core) nvmcRead(off uint32) uint32 {
	switch off {
	case catalog.NVMCReady, catalog.NVMCReadyNext:
		if c.nvmcBusy > 0 {
			c.nvmcBusy--
			return 0
		}
		return 1
	case catalog.NVMCConfig:
		return c.nvmcConfig
	}
	return 0
}

func (c *core) nvmcWrite(off, v uint32) {
	switch off {
	case catalog.NVMCConfig:
		c.nvmcConfig = v & 3
	case catalog.NVMCErasePage:
		if c.nvmcConfig != catalog.NVMCConfigEen {
			return
		}
		if fo, ok := span(v, 1, c.regs.CodeBase, uint32(len(c.flash))); ok {
			start := fo - fo%c.pageSize
			if !c.writeBlocked(start) {
				fill(c.flash[start:start+c.pageSize], 0xFF)
				c.nvmcBusy = 1
			}
			return
		}
		if c.family == nrf.FamilyNRF51 {
			if _, ok := span(v, 1, c.regs.UICR, uint32(len(c.uicr))); ok {
				fill(c.uicr, 0xFF)
				c.nvmcBusy = 1
			}
		}
	case catalog.NVMCEraseAll:
		if c.nvmcConfig != catalog.NVMCConfigEen || v != 1 {
			return
		}
		// Erase protection blocks the NVMC erase-all the same way it
		// blocks the CTRL-AP one.
		if c.eraseProt {
			return
		}
		fill(c.flash, 0xFF)
		fill(c.uicr, 0xFF)
		c.nvmcBusy = 1
	case catalog.NVMCEraseUICR:
		if c.nvmcConfig != catalog.NVMCConfigEen || v != 1 {
			return
		}
		if c.family != nrf.FamilyNRF51 {
			fill(c.uicr, 0xFF)
			c.nvmcBusy = 1
		}
	}
}

// ramOnWord packs power bits of two RAM blocks starting at section base*2
// into the nRF51 RAMON register format.
func (c *core) ramOnWord(base int) uint32 {
	var v uint32
	for i := 0; i < 2; i++ {
		s := base + i
		if s < len(c.ramOn) && c.ramOn[s] {
			v |= 1 << uint(i)
		}
	}
	return v
}

func (c *core) setRAMOnWord(base int, v uint32) {
	for i := 0; i < 2; i++ {
		s := base + i
		if s < len(c.ramOn) {
			c.ramOn[s] = v&(1<<uint(i)) != 0
		}
	}
}

// --- core run state ---

func (t *Target) halt(ap uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.liveCore(ap)
	if err != nil {
		return err
	}
	c.halted = true
	return nil
}

func (t *Target) isHalted(ap uint8) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.liveCore(ap)
	if err != nil {
		return false, err
	}
	return c.halted, nil
}

func (t *Target) run(ap uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.liveCore(ap)
	if err != nil {
		return err
	}
	c.halted = false
	return nil
}

func (t *Target) step(ap uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.liveCore(ap)
	if err != nil {
		return err
	}
	if !c.halted {
		return fmt.Errorf("sim: cannot step a running core")
	}
	c.cpuRegs[nrf.RegPC] += 2
	return nil
}

func (t *Target) readRegister(ap uint8, reg nrf.CPURegister) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.liveCore(ap)
	if err != nil {
		return 0, err
	}
	if !c.halted {
		return 0, fmt.Errorf("sim: CPU registers require a halted core")
	}
	return c.cpuRegs[reg], nil
}

func (t *Target) writeRegister(ap uint8, reg nrf.CPURegister, value uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.liveCore(ap)
	if err != nil {
		return err
	}
	if !c.halted {
		return fmt.Errorf("sim: CPU registers require a halted core")
	}
	c.cpuRegs[reg] = value
	return nil
}

// --- resets ---

func (t *Target) pinReset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.cores {
		c.reset(resetReasPin)
	}
	if t.net != nil {
		t.net.forceOff = true
		t.app.forceOffReg = 1
	}
	return nil
}

// reset brings the core back to its boot state: protection relatched from
// UICR, NVMC read-only, block protection cleared, RAM repowered.
func (c *core) reset(reason uint32) {
	c.halted = false
	c.nvmcConfig = catalog.NVMCConfigRen
	c.nvmcBusy = 0
	for i := range c.ramOn {
		c.ramOn[i] = true
	}
	c.bprot = [4]uint32{}
	c.acl = [8]aclEntry{}
	for i := range c.spu {
		c.spu[i] = catalog.SPUPermDefault
	}
	if c.qspi != nil {
		c.qspi.reset()
	}
	c.resetReas |= reason
	c.latchProtection()
	c.loadVectors()
}

// latchProtection derives the live protection state from the UICR, the way
// hardware samples it out of reset.
func (c *core) latchProtection() {
	switch c.family {
	case nrf.FamilyNRF51:
		conf := le32(c.uicr[catalog.UICRRBPConf:])
		c.region0Prot = conf&catalog.RBPConfPR0Mask != catalog.RBPConfPR0Mask
		c.pallProt = conf&catalog.RBPConfPAllMask != catalog.RBPConfPAllMask
		clen := le32(c.uicr[catalog.UICRCLenR0:])
		if clen == 0xFFFFFFFF {
			// No UICR length set; the factory preset applies when PPFC
			// reads enabled.
			if c.ficr[catalog.FICRPPFC]&0xFF == 0x00 {
				clen = le32(c.ficr[catalog.FICRCLenR0:])
			} else {
				clen = 0
			}
		}
		if clen > uint32(len(c.flash)) {
			clen = uint32(len(c.flash))
		}
		c.region0Len = clen
	default:
		c.approtect = le32(c.uicr[c.regs.UICRApprotect:]) != 0xFFFFFFFF
		if c.regs.UICRSecureApprotect != 0 {
			c.secureApprot = le32(c.uicr[c.regs.UICRSecureApprotect:]) != 0xFFFFFFFF
		}
		if c.regs.UICREraseProtect != 0 {
			c.eraseProt = le32(c.uicr[c.regs.UICREraseProtect:]) != 0xFFFFFFFF
		}
	}
}

// loadVectors initializes SP and PC from the vector table when the flash
// holds one.
func (c *core) loadVectors() {
	sp := le32(c.flash[0:])
	pc := le32(c.flash[4:])
	if sp == 0xFFFFFFFF && pc == 0xFFFFFFFF {
		c.cpuRegs[nrf.RegSP] = 0xFFFFFFFF
		c.cpuRegs[nrf.RegMSP] = 0xFFFFFFFF
		c.cpuRegs[nrf.RegPC] = 0xFFFFFFFF
	} else {
		c.cpuRegs[nrf.RegSP] = sp
		c.cpuRegs[nrf.RegMSP] = sp
		c.cpuRegs[nrf.RegPC] = pc &^ 1
	}
	c.cpuRegs[nrf.RegLR] = 0xFFFFFFFF
	c.cpuRegs[nrf.RegXPSR] = 0x01000000
}

// --- helpers ---

func span(addr, n, base, size uint32) (uint32, bool) {
	if size == 0 || addr < base {
		return 0, false
	}
	off := addr - base
	if off >= size || n > size-off {
		return 0, false
	}
	return off, true
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func put32(b []byte, off uint32, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func andBytes(dst, src []byte) {
	for i := range src {
		dst[i] &= src[i]
	}
}
