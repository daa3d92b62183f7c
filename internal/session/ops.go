package session

import (
	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
	"github.com/nrfprobe/nrfprobe/internal/rtt"
)

// Probe queries. All require a claimed probe.

// Serial returns the connected probe's serial number.
func (s *Session) Serial() (uint32, error) {
	pc, err := s.requireProbe("read_connected_emu_snr")
	if err != nil {
		return 0, err
	}
	return pc.Serial(), nil
}

// FirmwareString returns the probe's firmware identification string.
func (s *Session) FirmwareString() (string, error) {
	pc, err := s.requireProbe("read_emu_fw_str")
	if err != nil {
		return "", err
	}
	return pc.FirmwareString()
}

// ClockKHz returns the active SWD clock.
func (s *Session) ClockKHz() (uint32, error) {
	pc, err := s.requireProbe("swd_frequency")
	if err != nil {
		return 0, err
	}
	return pc.ClockKHz()
}

// SetClockKHz requests a new SWD clock and returns the speed actually in
// effect after clamping and probe capability limits.
func (s *Session) SetClockKHz(khz uint32) (uint32, error) {
	pc, err := s.requireProbe("set_swd_frequency")
	if err != nil {
		return 0, err
	}
	return pc.SetClockKHz(khz)
}

// TargetVoltageMV reads the target supply voltage through the probe.
func (s *Session) TargetVoltageMV() (uint32, error) {
	pc, err := s.requireProbe("target_voltage")
	if err != nil {
		return 0, err
	}
	return pc.TargetVoltageMV()
}

// EnumCOMPorts lists the virtual COM ports hosted by the connected probe.
func (s *Session) EnumCOMPorts() ([]probe.COMPortInfo, error) {
	pc, err := s.requireProbe("enum_com_ports")
	if err != nil {
		return nil, err
	}
	return probe.EnumCOMPorts(pc.Serial())
}

// ResetProbe restarts the probe itself, not the target.
func (s *Session) ResetProbe() error {
	pc, err := s.requireProbe("reset_probe")
	if err != nil {
		return err
	}
	return pc.Reset()
}

// ReplaceProbeFirmware reflashes the probe's own firmware.
func (s *Session) ReplaceProbeFirmware() error {
	pc, err := s.requireProbe("replace_probe_firmware")
	if err != nil {
		return err
	}
	return pc.ReplaceFirmware()
}

// Device identification. All require a device connection.

// ReadDeviceInfo returns the identified device and its memory geometry.
func (s *Session) ReadDeviceInfo() (device.Info, error) {
	if err := s.requireDevice("read_device_info"); err != nil {
		return device.Info{}, err
	}
	return s.dev.ReadDeviceInfo()
}

// ReadDeviceVersion returns the classified device version.
func (s *Session) ReadDeviceVersion() (nrf.Version, error) {
	if err := s.requireDevice("read_device_version"); err != nil {
		return nrf.Version{}, err
	}
	return s.dev.ReadDeviceVersion()
}

// ReadDeviceFamily probes the silicon for its family. Only legal on a
// session opened without a concrete family.
func (s *Session) ReadDeviceFamily() (nrf.Family, error) {
	if err := s.requireDevice("read_device_family"); err != nil {
		return nrf.FamilyUnknown, err
	}
	return s.dev.ReadDeviceFamily()
}

// MemoryMap describes every addressable region of the connected core.
func (s *Session) MemoryMap() ([]nrf.MemoryDescription, error) {
	if err := s.requireDevice("read_memory_descriptors"); err != nil {
		return nil, err
	}
	return s.dev.MemoryMap()
}

// PageSizes lists the page size runs of the code flash and UICR.
func (s *Session) PageSizes() ([]device.PageSpan, error) {
	if err := s.requireDevice("read_page_sizes"); err != nil {
		return nil, err
	}
	return s.dev.PageSizes()
}

// Core control.

// Halt stops the CPU.
func (s *Session) Halt() error {
	if err := s.requireDevice("halt"); err != nil {
		return err
	}
	return s.dev.Halt()
}

// IsHalted reports whether the CPU is stopped.
func (s *Session) IsHalted() (bool, error) {
	if err := s.requireDevice("is_halted"); err != nil {
		return false, err
	}
	return s.dev.IsHalted()
}

// Run resumes the CPU.
func (s *Session) Run() error {
	if err := s.requireDevice("go"); err != nil {
		return err
	}
	return s.dev.Run()
}

// Step executes one instruction on a halted CPU.
func (s *Session) Step() error {
	if err := s.requireDevice("step"); err != nil {
		return err
	}
	return s.dev.Step()
}

// ReadCPURegister reads one core register of a halted CPU.
func (s *Session) ReadCPURegister(reg nrf.CPURegister) (uint32, error) {
	if err := s.requireDevice("read_cpu_register"); err != nil {
		return 0, err
	}
	return s.dev.ReadCPURegister(reg)
}

// WriteCPURegister writes one core register of a halted CPU.
func (s *Session) WriteCPURegister(reg nrf.CPURegister, value uint32) error {
	if err := s.requireDevice("write_cpu_register"); err != nil {
		return err
	}
	return s.dev.WriteCPURegister(reg, value)
}

// Reset applies the requested reset action to the target.
func (s *Session) Reset(action nrf.ResetAction) error {
	if err := s.requireDevice("reset"); err != nil {
		return err
	}
	return s.dev.Reset(action)
}

// Memory and flash. Reads and writes route by address: code flash and
// UICR through the NVMC, the XIP window through QSPI, the rest as plain
// memory.

// Read fills buf from the target starting at addr.
func (s *Session) Read(addr uint32, buf []byte) error {
	if err := s.requireDevice("read"); err != nil {
		return err
	}
	return s.flash.Read(addr, buf)
}

// ReadU32 reads one aligned word.
func (s *Session) ReadU32(addr uint32) (uint32, error) {
	if err := s.requireDevice("read_u32"); err != nil {
		return 0, err
	}
	return s.flash.ReadU32(addr)
}

// Write stores data on the target starting at addr.
func (s *Session) Write(addr uint32, data []byte) error {
	if err := s.requireDevice("write"); err != nil {
		return err
	}
	return s.flash.Write(addr, data)
}

// WriteU32 writes one aligned word.
func (s *Session) WriteU32(addr uint32, value uint32) error {
	if err := s.requireDevice("write_u32"); err != nil {
		return err
	}
	return s.flash.WriteU32(addr, value)
}

// ErasePage erases the flash page containing addr.
func (s *Session) ErasePage(addr uint32) error {
	if err := s.requireDevice("erase_page"); err != nil {
		return err
	}
	return s.flash.ErasePage(addr)
}

// EraseUICR erases the UICR.
func (s *Session) EraseUICR() error {
	if err := s.requireDevice("erase_uicr"); err != nil {
		return err
	}
	return s.flash.EraseUICR()
}

// EraseAll erases all user flash and the UICR.
func (s *Session) EraseAll() error {
	if err := s.requireDevice("erase_all"); err != nil {
		return err
	}
	return s.flash.EraseAll()
}

// Erase applies an erase action to [start, end).
func (s *Session) Erase(action nrf.EraseAction, start, end uint32) error {
	if err := s.requireDevice("erase"); err != nil {
		return err
	}
	return s.flash.Erase(action, start, end)
}

// Program writes a firmware image per the given options.
func (s *Session) Program(img *firmware.Image, opts nrf.ProgramOptions) error {
	if err := s.requireDevice("program"); err != nil {
		return err
	}
	return s.flash.Program(img, opts)
}

// ReadToImage reads the selected memory regions into an image.
func (s *Session) ReadToImage(opts nrf.ReadOptions) (*firmware.Image, error) {
	if err := s.requireDevice("read_to_image"); err != nil {
		return nil, err
	}
	return s.flash.ReadToImage(opts)
}

// Verify compares an image against device content.
func (s *Session) Verify(img *firmware.Image, mode nrf.VerifyAction) error {
	if err := s.requireDevice("verify"); err != nil {
		return err
	}
	return s.flash.Verify(img, mode)
}

// Protection.

// ReadbackStatus reads the live readback protection level.
func (s *Session) ReadbackStatus() (nrf.ReadbackProtection, error) {
	if err := s.requireDevice("readback_status"); err != nil {
		return nrf.ProtectionNone, err
	}
	return s.prot.ReadbackStatus()
}

// Protect raises readback protection to the given level and resets the
// device. Recover is the only way back.
func (s *Session) Protect(level nrf.ReadbackProtection) error {
	if err := s.requireDevice("readback_protect"); err != nil {
		return err
	}
	return s.prot.Protect(level)
}

// Recover mass erases the device and clears protection, restoring
// factory state.
func (s *Session) Recover() error {
	if err := s.requireDevice("recover"); err != nil {
		return err
	}
	s.phase("Recovering device")
	return s.prot.Recover()
}

// IsEraseProtectEnabled reads the erase protection flag.
func (s *Session) IsEraseProtectEnabled() (bool, error) {
	if err := s.requireDevice("is_eraseprotect_enabled"); err != nil {
		return false, err
	}
	return s.prot.IsEraseProtectEnabled()
}

// EnableEraseProtect turns erase protection on. One way; only firmware
// or recover can undo it.
func (s *Session) EnableEraseProtect() error {
	if err := s.requireDevice("enable_eraseprotect"); err != nil {
		return err
	}
	return s.prot.EnableEraseProtect()
}

// ReadRegion0SizeAndSource reports the nRF51 region 0 size and where it
// was configured from.
func (s *Session) ReadRegion0SizeAndSource() (uint32, nrf.Region0Source, error) {
	if err := s.requireDevice("read_region_0"); err != nil {
		return 0, nrf.NoRegion0, err
	}
	return s.prot.ReadRegion0SizeAndSource()
}

// IsBprotEnabled reports whether block protection covers any byte of the
// given range.
func (s *Session) IsBprotEnabled(addr, length uint32) (bool, error) {
	if err := s.requireDevice("is_bprot_enabled"); err != nil {
		return false, err
	}
	return s.prot.IsBprotEnabled(addr, length)
}

// DisableBprot lifts block protection until the next reset. A halting
// operation.
func (s *Session) DisableBprot() error {
	if err := s.requireDevice("disable_bprot"); err != nil {
		return err
	}
	return s.prot.DisableBprot()
}

// RAM power.

// RAMSectionCount returns how many RAM sections the device has.
func (s *Session) RAMSectionCount() (uint32, error) {
	if err := s.requireDevice("read_ram_sections_count"); err != nil {
		return 0, err
	}
	return s.ram.Count()
}

// RAMSectionSize returns the uniform section size in bytes.
func (s *Session) RAMSectionSize() (uint32, error) {
	if err := s.requireDevice("read_ram_sections_size"); err != nil {
		return 0, err
	}
	return s.ram.SectionSize()
}

// RAMPowerStatus reads the power state of every section.
func (s *Session) RAMPowerStatus() ([]nrf.RamPowerState, error) {
	if err := s.requireDevice("read_ram_sections_power_status"); err != nil {
		return nil, err
	}
	return s.ram.Status()
}

// IsRAMPowered returns the per-section states with the count and size in
// one call.
func (s *Session) IsRAMPowered() ([]nrf.RamPowerState, uint32, uint32, error) {
	if err := s.requireDevice("is_ram_powered"); err != nil {
		return nil, 0, 0, err
	}
	return s.ram.IsRAMPowered()
}

// PowerRAMAll turns every RAM section on.
func (s *Session) PowerRAMAll() error {
	if err := s.requireDevice("power_ram_all"); err != nil {
		return err
	}
	return s.ram.PowerAll()
}

// UnpowerRAMSection turns one RAM section off, losing its contents.
func (s *Session) UnpowerRAMSection(section uint32) error {
	if err := s.requireDevice("unpower_ram_section"); err != nil {
		return err
	}
	return s.ram.UnpowerSection(section)
}

// QSPI.

// QSPIInit configures and activates the QSPI peripheral.
func (s *Session) QSPIInit(retainRAM bool, params nrf.QSPIInitParams) error {
	if err := s.requireDevice("qspi_init"); err != nil {
		return err
	}
	return s.qspi.Init(retainRAM, params)
}

// QSPIUninit deactivates the peripheral and restores scratch RAM when
// retention was requested.
func (s *Session) QSPIUninit() error {
	if err := s.requireDevice("qspi_uninit"); err != nil {
		return err
	}
	return s.qspi.Uninit()
}

// QSPIRead reads from the external flash.
func (s *Session) QSPIRead(addr uint32, buf []byte) error {
	if err := s.requireDevice("qspi_read"); err != nil {
		return err
	}
	return s.qspi.Read(addr, buf)
}

// QSPIWrite programs the external flash.
func (s *Session) QSPIWrite(addr uint32, data []byte) error {
	if err := s.requireDevice("qspi_write"); err != nil {
		return err
	}
	return s.qspi.Write(addr, data)
}

// QSPIErase erases external flash at the given granularity.
func (s *Session) QSPIErase(addr uint32, length nrf.QSPIEraseLen) error {
	if err := s.requireDevice("qspi_erase"); err != nil {
		return err
	}
	return s.qspi.Erase(addr, length)
}

// QSPICustom issues a vendor specific flash instruction.
func (s *Session) QSPICustom(opcode uint8, data []byte) ([]byte, error) {
	if err := s.requireDevice("qspi_custom"); err != nil {
		return nil, err
	}
	return s.qspi.Custom(opcode, data)
}

// QSPISize reads the external flash capacity from its JEDEC id.
func (s *Session) QSPISize() (uint32, error) {
	if err := s.requireDevice("qspi_size"); err != nil {
		return 0, err
	}
	return s.qspi.Size()
}

// RTT.

// RTTSetControlBlockAddress pins the RTT search to one address.
func (s *Session) RTTSetControlBlockAddress(addr uint32) error {
	if err := s.requireDevice("rtt_set_control_block_address"); err != nil {
		return err
	}
	return s.rtt.SetControlBlockAddress(addr)
}

// RTTStart arms the control block search.
func (s *Session) RTTStart() error {
	if err := s.requireDevice("rtt_start"); err != nil {
		return err
	}
	return s.rtt.Start()
}

// RTTStop ends the RTT session, erasing the control block identifier.
func (s *Session) RTTStop() error {
	if err := s.requireDevice("rtt_stop"); err != nil {
		return err
	}
	return s.rtt.Stop()
}

// RTTIsControlBlockFound advances the search one step and reports it.
func (s *Session) RTTIsControlBlockFound() (bool, error) {
	if err := s.requireDevice("rtt_is_control_block_found"); err != nil {
		return false, err
	}
	return s.rtt.IsControlBlockFound()
}

// RTTChannelCount returns the up and down channel counts.
func (s *Session) RTTChannelCount() (up, down int, err error) {
	if err := s.requireDevice("rtt_read_channel_count"); err != nil {
		return 0, 0, err
	}
	return s.rtt.ChannelCount()
}

// RTTChannel describes one channel.
func (s *Session) RTTChannel(dir nrf.RTTDirection, index int) (rtt.ChannelInfo, error) {
	if err := s.requireDevice("rtt_read_channel_info"); err != nil {
		return rtt.ChannelInfo{}, err
	}
	return s.rtt.Channel(dir, index)
}

// RTTRead drains available bytes from an up channel.
func (s *Session) RTTRead(channel int, buf []byte) (int, error) {
	if err := s.requireDevice("rtt_read"); err != nil {
		return 0, err
	}
	return s.rtt.Read(channel, buf)
}

// RTTWrite queues bytes on a down channel, reporting how many fit.
func (s *Session) RTTWrite(channel int, data []byte) (int, error) {
	if err := s.requireDevice("rtt_write"); err != nil {
		return 0, err
	}
	return s.rtt.Write(channel, data)
}

// Coprocessors.

// EnableCoprocessor releases a peer core from force-off.
func (s *Session) EnableCoprocessor(cp nrf.CoProcessor) error {
	if err := s.requireDevice("enable_coprocessor"); err != nil {
		return err
	}
	return s.coproc.Enable(cp)
}

// DisableCoprocessor forces a peer core off.
func (s *Session) DisableCoprocessor(cp nrf.CoProcessor) error {
	if err := s.requireDevice("disable_coprocessor"); err != nil {
		return err
	}
	return s.coproc.Disable(cp)
}

// IsCoprocessorEnabled reads a peer core's power state.
func (s *Session) IsCoprocessorEnabled(cp nrf.CoProcessor) (bool, error) {
	if err := s.requireDevice("is_coprocessor_enabled"); err != nil {
		return false, err
	}
	return s.coproc.IsEnabled(cp)
}
