package device

import (
	"context"
	"testing"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
	"github.com/nrfprobe/nrfprobe/internal/transport/sim"
)

func openProbe(t *testing.T, name string, opts ...sim.TargetOption) (*probe.Connection, *sim.Target) {
	t.Helper()
	tgt, err := sim.NewTarget(name, opts...)
	if err != nil {
		t.Fatalf("NewTarget(%q) error = %v", name, err)
	}
	drv := sim.NewDriver()
	drv.AddProbe(683000001, tgt)
	pc, err := probe.Open(context.Background(), drv, 683000001, probe.Options{})
	if err != nil {
		t.Fatalf("probe.Open error = %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	return pc, tgt
}

func openDevice(t *testing.T, name string, family nrf.Family, cp nrf.CoProcessor, opts ...sim.TargetOption) (*Context, *sim.Target) {
	t.Helper()
	pc, tgt := openProbe(t, name, opts...)
	ctx, err := Connect(pc, family, cp)
	if err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	t.Cleanup(func() { ctx.Disconnect() })
	return ctx, tgt
}

func TestConnectIdentifiesFamilies(t *testing.T) {
	tests := []struct {
		device string
		want   nrf.Family
	}{
		{device: "NRF52840", want: nrf.FamilyNRF52},
		{device: "NRF52832", want: nrf.FamilyNRF52},
		{device: "NRF5340", want: nrf.FamilyNRF53},
		{device: "NRF9160", want: nrf.FamilyNRF91},
		{device: "NRF51802", want: nrf.FamilyNRF51},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			ctx, _ := openDevice(t, tt.device, nrf.FamilyAuto, nrf.CPApplication)
			if got := ctx.Family(); got != tt.want {
				t.Errorf("Family() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConnectVerifiesRequestedFamily(t *testing.T) {
	pc, _ := openProbe(t, "NRF52840")
	if _, err := Connect(pc, nrf.FamilyNRF91, nrf.CPApplication); nrf.CodeOf(err) != nrf.CodeWrongFamilyForDevice {
		t.Fatalf("Connect with wrong family error = %v, want WRONG_FAMILY_FOR_DEVICE", err)
	}
	// The right concrete family connects without probing the rest.
	ctx, err := Connect(pc, nrf.FamilyNRF52, nrf.CPApplication)
	if err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	defer ctx.Disconnect()
	if ctx.Family() != nrf.FamilyNRF52 {
		t.Errorf("Family() = %s, want NRF52", ctx.Family())
	}
}

func TestConnectLowVoltage(t *testing.T) {
	tgt, err := sim.NewTarget("NRF52840")
	if err != nil {
		t.Fatalf("NewTarget error = %v", err)
	}
	drv := sim.NewDriver()
	p := drv.AddProbe(42, tgt)
	p.SetVoltageMV(900)
	pc, err := probe.Open(context.Background(), drv, 42, probe.Options{})
	if err != nil {
		t.Fatalf("probe.Open error = %v", err)
	}
	defer pc.Close()
	if _, err := Connect(pc, nrf.FamilyAuto, nrf.CPApplication); nrf.CodeOf(err) != nrf.CodeLowVoltage {
		t.Fatalf("Connect error = %v, want LOW_VOLTAGE", err)
	}
}

func TestCoprocessorValidation(t *testing.T) {
	t.Run("network core on nRF52", func(t *testing.T) {
		pc, _ := openProbe(t, "NRF52840")
		if _, err := Connect(pc, nrf.FamilyAuto, nrf.CPNetwork); nrf.CodeOf(err) != nrf.CodeInvalidDeviceForOperation {
			t.Fatalf("Connect error = %v, want INVALID_DEVICE_FOR_OPERATION", err)
		}
	})
	t.Run("modem core over SWD", func(t *testing.T) {
		pc, _ := openProbe(t, "NRF9160")
		if _, err := Connect(pc, nrf.FamilyAuto, nrf.CPModem); nrf.CodeOf(err) != nrf.CodeInvalidDeviceForOperation {
			t.Fatalf("Connect error = %v, want INVALID_DEVICE_FOR_OPERATION", err)
		}
	})
}

func TestReadDeviceFamilyOnlyInAutoMode(t *testing.T) {
	ctx, _ := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication)
	fam, err := ctx.ReadDeviceFamily()
	if err != nil {
		t.Fatalf("ReadDeviceFamily error = %v", err)
	}
	if fam != nrf.FamilyNRF52 {
		t.Errorf("ReadDeviceFamily() = %s, want NRF52", fam)
	}

	fixed, _ := openDevice(t, "NRF52832", nrf.FamilyNRF52, nrf.CPApplication)
	if _, err := fixed.ReadDeviceFamily(); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Errorf("ReadDeviceFamily on fixed-family session error = %v, want INVALID_OPERATION", err)
	}
}

func TestReadDeviceInfoNRF52840(t *testing.T) {
	ctx, _ := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication)
	info, err := ctx.ReadDeviceInfo()
	if err != nil {
		t.Fatalf("ReadDeviceInfo error = %v", err)
	}
	want := nrf.Version{Name: nrf.NRF52840, Memory: nrf.MemoryAA, Revision: nrf.RevisionRev3}
	if info.Version != want {
		t.Errorf("Version = %v, want %v", info.Version, want)
	}
	if info.CodeSize != 1024*1024 || info.CodePageSize != 4096 {
		t.Errorf("code geometry = %d/%d, want 1048576/4096", info.CodeSize, info.CodePageSize)
	}
	if info.RAMAddress != 0x20000000 || info.RAMSize != 256*1024 {
		t.Errorf("RAM geometry = %#x/%d, want 0x20000000/262144", info.RAMAddress, info.RAMSize)
	}
	if info.UICRAddress != 0x10001000 || info.UICRSize != 0x1000 {
		t.Errorf("UICR geometry = %#x/%#x, want 0x10001000/0x1000", info.UICRAddress, info.UICRSize)
	}
	if !info.QSPIPresent || info.XIPAddress != 0x12000000 {
		t.Errorf("QSPI = %v at %#x, want present at 0x12000000", info.QSPIPresent, info.XIPAddress)
	}
	if info.ResetPin != nrf.InvalidAddress {
		t.Errorf("ResetPin = %#x, want unconfigured", info.ResetPin)
	}
}

func TestReadDeviceInfoNRF51(t *testing.T) {
	ctx, _ := openDevice(t, "NRF51802", nrf.FamilyAuto, nrf.CPApplication, sim.WithHWID(0x00C8))
	info, err := ctx.ReadDeviceInfo()
	if err != nil {
		t.Fatalf("ReadDeviceInfo error = %v", err)
	}
	want := nrf.Version{Name: nrf.NRF51802, Memory: nrf.MemoryAA, Revision: nrf.RevisionRev3}
	if info.Version != want {
		t.Errorf("Version = %v, want %v", info.Version, want)
	}
	if info.CodeSize != 256*1024 || info.CodePageSize != 1024 {
		t.Errorf("code geometry = %d/%d, want 262144/1024", info.CodeSize, info.CodePageSize)
	}
	if info.RAMSize != 16*1024 {
		t.Errorf("RAM probe found %d bytes, want 16384", info.RAMSize)
	}
	if info.UICRSize != 0x400 {
		t.Errorf("UICR size = %#x, want 0x400", info.UICRSize)
	}
	if info.QSPIPresent {
		t.Error("nRF51 reported a QSPI controller")
	}
}

func TestReadDeviceInfoUnknownHWID(t *testing.T) {
	ctx, _ := openDevice(t, "NRF51xxx", nrf.FamilyAuto, nrf.CPApplication, sim.WithHWID(0xBEEF))
	info, err := ctx.ReadDeviceInfo()
	if err != nil {
		t.Fatalf("ReadDeviceInfo error = %v", err)
	}
	if info.Version.Name != nrf.NRF51xxx || info.Version.Revision != nrf.RevisionFuture {
		t.Errorf("Version = %v, want generic NRF51xxx FUTURE", info.Version)
	}
	if info.CodeSize != 256*1024 {
		t.Errorf("CodeSize = %d, want FICR-derived 262144", info.CodeSize)
	}
}

func TestNetworkCoreContext(t *testing.T) {
	pc, _ := openProbe(t, "NRF5340")
	app, err := Connect(pc, nrf.FamilyAuto, nrf.CPApplication)
	if err != nil {
		t.Fatalf("Connect application error = %v", err)
	}
	defer app.Disconnect()

	// The network core powers up held in reset; release it first.
	if err := app.WriteU32(app.Layout().NetworkForceOff, 0); err != nil {
		t.Fatalf("FORCEOFF release error = %v", err)
	}

	net, err := Connect(pc, nrf.FamilyNRF53, nrf.CPNetwork)
	if err != nil {
		t.Fatalf("Connect network error = %v", err)
	}
	defer net.Disconnect()

	info, err := net.ReadDeviceInfo()
	if err != nil {
		t.Fatalf("ReadDeviceInfo error = %v", err)
	}
	if info.Version.Name != nrf.NRF5340 {
		t.Errorf("Version.Name = %s, want NRF5340", info.Version.Name)
	}
	if info.CodeAddress != 0x01000000 || info.CodeSize != 256*1024 || info.CodePageSize != 2048 {
		t.Errorf("network flash = %#x/%d/%d, want 0x01000000/262144/2048", info.CodeAddress, info.CodeSize, info.CodePageSize)
	}
	if info.RAMAddress != 0x21000000 || info.RAMSize != 64*1024 {
		t.Errorf("network RAM = %#x/%d, want 0x21000000/65536", info.RAMAddress, info.RAMSize)
	}
	if info.QSPIPresent {
		t.Error("network core reported the application core's QSPI")
	}
}

func TestProtectedDeviceInfo(t *testing.T) {
	t.Run("nRF52 blocks identification", func(t *testing.T) {
		ctx, _ := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication,
			sim.WithProtection(nrf.ProtectionAll))
		if _, err := ctx.ReadDeviceInfo(); nrf.CodeOf(err) != nrf.CodeNotAvailableBecauseProtection {
			t.Fatalf("ReadDeviceInfo error = %v, want NOT_AVAILABLE_BECAUSE_PROTECTION", err)
		}
	})
	t.Run("nRF51 still classifies", func(t *testing.T) {
		// nRF51 protection covers flash and RAM, not the FICR, so the
		// part still identifies; only the RAM probe falls back.
		ctx, _ := openDevice(t, "NRF51802", nrf.FamilyAuto, nrf.CPApplication,
			sim.WithHWID(0x00C8), sim.WithProtection(nrf.ProtectionAll))
		info, err := ctx.ReadDeviceInfo()
		if err != nil {
			t.Fatalf("ReadDeviceInfo error = %v", err)
		}
		if info.Version.Name != nrf.NRF51802 {
			t.Errorf("Version.Name = %s, want NRF51802", info.Version.Name)
		}
		if info.RAMSize != 16*1024 {
			t.Errorf("RAM fallback = %d, want 16384", info.RAMSize)
		}
	})
}

func TestMemoryMapNRF52840(t *testing.T) {
	ctx, _ := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication)
	m, err := ctx.MemoryMap()
	if err != nil {
		t.Fatalf("MemoryMap error = %v", err)
	}
	byType := make(map[nrf.MemoryType]nrf.MemoryDescription)
	for _, d := range m {
		byType[d.Type] = d
	}
	if len(m) != 6 {
		t.Errorf("MemoryMap returned %d regions, want 6", len(m))
	}
	code := byType[nrf.MemTypeCode]
	if code.Start != 0 || code.Size != 1024*1024 || code.NumPages != 256 {
		t.Errorf("code region = %+v", code)
	}
	if code.PageSize() != 4096 {
		t.Errorf("code PageSize() = %d, want 4096", code.PageSize())
	}
	if cr := byType[nrf.MemTypeCodeRAM]; cr.Start != 0x00800000 || cr.Size != 256*1024 {
		t.Errorf("code RAM region = %+v", cr)
	}
	if x := byType[nrf.MemTypeXIP]; x.Start != 0x12000000 || !x.Erasable() {
		t.Errorf("XIP region = %+v", x)
	}
	if f := byType[nrf.MemTypeFICR]; f.Writable() {
		t.Errorf("FICR region is writable: %+v", f)
	}
	if !byType[nrf.MemTypeUICR].Contains(0x10001208, 4) {
		t.Error("UICR region does not contain the APPROTECT word")
	}
}

func TestPageSizes(t *testing.T) {
	ctx, _ := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication)
	spans, err := ctx.PageSizes()
	if err != nil {
		t.Fatalf("PageSizes error = %v", err)
	}
	want := []PageSpan{
		{Start: 0x00000000, Size: 4096, Count: 256},
		{Start: 0x10001000, Size: 0x1000, Count: 1},
		{Start: 0x20000000, Size: 32 * 1024, Count: 8},
	}
	if len(spans) != len(want) {
		t.Fatalf("PageSizes returned %d spans, want %d", len(spans), len(want))
	}
	for i, w := range want {
		if spans[i] != w {
			t.Errorf("span %d = %+v, want %+v", i, spans[i], w)
		}
	}
}

func TestMemoryRails(t *testing.T) {
	ctx, tgt := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication)

	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	if err := ctx.WriteMemory(0x20000100, data); err != nil {
		t.Fatalf("WriteMemory error = %v", err)
	}
	back := make([]byte, len(data))
	if err := ctx.ReadMemory(0x20000100, back); err != nil {
		t.Fatalf("ReadMemory error = %v", err)
	}
	for i := range data {
		if back[i] != data[i] {
			t.Fatalf("readback[%d] = %#02x, want %#02x", i, back[i], data[i])
		}
	}
	if got := tgt.RAMBytes(nrf.CPApplication)[0x100]; got != 0xDE {
		t.Errorf("target RAM byte = %#02x, want 0xDE", got)
	}

	// The code RAM alias reaches the same bytes.
	w, err := ctx.ReadU32(0x00800100)
	if err != nil {
		t.Fatalf("ReadU32 code RAM alias error = %v", err)
	}
	if w != 0xEFBEADDE {
		t.Errorf("code RAM alias word = %#08x, want 0xEFBEADDE", w)
	}

	if _, err := ctx.ReadU32(0x20000101); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("unaligned ReadU32 error = %v, want INVALID_PARAMETER", err)
	}
	if _, err := ctx.ReadU32(0xF0000000); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("unmapped ReadU32 error = %v, want INVALID_PARAMETER", err)
	}
}

func TestRAMPowerGate(t *testing.T) {
	ctx, _ := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication)
	layout := ctx.Layout()

	count, err := ctx.RAMSectionCount()
	if err != nil {
		t.Fatalf("RAMSectionCount error = %v", err)
	}
	if count != 8 {
		t.Fatalf("RAMSectionCount = %d, want 8", count)
	}
	if size, _ := ctx.RAMSectionSize(); size != 32*1024 {
		t.Fatalf("RAMSectionSize = %d, want 32768", size)
	}

	// Gate off section 1 and watch the rails refuse it.
	if err := ctx.WriteU32(layout.RAMPowerBase+layout.RAMPowerStride, 0); err != nil {
		t.Fatalf("power gate write error = %v", err)
	}
	if st, _ := ctx.RAMSectionPowered(1); st != nrf.RamOff {
		t.Errorf("RAMSectionPowered(1) = %s, want OFF", st)
	}
	if err := ctx.WriteMemory(0x20008000, []byte{1}); nrf.CodeOf(err) != nrf.CodeRAMIsOff {
		t.Errorf("write to unpowered section error = %v, want RAM_IS_OFF", err)
	}
	// A straddling read fails too, before any bytes move.
	buf := make([]byte, 64)
	if err := ctx.ReadMemory(0x20008000-32, buf); nrf.CodeOf(err) != nrf.CodeRAMIsOff {
		t.Errorf("straddling read error = %v, want RAM_IS_OFF", err)
	}
	// The alias window hits the same gate.
	if err := ctx.WriteMemory(0x00808000, []byte{1}); nrf.CodeOf(err) != nrf.CodeRAMIsOff {
		t.Errorf("alias write to unpowered section error = %v, want RAM_IS_OFF", err)
	}

	if err := ctx.WriteU32(layout.RAMPowerBase+layout.RAMPowerStride, 1); err != nil {
		t.Fatalf("repower write error = %v", err)
	}
	if err := ctx.WriteMemory(0x20008000, []byte{1}); err != nil {
		t.Errorf("write after repower error = %v", err)
	}
	if st, _ := ctx.RAMSectionPowered(1); st != nrf.RamOn {
		t.Errorf("RAMSectionPowered(1) = %s, want ON", st)
	}

	if _, err := ctx.RAMSectionPowered(99); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("out-of-range section error = %v, want INVALID_PARAMETER", err)
	}
}

func TestCPURunControl(t *testing.T) {
	ctx, _ := openDevice(t, "NRF52832", nrf.FamilyAuto, nrf.CPApplication)

	if _, err := ctx.ReadCPURegister(nrf.RegR0); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Fatalf("register read on running core error = %v, want INVALID_OPERATION", err)
	}
	if err := ctx.Step(); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Fatalf("Step on running core error = %v, want INVALID_OPERATION", err)
	}

	if err := ctx.Halt(); err != nil {
		t.Fatalf("Halt error = %v", err)
	}
	halted, err := ctx.IsHalted()
	if err != nil || !halted {
		t.Fatalf("IsHalted = %v, %v, want true", halted, err)
	}

	if err := ctx.WriteCPURegister(nrf.RegPC, 0x1000); err != nil {
		t.Fatalf("WriteCPURegister error = %v", err)
	}
	if err := ctx.Step(); err != nil {
		t.Fatalf("Step error = %v", err)
	}
	pc, err := ctx.ReadCPURegister(nrf.RegPC)
	if err != nil {
		t.Fatalf("ReadCPURegister error = %v", err)
	}
	if pc != 0x1002 {
		t.Errorf("PC after step = %#x, want 0x1002", pc)
	}

	if _, err := ctx.ReadCPURegister(nrf.CPURegister(40)); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("bogus register error = %v, want INVALID_PARAMETER", err)
	}

	if err := ctx.Run(); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if halted, _ := ctx.IsHalted(); halted {
		t.Error("core still halted after Run")
	}
}

func TestResetActions(t *testing.T) {
	ctx, _ := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication)
	layout := ctx.Layout()

	readReas := func() uint32 {
		t.Helper()
		v, err := ctx.ReadU32(layout.ResetReas)
		if err != nil {
			t.Fatalf("RESETREAS read error = %v", err)
		}
		return v
	}
	clearReas := func(v uint32) {
		t.Helper()
		if err := ctx.WriteU32(layout.ResetReas, v); err != nil {
			t.Fatalf("RESETREAS clear error = %v", err)
		}
	}

	if err := ctx.Reset(nrf.ResetSystem); err != nil {
		t.Fatalf("system reset error = %v", err)
	}
	if v := readReas(); v&(1<<2) == 0 {
		t.Errorf("RESETREAS after system reset = %#x, want SREQ set", v)
	}
	clearReas(1 << 2)

	if err := ctx.Reset(nrf.ResetDebug); err != nil {
		t.Fatalf("debug reset error = %v", err)
	}
	if v := readReas(); v&(1<<4) == 0 {
		t.Errorf("RESETREAS after debug reset = %#x, want CTRL-AP bit set", v)
	}
	clearReas(1 << 4)

	if err := ctx.Reset(nrf.ResetPin); err != nil {
		t.Fatalf("pin reset error = %v", err)
	}
	if v := readReas(); v&1 == 0 {
		t.Errorf("RESETREAS after pin reset = %#x, want RESETPIN set", v)
	}

	if err := ctx.Reset(nrf.ResetNone); err != nil {
		t.Errorf("ResetNone error = %v, want nil", err)
	}
	if err := ctx.Reset(nrf.ResetAction(99)); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("bogus reset action error = %v, want INVALID_PARAMETER", err)
	}
}

func TestDebugResetWorksUnderProtection(t *testing.T) {
	ctx, _ := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication,
		sim.WithProtection(nrf.ProtectionAll))

	if err := ctx.ResetSystem(); nrf.CodeOf(err) != nrf.CodeNotAvailableBecauseProtection {
		t.Fatalf("system reset on protected device error = %v, want NOT_AVAILABLE_BECAUSE_PROTECTION", err)
	}
	// The CTRL-AP reset line does not care about protection.
	if err := ctx.ResetDebug(); err != nil {
		t.Fatalf("debug reset on protected device error = %v", err)
	}
}

func TestCtrlAPAccess(t *testing.T) {
	ctx, _ := openDevice(t, "NRF52840", nrf.FamilyAuto, nrf.CPApplication,
		sim.WithProtection(nrf.ProtectionAll))
	v, err := ctx.ReadCtrlAP(catalog.CtrlAPApprotectStatus)
	if err != nil {
		t.Fatalf("ReadCtrlAP error = %v", err)
	}
	if v&catalog.ApprotectEnabled == 0 {
		t.Errorf("APPROTECT status = %#x, want enabled bit", v)
	}

	n51, _ := openDevice(t, "NRF51802", nrf.FamilyAuto, nrf.CPApplication)
	if _, err := n51.ReadCtrlAP(catalog.CtrlAPApprotectStatus); nrf.CodeOf(err) != nrf.CodeInvalidDeviceForOperation {
		t.Errorf("nRF51 CTRL-AP read error = %v, want INVALID_DEVICE_FOR_OPERATION", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	pc, _ := openProbe(t, "NRF52840")
	ctx, err := Connect(pc, nrf.FamilyAuto, nrf.CPApplication)
	if err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	if err := ctx.Disconnect(); err != nil {
		t.Fatalf("Disconnect error = %v", err)
	}
	if err := ctx.Disconnect(); err != nil {
		t.Fatalf("second Disconnect error = %v", err)
	}
	if err := ctx.ReadMemory(0x20000000, make([]byte, 4)); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Errorf("read after disconnect error = %v, want INVALID_OPERATION", err)
	}

	// The probe connection survives and a fresh context comes up.
	again, err := Connect(pc, nrf.FamilyAuto, nrf.CPApplication)
	if err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	defer again.Disconnect()
	if err := again.ReadMemory(0x20000000, make([]byte, 4)); err != nil {
		t.Errorf("read after reconnect error = %v", err)
	}
}
