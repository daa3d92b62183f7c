package protect

import (
	"context"
	"testing"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
	"github.com/nrfprobe/nrfprobe/internal/transport/sim"
)

func openController(t *testing.T, name string, opts ...sim.TargetOption) (*Controller, *device.Context, *sim.Target) {
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
	ctx, err := device.Connect(pc, nrf.FamilyAuto, nrf.CPApplication)
	if err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	t.Cleanup(func() { ctx.Disconnect() })
	return New(ctx), ctx, tgt
}

func TestReadbackStatusLevels(t *testing.T) {
	tests := []struct {
		name   string
		device string
		opts   []sim.TargetOption
		want   nrf.ReadbackProtection
	}{
		{name: "nrf52 open", device: "NRF52840", want: nrf.ProtectionNone},
		{name: "nrf52 all", device: "NRF52840",
			opts: []sim.TargetOption{sim.WithProtection(nrf.ProtectionAll)}, want: nrf.ProtectionAll},
		{name: "nrf53 secure", device: "NRF5340",
			opts: []sim.TargetOption{sim.WithProtection(nrf.ProtectionSecure)}, want: nrf.ProtectionSecure},
		{name: "nrf51 region0", device: "NRF51802",
			opts: []sim.TargetOption{sim.WithProtection(nrf.ProtectionRegion0)}, want: nrf.ProtectionRegion0},
		{name: "nrf51 all", device: "NRF51802",
			opts: []sim.TargetOption{sim.WithProtection(nrf.ProtectionAll)}, want: nrf.ProtectionAll},
		{name: "nrf51 both", device: "NRF51802",
			opts: []sim.TargetOption{sim.WithProtection(nrf.ProtectionBoth)}, want: nrf.ProtectionBoth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl, _, _ := openController(t, tt.device, tt.opts...)
			got, err := ctl.ReadbackStatus()
			if err != nil {
				t.Fatalf("ReadbackStatus error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadbackStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProtectRejectsForeignLevels(t *testing.T) {
	tests := []struct {
		device string
		level  nrf.ReadbackProtection
	}{
		{device: "NRF52840", level: nrf.ProtectionRegion0},
		{device: "NRF52840", level: nrf.ProtectionSecure},
		{device: "NRF9160", level: nrf.ProtectionBoth},
		{device: "NRF51802", level: nrf.ProtectionSecure},
		{device: "NRF5340", level: nrf.ProtectionNone},
	}
	for _, tt := range tests {
		t.Run(tt.device+"_"+tt.level.String(), func(t *testing.T) {
			ctl, _, _ := openController(t, tt.device)
			if err := ctl.Protect(tt.level); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
				t.Errorf("Protect(%s) error = %v, want INVALID_PARAMETER", tt.level, err)
			}
		})
	}
}

func TestProtectAndRecoverNRF52(t *testing.T) {
	ctl, ctx, tgt := openController(t, "NRF52840")

	if err := ctl.Protect(nrf.ProtectionAll); err != nil {
		t.Fatalf("Protect(ALL) error = %v", err)
	}
	if got, _ := ctl.ReadbackStatus(); got != nrf.ProtectionAll {
		t.Fatalf("ReadbackStatus after protect = %s, want ALL", got)
	}
	// The latched protection kills the memory access port.
	if _, err := ctx.ReadU32(0); !nrf.IsProtectionError(err) {
		t.Fatalf("flash read under protection error = %v, want protection error", err)
	}

	if err := ctl.Recover(); err != nil {
		t.Fatalf("Recover error = %v", err)
	}
	if got, _ := ctl.ReadbackStatus(); got != nrf.ProtectionNone {
		t.Errorf("ReadbackStatus after recover = %s, want NONE", got)
	}
	if v, err := ctx.ReadU32(0); err != nil || v != 0xFFFFFFFF {
		t.Errorf("flash word after recover = %#08x, %v, want erased", v, err)
	}
	if v, err := ctx.ReadU32(ctx.Layout().ResetReas); err != nil || v != 0 {
		t.Errorf("RESETREAS after recover = %#08x, %v, want 0", v, err)
	}
	uicr := tgt.UICRBytes(nrf.CPApplication)
	for i, b := range uicr {
		if b != 0xFF {
			t.Fatalf("UICR byte %#x = %#02x after recover, want erased", i, b)
		}
	}
}

func TestRecoverBlockedBySecureProtection(t *testing.T) {
	ctl, _, _ := openController(t, "NRF9160")

	if err := ctl.Protect(nrf.ProtectionSecure); err != nil {
		t.Fatalf("Protect(SECURE) error = %v", err)
	}
	if err := ctl.Recover(); nrf.CodeOf(err) != nrf.CodeRecoverFailed {
		t.Fatalf("Recover under secure protection error = %v, want RECOVER_FAILED", err)
	}
	if got, _ := ctl.ReadbackStatus(); got != nrf.ProtectionSecure {
		t.Errorf("ReadbackStatus = %s, want SECURE to survive the failed recover", got)
	}
}

func TestProtectRegion0NRF51(t *testing.T) {
	ctl, ctx, _ := openController(t, "NRF51802")
	regs := ctx.Layout()

	// Configure the region length the way a caller would, straight through
	// the UICR, then raise the protection.
	if err := ctx.WriteU32(regs.NVMC+catalog.NVMCConfig, catalog.NVMCConfigWen); err != nil {
		t.Fatalf("NVMC config error = %v", err)
	}
	if err := ctx.WriteU32(regs.UICR+catalog.UICRCLenR0, 0x4000); err != nil {
		t.Fatalf("CLENR0 write error = %v", err)
	}
	if err := ctx.WriteU32(regs.NVMC+catalog.NVMCConfig, catalog.NVMCConfigRen); err != nil {
		t.Fatalf("NVMC config error = %v", err)
	}
	if err := ctl.Protect(nrf.ProtectionRegion0); err != nil {
		t.Fatalf("Protect(REGION_0) error = %v", err)
	}

	if got, _ := ctl.ReadbackStatus(); got != nrf.ProtectionRegion0 {
		t.Fatalf("ReadbackStatus = %s, want REGION_0", got)
	}
	size, source, err := ctl.ReadRegion0SizeAndSource()
	if err != nil {
		t.Fatalf("ReadRegion0SizeAndSource error = %v", err)
	}
	if size != 0x4000 || source != nrf.Region0User {
		t.Errorf("region 0 = %#x from %s, want 0x4000 from USER", size, source)
	}

	// Region 0 is closed, the rest of the flash stays readable.
	if _, err := ctx.ReadU32(0); !nrf.IsProtectionError(err) {
		t.Errorf("region 0 read error = %v, want protection error", err)
	}
	if _, err := ctx.ReadU32(0x4000); err != nil {
		t.Errorf("region 1 read error = %v, want success", err)
	}
	if _, err := ctx.ReadU32(regs.RAMBase); !nrf.IsProtectionError(err) {
		t.Errorf("RAM read error = %v, want protection error", err)
	}

	if err := ctl.Recover(); err != nil {
		t.Fatalf("Recover error = %v", err)
	}
	if got, _ := ctl.ReadbackStatus(); got != nrf.ProtectionNone {
		t.Errorf("ReadbackStatus after recover = %s, want NONE", got)
	}
	if _, source, _ := ctl.ReadRegion0SizeAndSource(); source != nrf.NoRegion0 {
		t.Errorf("region 0 source after recover = %s, want none", source)
	}
	if v, err := ctx.ReadU32(regs.ResetReas); err != nil || v != 0 {
		t.Errorf("RESETREAS after recover = %#08x, %v, want 0", v, err)
	}
}

func TestRegion0FactoryPreset(t *testing.T) {
	ctl, _, _ := openController(t, "NRF51802", sim.WithFactoryRegion0(0x18000))
	size, source, err := ctl.ReadRegion0SizeAndSource()
	if err != nil {
		t.Fatalf("ReadRegion0SizeAndSource error = %v", err)
	}
	if size != 0x18000 || source != nrf.Region0Factory {
		t.Errorf("region 0 = %#x from %s, want 0x18000 from FACTORY", size, source)
	}
}

func TestRegion0NeedsNRF51(t *testing.T) {
	ctl, _, _ := openController(t, "NRF52840")
	if _, _, err := ctl.ReadRegion0SizeAndSource(); nrf.CodeOf(err) != nrf.CodeInvalidDeviceForOperation {
		t.Errorf("ReadRegion0SizeAndSource error = %v, want INVALID_DEVICE_FOR_OPERATION", err)
	}
}

func TestEraseProtectLifecycle(t *testing.T) {
	ctl, _, _ := openController(t, "NRF5340")

	on, err := ctl.IsEraseProtectEnabled()
	if err != nil {
		t.Fatalf("IsEraseProtectEnabled error = %v", err)
	}
	if on {
		t.Fatal("erase protection enabled on a fresh device")
	}
	if err := ctl.EnableEraseProtect(); err != nil {
		t.Fatalf("EnableEraseProtect error = %v", err)
	}
	if on, _ = ctl.IsEraseProtectEnabled(); !on {
		t.Fatal("IsEraseProtectEnabled = false after enable")
	}

	// Recover owns the way back: it strobes the disable register before
	// the erase.
	if err := ctl.Recover(); err != nil {
		t.Fatalf("Recover error = %v", err)
	}
	if on, _ = ctl.IsEraseProtectEnabled(); on {
		t.Error("erase protection survived recover")
	}
}

func TestEraseProtectNotImplemented(t *testing.T) {
	for _, name := range []string{"NRF52840", "NRF51802"} {
		t.Run(name, func(t *testing.T) {
			ctl, _, _ := openController(t, name)
			if _, err := ctl.IsEraseProtectEnabled(); nrf.CodeOf(err) != nrf.CodeNotImplemented {
				t.Errorf("IsEraseProtectEnabled error = %v, want NOT_IMPLEMENTED", err)
			}
			if err := ctl.EnableEraseProtect(); nrf.CodeOf(err) != nrf.CodeNotImplemented {
				t.Errorf("EnableEraseProtect error = %v, want NOT_IMPLEMENTED", err)
			}
		})
	}
}

func TestBprotLatchAndDisable(t *testing.T) {
	ctl, ctx, _ := openController(t, "NRF52832")
	regs := ctx.Layout()

	on, err := ctl.IsBprotEnabled(0, 0x1000)
	if err != nil {
		t.Fatalf("IsBprotEnabled error = %v", err)
	}
	if on {
		t.Fatal("block protection reported on a fresh device")
	}

	// Latch protection over the first flash block, the way firmware
	// protects its own code.
	if err := ctx.WriteU32(regs.BPROTConfigBase, 1); err != nil {
		t.Fatalf("BPROT config write error = %v", err)
	}
	if on, _ = ctl.IsBprotEnabled(0, 16); !on {
		t.Error("IsBprotEnabled(0, 16) = false over a latched block")
	}
	if on, _ = ctl.IsBprotEnabled(0x0FFC, 8); !on {
		t.Error("IsBprotEnabled straddling the block edge = false")
	}
	if on, _ = ctl.IsBprotEnabled(0x1000, 16); on {
		t.Error("IsBprotEnabled(0x1000, 16) = true outside the latched block")
	}
	if on, _ = ctl.IsBprotEnabled(regs.RAMBase, 16); on {
		t.Error("IsBprotEnabled reported protection outside code flash")
	}

	if err := ctl.DisableBprot(); err != nil {
		t.Fatalf("DisableBprot error = %v", err)
	}
	if on, _ = ctl.IsBprotEnabled(0, 16); on {
		t.Error("block protection survived DisableBprot")
	}
	// The disable sequence parks the core so firmware cannot relatch.
	if halted, _ := ctx.IsHalted(); !halted {
		t.Error("core running after DisableBprot")
	}
}

func TestACLCoverage(t *testing.T) {
	ctl, ctx, _ := openController(t, "NRF52840")
	regs := ctx.Layout()

	// One ACL entry write-blocking 8 KiB at 0x10000.
	if err := ctx.WriteU32(regs.ACLBase+0, 0x10000); err != nil {
		t.Fatalf("ACL addr write error = %v", err)
	}
	if err := ctx.WriteU32(regs.ACLBase+4, 0x2000); err != nil {
		t.Fatalf("ACL size write error = %v", err)
	}
	if err := ctx.WriteU32(regs.ACLBase+8, catalog.ACLPermWriteBlock); err != nil {
		t.Fatalf("ACL perm write error = %v", err)
	}

	if on, _ := ctl.IsBprotEnabled(0x11000, 4); !on {
		t.Error("IsBprotEnabled inside ACL range = false")
	}
	if on, _ := ctl.IsBprotEnabled(0xF000, 0x1000); on {
		t.Error("IsBprotEnabled ending at ACL start = true")
	}
	if on, _ := ctl.IsBprotEnabled(0x12000, 4); on {
		t.Error("IsBprotEnabled past ACL end = true")
	}

	if err := ctl.DisableBprot(); err != nil {
		t.Fatalf("DisableBprot error = %v", err)
	}
	if on, _ := ctl.IsBprotEnabled(0x11000, 4); on {
		t.Error("ACL protection survived DisableBprot")
	}
}

func TestSPUCoverage(t *testing.T) {
	ctl, ctx, _ := openController(t, "NRF5340")
	regs := ctx.Layout()

	// Drop the write permission of flash region 1.
	permAddr := regs.SPUBase + catalog.SPUFlashRegion0 + 4
	if err := ctx.WriteU32(permAddr, catalog.SPUPermDefault&^catalog.SPUPermWrite); err != nil {
		t.Fatalf("SPU perm write error = %v", err)
	}

	if on, _ := ctl.IsBprotEnabled(regs.SPURegionSize, 4); !on {
		t.Error("IsBprotEnabled in locked SPU region = false")
	}
	if on, _ := ctl.IsBprotEnabled(0, 4); on {
		t.Error("IsBprotEnabled in open SPU region = true")
	}

	if err := ctl.DisableBprot(); err != nil {
		t.Fatalf("DisableBprot error = %v", err)
	}
	if on, _ := ctl.IsBprotEnabled(regs.SPURegionSize, 4); on {
		t.Error("SPU lock survived DisableBprot")
	}
	// SPU permissions are plain registers; no reset was needed.
	if v, err := ctx.ReadU32(regs.ResetReas); err != nil || v != 0 {
		t.Errorf("RESETREAS = %#08x, %v, want 0 without a reset", v, err)
	}
}

func TestBprotAbsentOnNRF51(t *testing.T) {
	ctl, ctx, _ := openController(t, "NRF51802")
	if on, err := ctl.IsBprotEnabled(0, 0x1000); err != nil || on {
		t.Errorf("IsBprotEnabled = %v, %v, want false on nRF51", on, err)
	}
	if err := ctl.DisableBprot(); err != nil {
		t.Errorf("DisableBprot error = %v, want nil no-op", err)
	}
	if halted, _ := ctx.IsHalted(); halted {
		t.Error("DisableBprot halted the core with nothing to disable")
	}
}
