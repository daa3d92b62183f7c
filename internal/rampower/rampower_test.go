package rampower

import (
	"context"
	"testing"

	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
	"github.com/nrfprobe/nrfprobe/internal/transport/sim"
)

func openController(t *testing.T, name string) (*Controller, *device.Context) {
	t.Helper()
	tgt, err := sim.NewTarget(name)
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
	return New(ctx), ctx
}

func TestViewsAgree(t *testing.T) {
	tests := []struct {
		device   string
		sections uint32
		size     uint32
	}{
		{device: "NRF52840", sections: 8, size: 32 * 1024},
		{device: "NRF9160", sections: 8, size: 32 * 1024},
		{device: "NRF51802", sections: 2, size: 8 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			ctl, _ := openController(t, tt.device)
			count, err := ctl.Count()
			if err != nil {
				t.Fatalf("Count error = %v", err)
			}
			size, err := ctl.SectionSize()
			if err != nil {
				t.Fatalf("SectionSize error = %v", err)
			}
			if count != tt.sections || size != tt.size {
				t.Errorf("layout = %d sections of %d bytes, want %d of %d",
					count, size, tt.sections, tt.size)
			}
			states, aggCount, aggSize, err := ctl.IsRAMPowered()
			if err != nil {
				t.Fatalf("IsRAMPowered error = %v", err)
			}
			if aggCount != count || aggSize != size || uint32(len(states)) != count {
				t.Errorf("IsRAMPowered views disagree: %d states, count %d, size %d",
					len(states), aggCount, aggSize)
			}
			for i, s := range states {
				if s != nrf.RamOn {
					t.Errorf("section %d = %s at power-on, want ON", i, s)
				}
			}
		})
	}
}

func TestUnpowerGatesMemory(t *testing.T) {
	ctl, ctx := openController(t, "NRF52840")
	size, _ := ctl.SectionSize()

	if err := ctl.UnpowerSection(3); err != nil {
		t.Fatalf("UnpowerSection(3) error = %v", err)
	}
	states, err := ctl.Status()
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	for i, s := range states {
		want := nrf.RamOn
		if i == 3 {
			want = nrf.RamOff
		}
		if s != want {
			t.Errorf("section %d = %s, want %s", i, s, want)
		}
	}

	addr := ctx.Layout().RAMBase + 3*size
	if _, err := ctx.ReadU32(addr); nrf.CodeOf(err) != nrf.CodeRAMIsOff {
		t.Errorf("read in unpowered section error = %v, want RAM_IS_OFF_ERROR", err)
	}
	if _, err := ctx.ReadU32(addr - 4); err != nil {
		t.Errorf("read in neighbouring section error = %v", err)
	}

	if err := ctl.PowerAll(); err != nil {
		t.Fatalf("PowerAll error = %v", err)
	}
	if _, err := ctx.ReadU32(addr); err != nil {
		t.Errorf("read after PowerAll error = %v", err)
	}
}

func TestUnpowerSectionRange(t *testing.T) {
	ctl, _ := openController(t, "NRF52840")
	if err := ctl.UnpowerSection(8); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("UnpowerSection(8) error = %v, want INVALID_PARAMETER", err)
	}
}

func TestNRF51RamOnRegisters(t *testing.T) {
	ctl, ctx := openController(t, "NRF51802")

	if err := ctl.UnpowerSection(1); err != nil {
		t.Fatalf("UnpowerSection(1) error = %v", err)
	}
	states, err := ctl.Status()
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if states[0] != nrf.RamOn || states[1] != nrf.RamOff {
		t.Errorf("states = %v, want section 1 off", states)
	}
	// The RAMON register keeps the other section's bit.
	if v, err := ctx.ReadU32(ctx.Layout().RAMOnAddr); err != nil || v != 1 {
		t.Errorf("RAMON = %#x, %v, want 0x1", v, err)
	}
	if _, err := ctx.ReadU32(ctx.Layout().RAMBase + 0x2000); nrf.CodeOf(err) != nrf.CodeRAMIsOff {
		t.Errorf("read in unpowered section error = %v, want RAM_IS_OFF_ERROR", err)
	}

	if err := ctl.PowerAll(); err != nil {
		t.Fatalf("PowerAll error = %v", err)
	}
	if v, _ := ctx.ReadU32(ctx.Layout().RAMOnAddr); v != 3 {
		t.Errorf("RAMON after PowerAll = %#x, want 0x3", v)
	}
}
