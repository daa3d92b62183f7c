package coproc

import (
	"context"
	"testing"

	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
	"github.com/nrfprobe/nrfprobe/internal/transport/sim"
)

func openApp(t *testing.T, name string, opts ...sim.TargetOption) (*Controller, *probe.Connection) {
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
	return New(ctx), pc
}

func TestNetworkCoreLifecycle(t *testing.T) {
	ctl, pc := openApp(t, "NRF5340")

	on, err := ctl.IsEnabled(nrf.CPNetwork)
	if err != nil {
		t.Fatalf("IsEnabled error = %v", err)
	}
	if on {
		t.Fatal("network core enabled at power-on, expected force-off")
	}

	if err := ctl.Enable(nrf.CPNetwork); err != nil {
		t.Fatalf("Enable error = %v", err)
	}
	if on, _ = ctl.IsEnabled(nrf.CPNetwork); !on {
		t.Fatal("IsEnabled = false after Enable")
	}

	// The released core answers on its own access port.
	net, err := device.Connect(pc, nrf.FamilyNRF53, nrf.CPNetwork)
	if err != nil {
		t.Fatalf("network core Connect error = %v", err)
	}
	defer net.Disconnect()
	if _, err := net.ReadU32(net.Layout().CodeBase); err != nil {
		t.Errorf("network core read error = %v", err)
	}

	if err := ctl.Disable(nrf.CPNetwork); err != nil {
		t.Fatalf("Disable error = %v", err)
	}
	if _, err := net.ReadU32(net.Layout().CodeBase); nrf.CodeOf(err) != nrf.CodeNotAvailableBecauseCoprocessorDisabled {
		t.Errorf("read from held-off core error = %v, want COPROCESSOR_DISABLED", err)
	}
}

func TestModemPowerToggle(t *testing.T) {
	ctl, _ := openApp(t, "NRF9160")

	if on, err := ctl.IsEnabled(nrf.CPModem); err != nil || on {
		t.Fatalf("IsEnabled = %v, %v at power-on, want false", on, err)
	}
	if err := ctl.Enable(nrf.CPModem); err != nil {
		t.Fatalf("Enable error = %v", err)
	}
	if on, _ := ctl.IsEnabled(nrf.CPModem); !on {
		t.Error("IsEnabled = false after Enable")
	}
	if err := ctl.Disable(nrf.CPModem); err != nil {
		t.Fatalf("Disable error = %v", err)
	}
	if on, _ := ctl.IsEnabled(nrf.CPModem); on {
		t.Error("IsEnabled = true after Disable")
	}
}

func TestCoreSelectionErrors(t *testing.T) {
	t.Run("single core family", func(t *testing.T) {
		ctl, _ := openApp(t, "NRF52840")
		if err := ctl.Enable(nrf.CPNetwork); nrf.CodeOf(err) != nrf.CodeInvalidDeviceForOperation {
			t.Errorf("Enable(NETWORK) on nRF52 error = %v, want INVALID_DEVICE_FOR_OPERATION", err)
		}
	})
	t.Run("wrong peer", func(t *testing.T) {
		ctl, _ := openApp(t, "NRF5340")
		if err := ctl.Enable(nrf.CPModem); nrf.CodeOf(err) != nrf.CodeInvalidDeviceForOperation {
			t.Errorf("Enable(MODEM) on nRF53 error = %v, want INVALID_DEVICE_FOR_OPERATION", err)
		}
	})
	t.Run("application core", func(t *testing.T) {
		ctl, _ := openApp(t, "NRF5340")
		if err := ctl.Enable(nrf.CPApplication); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
			t.Errorf("Enable(APPLICATION) error = %v, want INVALID_PARAMETER", err)
		}
	})
	t.Run("from network core", func(t *testing.T) {
		ctl, pc := openApp(t, "NRF5340")
		if err := ctl.Enable(nrf.CPNetwork); err != nil {
			t.Fatalf("Enable error = %v", err)
		}
		net, err := device.Connect(pc, nrf.FamilyNRF53, nrf.CPNetwork)
		if err != nil {
			t.Fatalf("network core Connect error = %v", err)
		}
		defer net.Disconnect()
		if err := New(net).Enable(nrf.CPNetwork); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
			t.Errorf("Enable from network core error = %v, want INVALID_OPERATION", err)
		}
	})
}

func TestControlBehindProtection(t *testing.T) {
	ctl, _ := openApp(t, "NRF5340", sim.WithProtection(nrf.ProtectionAll))
	if err := ctl.Enable(nrf.CPNetwork); !nrf.IsProtectionError(err) {
		t.Errorf("Enable under protection error = %v, want protection error", err)
	}
	if _, err := ctl.IsEnabled(nrf.CPNetwork); !nrf.IsProtectionError(err) {
		t.Errorf("IsEnabled under protection error = %v, want protection error", err)
	}
}
