package session

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/transport"
	"github.com/nrfprobe/nrfprobe/internal/transport/sim"
)

const testSerial uint32 = 683000001

func newRig(t *testing.T, name string, opts ...sim.TargetOption) (*sim.Driver, *sim.Probe, *sim.Target) {
	t.Helper()
	tgt, err := sim.NewTarget(name, opts...)
	if err != nil {
		t.Fatalf("NewTarget(%q) error = %v", name, err)
	}
	drv := sim.NewDriver()
	p := drv.AddProbe(testSerial, tgt)
	return drv, p, tgt
}

func openSession(t *testing.T, drv *sim.Driver, opts ...Option) *Session {
	t.Helper()
	s, err := New(drv, opts...)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// connected returns a session already attached to the device.
func connected(t *testing.T, drv *sim.Driver, opts ...Option) *Session {
	t.Helper()
	s := openSession(t, drv, opts...)
	if err := s.Connect(context.Background(), testSerial); err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	if err := s.ConnectToDevice(); err != nil {
		t.Fatalf("ConnectToDevice error = %v", err)
	}
	return s
}

func TestVersionGate(t *testing.T) {
	drv := sim.NewDriver(sim.WithLibraryVersion(transport.Version{Major: 7, Minor: 40}))
	if _, err := New(drv); nrf.CodeOf(err) != nrf.CodeProbeLibTooOld {
		t.Fatalf("New with old library error = %v, want JLINKARM_DLL_TOO_OLD", err)
	}
}

func TestConnectAnyResolution(t *testing.T) {
	t.Run("no probes", func(t *testing.T) {
		s := openSession(t, sim.NewDriver())
		if err := s.Connect(context.Background(), 0); nrf.CodeOf(err) != nrf.CodeNoEmulatorConnected {
			t.Errorf("Connect(any) error = %v, want NO_EMULATOR_CONNECTED", err)
		}
	})
	t.Run("one probe", func(t *testing.T) {
		drv, _, _ := newRig(t, "NRF52840")
		s := openSession(t, drv)
		if err := s.Connect(context.Background(), 0); err != nil {
			t.Fatalf("Connect(any) error = %v", err)
		}
		serial, err := s.Serial()
		if err != nil || serial != testSerial {
			t.Errorf("Serial = (%d, %v), want (%d, nil)", serial, err, testSerial)
		}
	})
	t.Run("two probes", func(t *testing.T) {
		drv, _, _ := newRig(t, "NRF52840")
		tgt2, err := sim.NewTarget("NRF51822")
		if err != nil {
			t.Fatalf("NewTarget error = %v", err)
		}
		drv.AddProbe(683000002, tgt2)
		s := openSession(t, drv)
		err = s.Connect(context.Background(), 0)
		if nrf.CodeOf(err) != nrf.CodeNoEmulatorConnected {
			t.Errorf("Connect(any) error = %v, want NO_EMULATOR_CONNECTED", err)
		}
		if !errors.Is(err, ErrAmbiguousProbe) {
			t.Errorf("Connect(any) error = %v, want ErrAmbiguousProbe detail", err)
		}
	})
}

func TestOrderingViolations(t *testing.T) {
	drv, _, _ := newRig(t, "NRF52840")
	s := openSession(t, drv)

	probeOps := []struct {
		name string
		call func() error
	}{
		{"firmware_string", func() error { _, err := s.FirmwareString(); return err }},
		{"set_clock", func() error { _, err := s.SetClockKHz(4000); return err }},
		{"target_voltage", func() error { _, err := s.TargetVoltageMV(); return err }},
		{"connect_to_device", s.ConnectToDevice},
		{"select_coprocessor", func() error { return s.SelectCoprocessor(nrf.CPNetwork) }},
	}
	for _, op := range probeOps {
		if err := op.call(); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
			t.Errorf("%s before Connect: error = %v, want INVALID_OPERATION", op.name, err)
		}
	}

	if err := s.Connect(context.Background(), testSerial); err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	deviceOps := []struct {
		name string
		call func() error
	}{
		{"read", func() error { return s.Read(0, make([]byte, 4)) }},
		{"write_u32", func() error { return s.WriteU32(0x1000, 1) }},
		{"erase_page", func() error { return s.ErasePage(0) }},
		{"erase_all", s.EraseAll},
		{"program", func() error { return s.Program(firmware.NewImage(), nrf.DefaultProgramOptions()) }},
		{"readback_status", func() error { _, err := s.ReadbackStatus(); return err }},
		{"recover", s.Recover},
		{"ram_sections", func() error { _, err := s.RAMSectionCount(); return err }},
		{"power_ram_all", s.PowerRAMAll},
		{"qspi_init", func() error { return s.QSPIInit(false, nrf.DefaultQSPIInitParams()) }},
		{"rtt_start", s.RTTStart},
		{"rtt_read", func() error { _, err := s.RTTRead(0, make([]byte, 4)); return err }},
		{"enable_coprocessor", func() error { return s.EnableCoprocessor(nrf.CPNetwork) }},
		{"halt", s.Halt},
		{"reset", func() error { return s.Reset(nrf.ResetSystem) }},
		{"device_info", func() error { _, err := s.ReadDeviceInfo(); return err }},
	}
	for _, op := range deviceOps {
		if err := op.call(); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
			t.Errorf("%s before ConnectToDevice: error = %v, want INVALID_OPERATION", op.name, err)
		}
	}
}

func TestConnectLifecycle(t *testing.T) {
	drv, _, _ := newRig(t, "NRF52840")
	s := openSession(t, drv)
	ctx := context.Background()

	if s.IsConnectedToEmulator() || s.IsConnectedToDevice() {
		t.Fatal("fresh session reports a connection")
	}
	if err := s.Connect(ctx, testSerial); err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	if err := s.Connect(ctx, testSerial); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Errorf("double Connect error = %v, want INVALID_OPERATION", err)
	}
	if err := s.ConnectToDevice(); err != nil {
		t.Fatalf("ConnectToDevice error = %v", err)
	}
	if err := s.ConnectToDevice(); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Errorf("double ConnectToDevice error = %v, want INVALID_OPERATION", err)
	}
	if !s.IsConnectedToEmulator() || !s.IsConnectedToDevice() {
		t.Fatal("connected session reports no connection")
	}
	if got := s.Family(); got != nrf.FamilyNRF52 {
		t.Errorf("Family() = %v, want NRF52", got)
	}
	info, err := s.ReadDeviceInfo()
	if err != nil {
		t.Fatalf("ReadDeviceInfo error = %v", err)
	}
	if info.CodeSize == 0 {
		t.Error("ReadDeviceInfo returned zero code size")
	}

	// Disconnect tears down the device connection too, and is idempotent.
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect error = %v", err)
	}
	if s.IsConnectedToEmulator() || s.IsConnectedToDevice() {
		t.Fatal("disconnected session still reports a connection")
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("second Disconnect error = %v, want nil", err)
	}

	// The session is reusable until Close.
	if err := s.Connect(ctx, testSerial); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close error = %v, want nil", err)
	}
	if err := s.Connect(ctx, testSerial); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Errorf("Connect after Close error = %v, want INVALID_OPERATION", err)
	}
}

func TestFamilyPinning(t *testing.T) {
	t.Run("wrong family refused", func(t *testing.T) {
		drv, _, _ := newRig(t, "NRF52840")
		s := openSession(t, drv, WithFamily(nrf.FamilyNRF51))
		if err := s.Connect(context.Background(), testSerial); err != nil {
			t.Fatalf("Connect error = %v", err)
		}
		if err := s.ConnectToDevice(); nrf.CodeOf(err) != nrf.CodeWrongFamilyForDevice {
			t.Errorf("ConnectToDevice error = %v, want WRONG_FAMILY_FOR_DEVICE", err)
		}
	})
	t.Run("auto pins on identify", func(t *testing.T) {
		drv, _, _ := newRig(t, "NRF52840")
		s := connected(t, drv)
		if got := s.Family(); got != nrf.FamilyNRF52 {
			t.Fatalf("Family() = %v, want NRF52", got)
		}
		if err := s.DisconnectFromDevice(); err != nil {
			t.Fatalf("DisconnectFromDevice error = %v", err)
		}
		// The identified family survives the device disconnect.
		if got := s.Family(); got != nrf.FamilyNRF52 {
			t.Errorf("Family() after disconnect = %v, want NRF52", got)
		}
		if err := s.ConnectToDevice(); err != nil {
			t.Fatalf("reconnect error = %v", err)
		}
	})
}

func TestEraseWriteReadRoundTrip(t *testing.T) {
	drv, _, _ := newRig(t, "NRF52840")
	s := connected(t, drv)

	if err := s.EraseAll(); err != nil {
		t.Fatalf("EraseAll error = %v", err)
	}
	if err := s.Write(0x1000, []byte{0xAA, 0xAA, 0xAA, 0xAA}); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	got := make([]byte, 4)
	if err := s.Read(0x1000, got); err != nil {
		t.Fatalf("Read error = %v", err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xAA, 0xAA, 0xAA}) {
		t.Fatalf("Read = % 02x, want AA AA AA AA", got)
	}

	// A second write to the same words is a physical impossibility on
	// erased-to-one flash and must be refused.
	if err := s.Write(0x1000, []byte{1, 2, 3, 4}); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Errorf("overwrite error = %v, want INVALID_OPERATION", err)
	}
}

func TestClockHandling(t *testing.T) {
	drv, p, _ := newRig(t, "NRF52840")
	p.SetMaxClockKHz(4000)

	s := openSession(t, drv, WithClockKHz(8000))
	if err := s.Connect(context.Background(), testSerial); err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	// The probe cannot do 8 MHz; the request degrades, never fails.
	if khz, err := s.ClockKHz(); err != nil || khz != 4000 {
		t.Errorf("ClockKHz = (%d, %v), want (4000, nil)", khz, err)
	}

	tests := []struct {
		request uint32
		want    uint32
	}{
		{50000, 4000}, // above probe max
		{1, 125},      // below the floor, clamps up
		{2000, 2000},  // in range and supported
	}
	for _, tt := range tests {
		got, err := s.SetClockKHz(tt.request)
		if err != nil {
			t.Fatalf("SetClockKHz(%d) error = %v", tt.request, err)
		}
		if got != tt.want {
			t.Errorf("SetClockKHz(%d) = %d, want %d", tt.request, got, tt.want)
		}
	}
}

func TestLowVoltageRefusesDeviceConnect(t *testing.T) {
	drv, p, _ := newRig(t, "NRF52840")
	p.SetVoltageMV(1200)
	s := openSession(t, drv)
	if err := s.Connect(context.Background(), testSerial); err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	if err := s.ConnectToDevice(); nrf.CodeOf(err) != nrf.CodeLowVoltage {
		t.Errorf("ConnectToDevice error = %v, want LOW_VOLTAGE", err)
	}
}

func TestSelectCoprocessor(t *testing.T) {
	t.Run("held off peer refused", func(t *testing.T) {
		drv, _, _ := newRig(t, "NRF5340")
		s := openSession(t, drv)
		if err := s.Connect(context.Background(), testSerial); err != nil {
			t.Fatalf("Connect error = %v", err)
		}
		err := s.SelectCoprocessor(nrf.CPNetwork)
		if nrf.CodeOf(err) != nrf.CodeNotAvailableBecauseCoprocessorDisabled {
			t.Errorf("SelectCoprocessor error = %v, want COPROCESSOR_DISABLED", err)
		}
	})

	t.Run("enabled peer connects", func(t *testing.T) {
		drv, _, _ := newRig(t, "NRF5340")
		s := connected(t, drv)

		if err := s.EnableCoprocessor(nrf.CPNetwork); err != nil {
			t.Fatalf("EnableCoprocessor error = %v", err)
		}
		if err := s.SelectCoprocessor(nrf.CPNetwork); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
			t.Fatalf("SelectCoprocessor while connected error = %v, want INVALID_OPERATION", err)
		}
		if err := s.DisconnectFromDevice(); err != nil {
			t.Fatalf("DisconnectFromDevice error = %v", err)
		}
		if err := s.SelectCoprocessor(nrf.CPNetwork); err != nil {
			t.Fatalf("SelectCoprocessor error = %v", err)
		}
		if err := s.ConnectToDevice(); err != nil {
			t.Fatalf("network core ConnectToDevice error = %v", err)
		}
		info, err := s.ReadDeviceInfo()
		if err != nil {
			t.Fatalf("ReadDeviceInfo error = %v", err)
		}
		if _, err := s.ReadU32(info.CodeAddress); err != nil {
			t.Errorf("network core read error = %v", err)
		}
	})

	t.Run("modem is not debuggable", func(t *testing.T) {
		drv, _, _ := newRig(t, "NRF9160")
		s := openSession(t, drv)
		if err := s.Connect(context.Background(), testSerial); err != nil {
			t.Fatalf("Connect error = %v", err)
		}
		if err := s.SelectCoprocessor(nrf.CPModem); nrf.CodeOf(err) != nrf.CodeInvalidDeviceForOperation {
			t.Errorf("SelectCoprocessor(MODEM) error = %v, want INVALID_DEVICE_FOR_OPERATION", err)
		}
	})

	t.Run("single core family", func(t *testing.T) {
		drv, _, _ := newRig(t, "NRF52840")
		s := openSession(t, drv)
		if err := s.Connect(context.Background(), testSerial); err != nil {
			t.Fatalf("Connect error = %v", err)
		}
		if err := s.SelectCoprocessor(nrf.CPNetwork); nrf.CodeOf(err) != nrf.CodeInvalidDeviceForOperation {
			t.Errorf("SelectCoprocessor(NETWORK) error = %v, want INVALID_DEVICE_FOR_OPERATION", err)
		}
	})

	t.Run("protected application defers", func(t *testing.T) {
		drv, _, _ := newRig(t, "NRF5340", sim.WithProtection(nrf.ProtectionAll))
		s := openSession(t, drv)
		if err := s.Connect(context.Background(), testSerial); err != nil {
			t.Fatalf("Connect error = %v", err)
		}
		// The power state cannot be checked through a protected
		// application core; selection is nominally accepted and the
		// failure surfaces on use.
		if err := s.SelectCoprocessor(nrf.CPNetwork); err != nil {
			t.Fatalf("SelectCoprocessor under protection error = %v, want deferred nil", err)
		}
		if err := s.ConnectToDevice(); err != nil {
			t.Fatalf("ConnectToDevice error = %v", err)
		}
		if _, err := s.ReadU32(0x01000000); err == nil {
			t.Error("read from held-off core succeeded, want error")
		}
	})
}

func TestProgressPhases(t *testing.T) {
	drv, _, _ := newRig(t, "NRF52840")
	var phases []string
	s := openSession(t, drv, WithProgress(func(p string) { phases = append(phases, p) }))
	if err := s.Connect(context.Background(), testSerial); err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	if err := s.ConnectToDevice(); err != nil {
		t.Fatalf("ConnectToDevice error = %v", err)
	}

	img := firmware.NewImage()
	if err := img.Add(0x0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	if err := s.Program(img, nrf.DefaultProgramOptions()); err != nil {
		t.Fatalf("Program error = %v", err)
	}

	want := map[string]bool{
		"Connecting to device": false,
		"Erasing":              false,
		"Programming":          false,
	}
	for _, p := range phases {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, seen := range want {
		if !seen {
			t.Errorf("progress phase %q not reported (got %v)", p, phases)
		}
	}
}

func TestRTTThroughFacade(t *testing.T) {
	drv, _, tgt := newRig(t, "NRF52840")
	s := connected(t, drv)

	if _, err := tgt.InstallRTT(nrf.CPApplication, 0x1000,
		[]sim.RTTBuffer{{Name: "Terminal", Size: 64}},
		[]sim.RTTBuffer{{Name: "Terminal", Size: 64}}); err != nil {
		t.Fatalf("InstallRTT error = %v", err)
	}
	if err := s.RTTStart(); err != nil {
		t.Fatalf("RTTStart error = %v", err)
	}
	found := false
	for i := 0; i < 40 && !found; i++ {
		var err error
		found, err = s.RTTIsControlBlockFound()
		if err != nil {
			t.Fatalf("RTTIsControlBlockFound error = %v", err)
		}
	}
	if !found {
		t.Fatal("control block not found")
	}

	up, down, err := s.RTTChannelCount()
	if err != nil || up != 1 || down != 1 {
		t.Fatalf("RTTChannelCount = (%d, %d, %v), want (1, 1, nil)", up, down, err)
	}
	ch, err := s.RTTChannel(nrf.RTTUp, 0)
	if err != nil || ch.Name != "Terminal" {
		t.Fatalf("RTTChannel = (%+v, %v)", ch, err)
	}

	if _, err := tgt.RTTTargetWrite(nrf.CPApplication, 0, []byte("boot ok")); err != nil {
		t.Fatalf("RTTTargetWrite error = %v", err)
	}
	buf := make([]byte, 32)
	n, err := s.RTTRead(0, buf)
	if err != nil || string(buf[:n]) != "boot ok" {
		t.Fatalf("RTTRead = (%q, %v)", buf[:n], err)
	}
	if n, err := s.RTTWrite(0, []byte("ack")); err != nil || n != 3 {
		t.Fatalf("RTTWrite = (%d, %v), want (3, nil)", n, err)
	}
	got, err := tgt.RTTTargetRead(nrf.CPApplication, 0, 16)
	if err != nil || string(got) != "ack" {
		t.Fatalf("RTTTargetRead = (%q, %v)", got, err)
	}

	// Stop is part of teardown and stopping again stays a no-op.
	if err := s.RTTStop(); err != nil {
		t.Fatalf("RTTStop error = %v", err)
	}
	if err := s.RTTStop(); err != nil {
		t.Errorf("second RTTStop error = %v, want nil", err)
	}
}

func TestControlBlockHintOption(t *testing.T) {
	drv, _, tgt := newRig(t, "NRF52840")
	base, err := tgt.InstallRTT(nrf.CPApplication, 0x8000,
		[]sim.RTTBuffer{{Name: "Log", Size: 32}}, nil)
	if err != nil {
		t.Fatalf("InstallRTT error = %v", err)
	}
	s := connected(t, drv, WithControlBlockHint(base))
	if err := s.RTTStart(); err != nil {
		t.Fatalf("RTTStart error = %v", err)
	}
	found, err := s.RTTIsControlBlockFound()
	if err != nil {
		t.Fatalf("RTTIsControlBlockFound error = %v", err)
	}
	if !found {
		t.Fatal("hinted control block not found on first poll")
	}
}

func TestDeviceTeardownResetsEngines(t *testing.T) {
	drv, _, _ := newRig(t, "NRF52840", sim.WithExternalFlash(256))
	s := connected(t, drv)

	if err := s.QSPIInit(false, nrf.DefaultQSPIInitParams()); err != nil {
		t.Fatalf("QSPIInit error = %v", err)
	}
	if err := s.DisconnectFromDevice(); err != nil {
		t.Fatalf("DisconnectFromDevice error = %v", err)
	}
	if err := s.DisconnectFromDevice(); err != nil {
		t.Errorf("second DisconnectFromDevice error = %v, want nil", err)
	}
	if err := s.ConnectToDevice(); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	// The new engine set starts clean: QSPI must be initialized again.
	if err := s.QSPIRead(0, make([]byte, 4)); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Errorf("QSPIRead after reconnect error = %v, want INVALID_OPERATION", err)
	}
	if err := s.QSPIInit(false, nrf.DefaultQSPIInitParams()); err != nil {
		t.Fatalf("QSPIInit after reconnect error = %v", err)
	}
}

func TestProtectionMonotonicity(t *testing.T) {
	drv, _, _ := newRig(t, "NRF52840")
	s := connected(t, drv)

	if err := s.Protect(nrf.ProtectionAll); err != nil {
		t.Fatalf("Protect error = %v", err)
	}
	status, err := s.ReadbackStatus()
	if err != nil {
		t.Fatalf("ReadbackStatus error = %v", err)
	}
	if status != nrf.ProtectionAll {
		t.Fatalf("ReadbackStatus = %v, want ALL", status)
	}
	if err := s.Read(0, make([]byte, 4)); !nrf.IsProtectionError(err) {
		t.Fatalf("Read under protection error = %v, want protection error", err)
	}

	if err := s.Recover(); err != nil {
		t.Fatalf("Recover error = %v", err)
	}
	if err := s.Read(0, make([]byte, 4)); err != nil {
		t.Errorf("Read after recover error = %v", err)
	}
}
