package main

import (
	"testing"

	"github.com/nrfprobe/nrfprobe/internal/config"
	"github.com/nrfprobe/nrfprobe/internal/dfu"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
)

func TestResolvePort(t *testing.T) {
	defer func(old string) { flagPort = old }(flagPort)

	reg := config.NewRegistry()

	flagPort = "/dev/ttyACM3"
	got, err := resolvePort(reg)
	if err != nil || got != "/dev/ttyACM3" {
		t.Fatalf("resolvePort with flag = %q, %v", got, err)
	}

	flagPort = ""
	if _, err := resolvePort(reg); err == nil {
		t.Fatal("resolvePort with no port and no remembered port should fail")
	}

	reg.Preferences.DFU = &config.DFUPrefs{Port: "/dev/ttyUSB0"}
	got, err = resolvePort(reg)
	if err != nil || got != "/dev/ttyUSB0" {
		t.Fatalf("resolvePort from preferences = %q, %v", got, err)
	}

	// The flag wins over the remembered port.
	flagPort = "/dev/ttyACM0"
	if got, _ := resolvePort(reg); got != "/dev/ttyACM0" {
		t.Errorf("resolvePort = %q, want the flag value /dev/ttyACM0", got)
	}
}

func TestParseCoprocessor(t *testing.T) {
	tests := []struct {
		in      string
		want    nrf.CoProcessor
		wantErr bool
	}{
		{"", nrf.CPModem, false}, // the DFU responder runs on the modem
		{"modem", nrf.CPModem, false},
		{"app", nrf.CPApplication, false},
		{"application", nrf.CPApplication, false},
		{"net", nrf.CPNetwork, false},
		{"network", nrf.CPNetwork, false},
		{"lte", 0, true},
	}

	for _, tt := range tests {
		got, err := parseCoprocessor(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseCoprocessor(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCoprocessor(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCoprocessor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// staticSession fakes just enough of a DFU session for verifyAction.
type staticSession struct {
	dfu.Session
	action nrf.VerifyAction
}

func (s staticSession) DefaultVerifyAction() nrf.VerifyAction { return s.action }

func TestVerifyAction(t *testing.T) {
	defer func(old string) { flagMethod = old }(flagMethod)

	sess := staticSession{action: nrf.VerifyHash}

	flagMethod = ""
	if got, err := verifyAction(sess); err != nil || got != nrf.VerifyHash {
		t.Errorf("empty method should fall back to the transport preference, got %v, %v", got, err)
	}

	flagMethod = "none"
	if got, _ := verifyAction(sess); got != nrf.VerifyNone {
		t.Errorf("method none = %v", got)
	}

	flagMethod = "read"
	if got, _ := verifyAction(sess); got != nrf.VerifyRead {
		t.Errorf("method read = %v", got)
	}

	flagMethod = "hash"
	if got, _ := verifyAction(sess); got != nrf.VerifyHash {
		t.Errorf("method hash = %v", got)
	}

	flagMethod = "crc"
	if _, err := verifyAction(sess); err == nil {
		t.Error("unknown method should fail")
	}
}

func TestSimDriverDefaults(t *testing.T) {
	drv, err := newDriver()
	if err != nil {
		t.Fatalf("newDriver: %v", err)
	}

	serials, err := probe.Enumerate(drv)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	// The DFU tool simulates a modem-bearing device out of the box.
	if len(serials) != 1 || serials[0] != 960012345 {
		t.Errorf("Enumerate = %v, want [960012345]", serials)
	}
}

func TestSimDriverEnvOverrides(t *testing.T) {
	t.Setenv("NRFPROBE_SIM_DEVICE", "NRF9120")
	t.Setenv("NRFPROBE_SIM_SERIAL", "960054321")

	drv, err := newDriver()
	if err != nil {
		t.Fatalf("newDriver: %v", err)
	}

	serials, err := probe.Enumerate(drv)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(serials) != 1 || serials[0] != 960054321 {
		t.Errorf("Enumerate = %v, want [960054321]", serials)
	}
}
