package config

import "time"

// Registry represents the entire user configuration file.
// This stores user-defined metadata for debug probes and application
// preferences.
type Registry struct {
	Version     int               `yaml:"version"`
	Probes      map[string]*Probe `yaml:"probes,omitempty"` // Keyed by probe serial number
	Preferences *Preferences      `yaml:"preferences,omitempty"`
}

// Probe represents user-defined metadata for a single debug probe.
// This is keyed by the probe's serial number in the Registry.
type Probe struct {
	Nickname   string    `yaml:"nickname,omitempty"`    // User-friendly name
	LastFamily string    `yaml:"last_family,omitempty"` // Family identified on the last connect
	LastSeen   time.Time `yaml:"last_seen,omitempty"`   // Last enumeration/connection time
	ClockKHz   uint32    `yaml:"clock_khz,omitempty"`   // Preferred SWD clock, 0 = library default
	RTT        *RTTMeta  `yaml:"rtt,omitempty"`         // RTT defaults for this probe's target
}

// RTTMeta pins RTT defaults for a target that is always wired to the same
// probe. A zero control block address means "search for it".
type RTTMeta struct {
	ControlBlock uint32 `yaml:"control_block,omitempty"` // Pinned control block address
	Channel      int    `yaml:"channel"`                 // Default terminal channel index
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	DefaultFamily   string    `yaml:"default_family,omitempty"`   // Family assumed when not given (e.g. "nrf52")
	LogLevel        string    `yaml:"log_level,omitempty"`        // Default log level for the CLI
	Verify          string    `yaml:"verify,omitempty"`           // Default verify action after programming
	Headless        bool      `yaml:"headless,omitempty"`         // Never prompt, even on a terminal
	DiscoverTimeout int       `yaml:"discover_timeout,omitempty"` // Network probe scan timeout in seconds
	DFU             *DFUPrefs `yaml:"dfu,omitempty"`              // Serial recovery defaults
}

// DFUPrefs represents defaults for the serial DFU transports.
type DFUPrefs struct {
	Port string `yaml:"port,omitempty"` // Last used serial port path
	Baud int    `yaml:"baud,omitempty"` // Baud override, 0 = transport default
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version: 1,
		Probes:  make(map[string]*Probe),
		Preferences: &Preferences{
			DefaultFamily:   "auto",
			LogLevel:        "info",
			Verify:          "read",
			DiscoverTimeout: 10,
		},
	}
}

// GetProbe retrieves probe metadata by serial number.
// Returns nil if the probe doesn't exist in the registry.
func (r *Registry) GetProbe(serial string) *Probe {
	return r.Probes[serial]
}

// EnsureProbe ensures a probe entry exists in the registry.
// If the probe doesn't exist, creates a new entry with default values.
// Returns the probe entry (existing or newly created).
func (r *Registry) EnsureProbe(serial string) *Probe {
	if r.Probes == nil {
		r.Probes = make(map[string]*Probe)
	}

	if probe, exists := r.Probes[serial]; exists {
		return probe
	}

	probe := &Probe{}
	r.Probes[serial] = probe
	return probe
}

// UpdateProbeLastSeen updates the last seen timestamp and identified
// family for a probe.
func (r *Registry) UpdateProbeLastSeen(serial, family string) {
	probe := r.EnsureProbe(serial)
	probe.LastSeen = time.Now()
	if family != "" {
		probe.LastFamily = family
	}
}

// SetProbeNickname sets a user-friendly nickname for a probe.
func (r *Registry) SetProbeNickname(serial, nickname string) {
	probe := r.EnsureProbe(serial)
	probe.Nickname = nickname
}

// SetProbeClock stores the preferred SWD clock for a probe.
func (r *Registry) SetProbeClock(serial string, khz uint32) {
	probe := r.EnsureProbe(serial)
	probe.ClockKHz = khz
}

// PinRTT stores the RTT defaults for the target behind a probe.
func (r *Registry) PinRTT(serial string, controlBlock uint32, channel int) {
	probe := r.EnsureProbe(serial)
	probe.RTT = &RTTMeta{
		ControlBlock: controlBlock,
		Channel:      channel,
	}
}

// VerifyActionNames maps verify identifiers accepted in the config file
// and on the command line to human-readable descriptions.
var VerifyActionNames = map[string]string{
	"none": "No verification",
	"read": "Read back and compare",
	"hash": "Compare SHA-256 digests",
}
