// Package config provides user configuration management for nrfprobe.
//
// This package manages a YAML-based configuration file that stores user-defined
// metadata for debug probes, including nicknames, preferred SWD clock speeds,
// pinned RTT control block locations, and application preferences. The
// configuration follows OS-specific conventions for storage location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/nrfprobe/config.yaml or $HOME/.config/nrfprobe/config.yaml
//   - macOS: $HOME/.config/nrfprobe/config.yaml
//   - Windows: %LOCALAPPDATA%\nrfprobe\config.yaml
//
// # Security
//
// This package never stores firmware images, memory dumps or anything read
// from a target. It only records probe metadata and preferences.
//
// # Usage Example
//
//	// Load the global registry
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Record probe metadata
//	probe := registry.EnsureProbe("683999999")
//	probe.Nickname = "bench DK"
//	probe.ClockKHz = 8000
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
