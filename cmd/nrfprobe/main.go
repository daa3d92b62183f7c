// Nrfprobe programs and inspects Nordic nRF51/52/53/91 devices over SWD.
//
// The tool talks to a SEGGER-compatible debug probe and drives the
// on-chip NVMC, CTRL-AP and QSPI peripherals directly, so it needs no
// vendor DLLs or flashloader binaries:
//
//   - Flash, UICR and QSPI programming from Intel HEX or binary images
//   - Mass erase, page erase and access-port recovery
//   - Readback protection status and control
//   - RTT terminal access, including a WebSocket bridge
//   - RAM power sections and nRF53/91 coprocessor control
//
// Probe access goes through a pluggable transport driver. This build
// carries the built-in simulated driver: a probe with one nRF target
// behind it, selected with NRFPROBE_SIM_DEVICE (default NRF52840).
//
// See 'nrfprobe --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nrfprobe/nrfprobe/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nrfprobe",
	Short: "Nordic nRF5 programming and debug utility",
	Long: `Program and inspect Nordic nRF51/52/53/91 devices over SWD.

The tool drives a SEGGER-compatible debug probe directly:
  - Flash, UICR and QSPI programming from HEX or BIN images
  - Mass erase, page erase and access-port recovery
  - Readback protection status and control
  - RTT terminal access and a WebSocket RTT bridge
  - RAM power sections and nRF53/91 coprocessor control

With one probe attached no flags are needed; with several, pass
--serial or pick one interactively. Probe nicknames, preferred SWD
clocks and RTT defaults live in the user configuration file, see
'nrfprobe config'.`,
	Version: version.Version,
	Example: `  # List attached probes
  nrfprobe probes

  # Identify the connected device
  nrfprobe info

  # Program an application image and verify it
  nrfprobe program build/zephyr/zephyr.hex --verify read

  # Recover an access-port protected device
  nrfprobe recover

  # Stream RTT channel 0 to a WebSocket client
  nrfprobe rtt serve --listen :19021`,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nrfprobe %s (commit: %s)\n", version.Version, version.Commit)
	},
}
