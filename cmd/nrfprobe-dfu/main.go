// Nrfprobe-dfu programs Nordic devices without debug access.
//
// Three firmware update transports are supported:
//
//   - mcuboot: MCUboot serial recovery over UART, for application cores
//     running the MCUboot bootloader
//   - modem: the nRF91 modem UART bootloader protocol
//   - ipc: the nRF91 modem DFU driven through the IPC mailbox over SWD,
//     which needs a debug probe but no modem UART access
//
// The serial transports talk to whatever UART the bootloader owns; put
// the device into its recovery mode first (usually a button held during
// reset). See 'nrfprobe-dfu --help' for available commands.
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
	Use:   "nrfprobe-dfu",
	Short: "Nordic firmware update without debug access",
	Long: `Program Nordic devices through their bootloaders instead of SWD.

Transports:
  mcuboot   MCUboot serial recovery over UART
  modem     nRF91 modem UART bootloader
  ipc       nRF91 modem DFU through the IPC mailbox, over a debug probe

The serial transports need the device in bootloader recovery mode and
the right UART; the last used port is remembered in the nrfprobe
configuration file.`,
	Version: version.Version,
	Example: `  # Upload an application over MCUboot serial recovery
  nrfprobe-dfu mcuboot program build/zephyr/zephyr.signed.bin --port /dev/ttyACM0

  # List the bootloader's image slots
  nrfprobe-dfu mcuboot slots --port /dev/ttyACM0

  # Flash modem firmware over the modem UART
  nrfprobe-dfu modem program segment0.hex segment1.hex --port /dev/ttyUSB0

  # Flash modem firmware through a debug probe
  nrfprobe-dfu ipc program segment0.hex segment1.hex`,
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
		fmt.Printf("nrfprobe-dfu %s (commit: %s)\n", version.Version, version.Commit)
	},
}
