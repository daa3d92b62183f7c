package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nrfprobe/nrfprobe/internal/config"
	"github.com/nrfprobe/nrfprobe/internal/dfu"
	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
	"github.com/nrfprobe/nrfprobe/internal/transport"
	"github.com/nrfprobe/nrfprobe/internal/transport/sim"
	"github.com/nrfprobe/nrfprobe/internal/ui"
	"github.com/nrfprobe/nrfprobe/internal/urls"
)

// Command flags
var (
	flagPort    string
	flagBaud    int
	flagRetries int
	flagTimeout string
	flagBinAddr string

	flagSerial uint32
	flagCoproc string

	flagMethod string

	digestAddr   string
	digestLength uint32
)

func init() {
	// Common flags for all commands (persistent on root)
	rootCmd.PersistentFlags().StringVarP(&flagPort, "port", "p", "", "Serial port (default: last used, from the config file)")
	rootCmd.PersistentFlags().IntVar(&flagBaud, "baud", 0, "Baud rate (0 = transport default)")
	rootCmd.PersistentFlags().IntVar(&flagRetries, "retries", 0, "Frame retries on timeout (0 = transport default)")
	rootCmd.PersistentFlags().StringVar(&flagTimeout, "timeout", "5m", "Overall operation timeout (e.g., 30s, 5m)")
	rootCmd.PersistentFlags().StringVar(&flagBinAddr, "bin-addr", "0", "Load address for flat binary images")

	// Per-transport flags
	ipcCmd.PersistentFlags().Uint32VarP(&flagSerial, "serial", "s", 0, "Probe serial number (0 = the only attached probe)")
	ipcCmd.PersistentFlags().StringVar(&flagCoproc, "coprocessor", "modem", "Coprocessor running the DFU responder")

	modemVerifyCmd.Flags().StringVar(&flagMethod, "method", "", "Verify method: none, read or hash (default: transport preference)")
	ipcVerifyCmd.Flags().StringVar(&flagMethod, "method", "", "Verify method: none, read or hash (default: transport preference)")

	modemDigestCmd.Flags().StringVar(&digestAddr, "addr", "0", "Range start address")
	modemDigestCmd.Flags().Uint32VarP(&digestLength, "length", "n", 4096, "Range length in bytes")
	ipcDigestCmd.Flags().StringVar(&digestAddr, "addr", "0", "Range start address")
	ipcDigestCmd.Flags().Uint32VarP(&digestLength, "length", "n", 4096, "Range length in bytes")

	// Add subcommands
	rootCmd.AddCommand(mcubootCmd)
	rootCmd.AddCommand(modemCmd)
	rootCmd.AddCommand(ipcCmd)

	mcubootCmd.AddCommand(mcubootProgramCmd)
	mcubootCmd.AddCommand(mcubootSlotsCmd)
	mcubootCmd.AddCommand(mcubootPingCmd)
	mcubootCmd.AddCommand(mcubootResetCmd)

	modemCmd.AddCommand(modemProgramCmd)
	modemCmd.AddCommand(modemVerifyCmd)
	modemCmd.AddCommand(modemDigestCmd)
	modemCmd.AddCommand(modemUUIDCmd)

	ipcCmd.AddCommand(ipcProgramCmd)
	ipcCmd.AddCommand(ipcVerifyCmd)
	ipcCmd.AddCommand(ipcDigestCmd)
	ipcCmd.AddCommand(ipcUUIDCmd)
}

// newDriver builds the probe transport the ipc commands use. Swapped in
// tests. This binary carries the same built-in simulated backend as
// nrfprobe, selected with NRFPROBE_SIM_DEVICE and NRFPROBE_SIM_SERIAL.
var newDriver = simDriver

func simDriver() (transport.Driver, error) {
	name := os.Getenv("NRFPROBE_SIM_DEVICE")
	if name == "" {
		name = "NRF9160"
	}
	serial := uint32(960012345)
	if s := os.Getenv("NRFPROBE_SIM_SERIAL"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid NRFPROBE_SIM_SERIAL %q: %w", s, err)
		}
		serial = uint32(n)
	}

	target, err := sim.NewTarget(name)
	if err != nil {
		return nil, fmt.Errorf("cannot build simulated target: %w", err)
	}
	drv := sim.NewDriver()
	drv.AddProbe(serial, target)
	return drv, nil
}

// loadRegistry returns the user config, falling back to defaults.
func loadRegistry() *config.Registry {
	reg, err := config.LoadRegistry()
	if err != nil {
		return config.NewRegistry()
	}
	return reg
}

// resolvePort picks the serial port: the --port flag first, then the
// last used port from the config file.
func resolvePort(reg *config.Registry) (string, error) {
	if flagPort != "" {
		return flagPort, nil
	}
	if reg.Preferences != nil && reg.Preferences.DFU != nil && reg.Preferences.DFU.Port != "" {
		return reg.Preferences.DFU.Port, nil
	}
	return "", fmt.Errorf("no serial port given, pass --port (e.g. --port /dev/ttyACM0)")
}

// rememberPort stores the port and baud for next time. Losing the write
// is fine.
func rememberPort(reg *config.Registry, port string) {
	if reg.Preferences == nil {
		reg.Preferences = &config.Preferences{}
	}
	if reg.Preferences.DFU == nil {
		reg.Preferences.DFU = &config.DFUPrefs{}
	}
	reg.Preferences.DFU.Port = port
	if flagBaud > 0 {
		reg.Preferences.DFU.Baud = flagBaud
	}
	_ = reg.Save()
}

// dfuOptions assembles the transport options shared by every session.
func dfuOptions(reg *config.Registry, progress func(string)) []dfu.Option {
	if err := logging.InitializeFromEnv(); err != nil {
		// Ignore error, GetLogger will create fallback logger
		_ = err
	}

	opts := []dfu.Option{dfu.WithLogger(logging.GetLogger())}
	if progress != nil {
		opts = append(opts, dfu.WithProgress(progress))
	}

	baud := flagBaud
	if baud == 0 && reg.Preferences != nil && reg.Preferences.DFU != nil {
		baud = reg.Preferences.DFU.Baud
	}
	if baud > 0 {
		opts = append(opts, dfu.WithBaudRate(baud))
	}
	if flagRetries > 0 {
		opts = append(opts, dfu.WithRetries(flagRetries))
	}
	return opts
}

// loadImages reads every file argument into memory images.
func loadImages(paths []string) ([]*firmware.Image, error) {
	binAddr, err := parseAddr(flagBinAddr)
	if err != nil {
		return nil, err
	}
	imgs := make([]*firmware.Image, 0, len(paths))
	for _, path := range paths {
		img, err := firmware.LoadFile(path, binAddr)
		if err != nil {
			return nil, err
		}
		imgs = append(imgs, img)
	}
	return imgs, nil
}

func parseAddr(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint32(n), nil
}

// verifyAction resolves the --method flag, falling back to the
// transport's preferred action.
func verifyAction(sess dfu.Session) (nrf.VerifyAction, error) {
	switch flagMethod {
	case "":
		return sess.DefaultVerifyAction(), nil
	case "none":
		return nrf.VerifyNone, nil
	case "read":
		return nrf.VerifyRead, nil
	case "hash":
		return nrf.VerifyHash, nil
	}
	return nrf.VerifyNone, fmt.Errorf("unknown verify method %q, expected none, read or hash", flagMethod)
}

func serialTroubleshooting() []string {
	return []string{
		"The device must be in bootloader recovery mode before connecting",
		"Check the port with: nrfprobe probes",
		"Serial recovery guide: " + urls.SerialRecovery,
	}
}

// mcubootCmd groups the MCUboot serial recovery commands
var mcubootCmd = &cobra.Command{
	Use:   "mcuboot",
	Short: "MCUboot serial recovery over UART",
	Long: `Talk to the MCUboot bootloader's serial recovery mode. Images are
uploaded into the bootloader's slots in argument order and marked for
swap on the next boot.

Enter recovery mode first; on most boards that is the user button held
while resetting.`,
	Example: `  nrfprobe-dfu mcuboot ping --port /dev/ttyACM0
  nrfprobe-dfu mcuboot program app.signed.bin --port /dev/ttyACM0
  nrfprobe-dfu mcuboot slots
  nrfprobe-dfu mcuboot reset`,
}

var mcubootProgramCmd = &cobra.Command{
	Use:   "program FILE...",
	Short: "Upload images into the bootloader's slots",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMCUBootProgram,
}

var mcubootSlotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "List the bootloader's image slots",
	RunE:  runMCUBootSlots,
}

var mcubootPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the bootloader answers",
	RunE:  runMCUBootPing,
}

var mcubootResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the device out of recovery mode",
	RunE:  runMCUBootReset,
}

// openMCUBoot opens the serial recovery session on the resolved port.
func openMCUBoot(reg *config.Registry, progress func(string)) (*dfu.MCUBootSession, error) {
	port, err := resolvePort(reg)
	if err != nil {
		return nil, err
	}
	sess, err := dfu.OpenMCUBoot(port, dfuOptions(reg, progress)...)
	if err != nil {
		return nil, err
	}
	rememberPort(reg, port)
	return sess, nil
}

func runMCUBootProgram(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	imgs, err := loadImages(args)
	if err != nil {
		ui.PrintFailure("Cannot load images", err, []string{
			"Supported formats are Intel HEX (.hex) and flat binary (.bin)",
		})
		return err
	}

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	reg := loadRegistry()
	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "MCUboot Upload",
		Command: "nrfprobe-dfu mcuboot program",
		Params:  map[string]string{"Images": fmt.Sprintf("%d", len(imgs))},
	})

	err = runner.Run(ctx, func(_ ui.StepCallback) error {
		sess, err := openMCUBoot(reg, runner.OnPhase)
		if err != nil {
			return err
		}
		defer sess.Close()
		return sess.ProgramFiles(imgs)
	})
	if err != nil {
		for _, tip := range serialTroubleshooting() {
			fmt.Println("  " + tip)
		}
		return err
	}
	fmt.Println("  The new images activate on the next boot: nrfprobe-dfu mcuboot reset")
	return nil
}

func runMCUBootSlots(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	reg := loadRegistry()
	sess, err := openMCUBoot(reg, nil)
	if err != nil {
		ui.PrintFailure("Cannot open bootloader", err, serialTroubleshooting())
		return err
	}
	defer sess.Close()

	slots, err := sess.Slots()
	if err != nil {
		ui.PrintFailure("Slot listing failed", err, serialTroubleshooting())
		return err
	}
	if len(slots) == 0 {
		ui.PrintWarning("No images reported", nil)
		return nil
	}
	for _, s := range slots {
		state := ""
		if s.Active {
			state += " active"
		}
		if s.Pending {
			state += " pending"
		}
		if s.Bootable {
			state += " bootable"
		}
		fmt.Printf("  slot %d  %-12s %x%s\n", s.Slot, s.Version, s.Hash, state)
	}
	return nil
}

func runMCUBootPing(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	reg := loadRegistry()
	sess, err := openMCUBoot(reg, nil)
	if err != nil {
		ui.PrintFailure("Cannot open bootloader", err, serialTroubleshooting())
		return err
	}
	defer sess.Close()

	if err := sess.Ping(); err != nil {
		ui.PrintFailure("No answer from the bootloader", err, serialTroubleshooting())
		return err
	}
	ui.PrintSuccess("Bootloader answered", nil)
	return nil
}

func runMCUBootReset(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	reg := loadRegistry()
	sess, err := openMCUBoot(reg, nil)
	if err != nil {
		ui.PrintFailure("Cannot open bootloader", err, serialTroubleshooting())
		return err
	}
	defer sess.Close()

	if err := sess.Reset(); err != nil {
		ui.PrintFailure("Reset failed", err, serialTroubleshooting())
		return err
	}
	ui.PrintSuccess("Device reset", nil)
	return nil
}

// modemCmd groups the modem UART bootloader commands
var modemCmd = &cobra.Command{
	Use:   "modem",
	Short: "nRF91 modem firmware update over UART",
	Long: `Flash modem firmware through the modem's UART bootloader. The modem
must be in its DFU mode; the application core usually puts it there and
then routes the UART to a host-visible port.

Verification compares SHA-256 digests the modem computes over its own
flash against digests computed from the image files.`,
	Example: `  nrfprobe-dfu modem program segment0.hex segment1.hex --port /dev/ttyUSB0
  nrfprobe-dfu modem verify segment0.hex segment1.hex
  nrfprobe-dfu modem uuid`,
}

var modemProgramCmd = &cobra.Command{
	Use:   "program FILE...",
	Short: "Flash modem firmware images",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runModemProgram,
}

var modemVerifyCmd = &cobra.Command{
	Use:   "verify FILE...",
	Short: "Verify modem flash against images",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runModemVerify,
}

var modemDigestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Read a SHA-256 digest of a modem flash range",
	RunE:  runModemDigest,
}

var modemUUIDCmd = &cobra.Command{
	Use:   "uuid",
	Short: "Read the modem's device identity",
	RunE:  runModemUUID,
}

// openModem opens the modem bootloader session on the resolved port.
func openModem(reg *config.Registry, progress func(string)) (*dfu.ModemUARTSession, error) {
	port, err := resolvePort(reg)
	if err != nil {
		return nil, err
	}
	sess, err := dfu.OpenModemUART(port, dfuOptions(reg, progress)...)
	if err != nil {
		return nil, err
	}
	rememberPort(reg, port)
	return sess, nil
}

func runModemProgram(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	imgs, err := loadImages(args)
	if err != nil {
		ui.PrintFailure("Cannot load images", err, []string{
			"Supported formats are Intel HEX (.hex) and flat binary (.bin)",
		})
		return err
	}

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	reg := loadRegistry()
	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Modem Update",
		Command: "nrfprobe-dfu modem program",
		Params:  map[string]string{"Images": fmt.Sprintf("%d", len(imgs))},
	})

	err = runner.Run(ctx, func(_ ui.StepCallback) error {
		sess, err := openModem(reg, runner.OnPhase)
		if err != nil {
			return err
		}
		defer sess.Close()
		return sess.ProgramFiles(imgs)
	})
	if err != nil {
		for _, tip := range serialTroubleshooting() {
			fmt.Println("  " + tip)
		}
	}
	return err
}

func runModemVerify(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	imgs, err := loadImages(args)
	if err != nil {
		return err
	}

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	reg := loadRegistry()
	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Modem Verify",
		Command: "nrfprobe-dfu modem verify",
		Params:  map[string]string{"Images": fmt.Sprintf("%d", len(imgs))},
	})

	err = runner.Run(ctx, func(_ ui.StepCallback) error {
		sess, err := openModem(reg, runner.OnPhase)
		if err != nil {
			return err
		}
		defer sess.Close()
		action, err := verifyAction(sess)
		if err != nil {
			return err
		}
		return sess.VerifyFiles(imgs, action)
	})
	if err != nil {
		for _, tip := range serialTroubleshooting() {
			fmt.Println("  " + tip)
		}
	}
	return err
}

func runModemDigest(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	addr, err := parseAddr(digestAddr)
	if err != nil {
		return err
	}

	reg := loadRegistry()
	sess, err := openModem(reg, nil)
	if err != nil {
		ui.PrintFailure("Cannot open modem bootloader", err, serialTroubleshooting())
		return err
	}
	defer sess.Close()

	digest, err := sess.ReadDigest(addr, digestLength)
	if err != nil {
		ui.PrintFailure("Digest read failed", err, serialTroubleshooting())
		return err
	}
	ui.PrintSuccess("Digest", map[string]string{
		"Range":  fmt.Sprintf("0x%08X+0x%X", addr, digestLength),
		"SHA256": digest.String(),
	})
	return nil
}

func runModemUUID(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	reg := loadRegistry()
	sess, err := openModem(reg, nil)
	if err != nil {
		ui.PrintFailure("Cannot open modem bootloader", err, serialTroubleshooting())
		return err
	}
	defer sess.Close()

	id, err := sess.ReadUUID()
	if err != nil {
		ui.PrintFailure("Identity read failed", err, serialTroubleshooting())
		return err
	}
	ui.PrintSuccess("Modem identity", map[string]string{"UUID": id.String()})
	return nil
}

// ipcCmd groups the IPC modem DFU commands
var ipcCmd = &cobra.Command{
	Use:   "ipc",
	Short: "nRF91 modem firmware update through the IPC mailbox",
	Long: `Flash modem firmware through the IPC mailbox over a debug probe.
The modem core runs its DFU responder; commands and data move through
shared RAM, so no modem UART is needed.

This transport claims a debug probe like nrfprobe does; pass --serial
when several probes are attached.`,
	Example: `  nrfprobe-dfu ipc program segment0.hex segment1.hex
  nrfprobe-dfu ipc verify segment0.hex segment1.hex --serial 960012345
  nrfprobe-dfu ipc uuid`,
}

var ipcProgramCmd = &cobra.Command{
	Use:   "program FILE...",
	Short: "Flash modem firmware images",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIPCProgram,
}

var ipcVerifyCmd = &cobra.Command{
	Use:   "verify FILE...",
	Short: "Verify modem flash against images",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIPCVerify,
}

var ipcDigestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Read a SHA-256 digest of a modem flash range",
	RunE:  runIPCDigest,
}

var ipcUUIDCmd = &cobra.Command{
	Use:   "uuid",
	Short: "Read the modem's device identity",
	RunE:  runIPCUUID,
}

func parseCoprocessor(s string) (nrf.CoProcessor, error) {
	switch s {
	case "", "modem":
		return nrf.CPModem, nil
	case "app", "application":
		return nrf.CPApplication, nil
	case "net", "network":
		return nrf.CPNetwork, nil
	}
	return nrf.CPModem, fmt.Errorf("unknown coprocessor %q, expected application, network or modem", s)
}

// openIPC claims a probe and opens the IPC DFU session on it. Both are
// torn down by the returned close function.
func openIPC(ctx context.Context, progress func(string)) (*dfu.IPCSession, func(), error) {
	reg := loadRegistry()

	cp, err := parseCoprocessor(flagCoproc)
	if err != nil {
		return nil, nil, err
	}

	drv, err := newDriver()
	if err != nil {
		return nil, nil, err
	}
	serial := flagSerial
	if serial == 0 {
		serials, err := probe.Enumerate(drv)
		if err != nil {
			return nil, nil, err
		}
		switch len(serials) {
		case 0:
			return nil, nil, fmt.Errorf("no probes attached")
		case 1:
			serial = serials[0]
		default:
			return nil, nil, fmt.Errorf("%d probes attached, pass a serial number", len(serials))
		}
	}

	pc, err := probe.Open(ctx, drv, serial, probe.Options{Logger: logging.GetLogger()})
	if err != nil {
		return nil, nil, err
	}
	sess, err := dfu.OpenIPC(pc, cp, dfuOptions(reg, progress)...)
	if err != nil {
		pc.Close()
		return nil, nil, err
	}
	closer := func() {
		sess.Close()
		pc.Close()
	}
	return sess, closer, nil
}

func runIPCProgram(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	imgs, err := loadImages(args)
	if err != nil {
		ui.PrintFailure("Cannot load images", err, []string{
			"Supported formats are Intel HEX (.hex) and flat binary (.bin)",
		})
		return err
	}

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "IPC Modem Update",
		Command: "nrfprobe-dfu ipc program",
		Params:  map[string]string{"Images": fmt.Sprintf("%d", len(imgs))},
	})

	return runner.Run(ctx, func(_ ui.StepCallback) error {
		sess, done, err := openIPC(ctx, runner.OnPhase)
		if err != nil {
			return err
		}
		defer done()
		return sess.ProgramFiles(imgs)
	})
}

func runIPCVerify(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	imgs, err := loadImages(args)
	if err != nil {
		return err
	}

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "IPC Modem Verify",
		Command: "nrfprobe-dfu ipc verify",
		Params:  map[string]string{"Images": fmt.Sprintf("%d", len(imgs))},
	})

	return runner.Run(ctx, func(_ ui.StepCallback) error {
		sess, done, err := openIPC(ctx, runner.OnPhase)
		if err != nil {
			return err
		}
		defer done()
		action, err := verifyAction(sess)
		if err != nil {
			return err
		}
		return sess.VerifyFiles(imgs, action)
	})
}

func runIPCDigest(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	addr, err := parseAddr(digestAddr)
	if err != nil {
		return err
	}

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	sess, done, err := openIPC(ctx, nil)
	if err != nil {
		ui.PrintFailure("Cannot open IPC session", err, connectTips())
		return err
	}
	defer done()

	digest, err := sess.ReadDigest(addr, digestLength)
	if err != nil {
		ui.PrintFailure("Digest read failed", err, connectTips())
		return err
	}
	ui.PrintSuccess("Digest", map[string]string{
		"Range":  fmt.Sprintf("0x%08X+0x%X", addr, digestLength),
		"SHA256": digest.String(),
	})
	return nil
}

func runIPCUUID(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	sess, done, err := openIPC(ctx, nil)
	if err != nil {
		ui.PrintFailure("Cannot open IPC session", err, connectTips())
		return err
	}
	defer done()

	id, err := sess.ReadUUID()
	if err != nil {
		ui.PrintFailure("Identity read failed", err, connectTips())
		return err
	}
	ui.PrintSuccess("Modem identity", map[string]string{"UUID": id.String()})
	return nil
}

func connectTips() []string {
	return []string{
		"List attached probes: nrfprobe probes",
		"The modem core must be enabled: nrfprobe coprocessor enable modem",
		"Serial recovery guide: " + urls.SerialRecovery,
	}
}

// commandContext builds the context operations run under, honoring the
// --timeout flag.
func commandContext() (context.Context, context.CancelFunc, error) {
	timeout, err := time.ParseDuration(flagTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timeout value: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return ctx, cancel, nil
}
