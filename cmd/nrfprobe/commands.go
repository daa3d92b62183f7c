package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nrfprobe/nrfprobe/internal/config"
	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
	"github.com/nrfprobe/nrfprobe/internal/session"
	"github.com/nrfprobe/nrfprobe/internal/transport"
	"github.com/nrfprobe/nrfprobe/internal/transport/sim"
	"github.com/nrfprobe/nrfprobe/internal/ui"
	"github.com/nrfprobe/nrfprobe/internal/urls"
)

// Command flags
var (
	flagSerial   uint32
	flagClock    uint32
	flagFamily   string
	flagCoproc   string
	flagTimeout  string
	flagHeadless bool

	probesNetwork bool

	programVerify    string
	programErase     string
	programQSPIErase string
	programReset     string
	programAddr      string

	verifyMethod string
	verifyAddr   string

	readAddr   string
	readLength uint32
	readOutput string
	readRAM    bool
	readUICR   bool
	readFICR   bool
	readQSPI   bool
	readCode   bool

	eraseAllFlag  bool
	eraseUICRFlag bool
	erasePageAddr string
	eraseFrom     string
	eraseTo       string

	eraseYes    bool
	recoverYes  bool
	protectYes  bool
	writeVerify bool
)

func init() {
	// Common flags for all commands (persistent on root)
	rootCmd.PersistentFlags().Uint32VarP(&flagSerial, "serial", "s", 0, "Probe serial number (0 = the only attached probe)")
	rootCmd.PersistentFlags().Uint32Var(&flagClock, "clock", 0, "SWD clock in kHz (0 = probe preference or default)")
	rootCmd.PersistentFlags().StringVar(&flagFamily, "family", "", "Device family: nrf51, nrf52, nrf53, nrf91 or auto")
	rootCmd.PersistentFlags().StringVar(&flagCoproc, "coprocessor", "application", "Target coprocessor: application, network or modem")
	rootCmd.PersistentFlags().StringVar(&flagTimeout, "timeout", "2m", "Operation timeout (e.g., 30s, 2m)")
	rootCmd.PersistentFlags().BoolVar(&flagHeadless, "headless", false, "Never prompt, fail instead")

	// Add subcommands
	rootCmd.AddCommand(probesCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(programCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(protectCmd)
}

// newDriver builds the probe transport every command uses. Swapped in tests.
var newDriver = simDriver

// simDriver wires the built-in simulated probe backend: one probe with an
// nRF target behind it. NRFPROBE_SIM_DEVICE selects the part (default
// NRF52840), NRFPROBE_SIM_SERIAL the probe serial number. A hardware
// probe library plugs in here as an alternate transport.Driver.
func simDriver() (transport.Driver, error) {
	name := os.Getenv("NRFPROBE_SIM_DEVICE")
	if name == "" {
		name = "NRF52840"
	}
	serial := uint32(683999999)
	if s := os.Getenv("NRFPROBE_SIM_SERIAL"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid NRFPROBE_SIM_SERIAL %q: %w", s, err)
		}
		serial = uint32(n)
	}

	target, err := sim.NewTarget(name, sim.WithExternalFlash(8*1024))
	if err != nil {
		return nil, fmt.Errorf("cannot build simulated target: %w", err)
	}
	drv := sim.NewDriver()
	drv.AddProbe(serial, target)
	return drv, nil
}

// commandContext builds the context device operations run under,
// honoring the --timeout flag.
func commandContext() (context.Context, context.CancelFunc, error) {
	timeout, err := time.ParseDuration(flagTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timeout value: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return ctx, cancel, nil
}

// loadUserRegistry loads the probe registry, falling back to defaults so
// a broken config file never blocks a flash operation.
func loadUserRegistry() *config.Registry {
	reg, err := config.LoadRegistry()
	if err != nil {
		ui.PrintWarning(fmt.Sprintf("Ignoring unreadable config: %v", err), nil)
		return config.NewRegistry()
	}
	return reg
}

// serialKey formats a serial number the way the registry keys probes,
// matching the zero-padded string SEGGER probes report over USB.
func serialKey(serial uint32) string {
	return fmt.Sprintf("%09d", serial)
}

func headlessMode(reg *config.Registry) bool {
	if flagHeadless {
		return true
	}
	return reg.Preferences != nil && reg.Preferences.Headless
}

// probeLabel builds the picker line for one probe from registry metadata.
func probeLabel(reg *config.Registry, serial uint32) string {
	label := serialKey(serial)
	if p := reg.GetProbe(serialKey(serial)); p != nil {
		if p.Nickname != "" {
			label += "  " + p.Nickname
		}
		if p.LastFamily != "" {
			label += "  (" + p.LastFamily + ")"
		}
	}
	return label
}

// resolveSerial decides which probe a command should claim. With --serial
// set or at most one probe attached it defers to the session, which
// reports the zero and single probe cases canonically. With several
// probes attached it asks the user, unless running headless.
func resolveSerial(drv transport.Driver, reg *config.Registry) (uint32, error) {
	if flagSerial != 0 {
		return flagSerial, nil
	}
	serials, err := probe.Enumerate(drv)
	if err != nil {
		return 0, err
	}
	if len(serials) <= 1 {
		return 0, nil
	}
	if headlessMode(reg) || !ui.IsInteractive() {
		return 0, nil
	}

	items := make([]ui.PickerItem, 0, len(serials))
	for _, sn := range serials {
		items = append(items, ui.PickerItem{Serial: sn, Label: probeLabel(reg, sn)})
	}
	return ui.PickProbe("Several probes attached", items)
}

// openSession claims a probe and returns a live session. The caller owns
// the session and must Close it.
func openSession(ctx context.Context, progress func(string)) (*session.Session, *config.Registry, error) {
	// Initialize logging from environment variable (silent by default).
	// Set NRFPROBE_LOG_LEVEL=debug to see detailed logs.
	if err := logging.InitializeFromEnv(); err != nil {
		// Ignore error, GetLogger will create fallback logger
		_ = err
	}

	reg := loadUserRegistry()
	drv, err := newDriver()
	if err != nil {
		return nil, nil, err
	}

	serial, err := resolveSerial(drv, reg)
	if err != nil {
		return nil, nil, err
	}

	opts := []session.Option{session.WithLogger(logging.GetLogger())}
	if progress != nil {
		opts = append(opts, session.WithProgress(progress))
	}

	clock := flagClock
	if clock == 0 && serial != 0 {
		if p := reg.GetProbe(serialKey(serial)); p != nil {
			clock = p.ClockKHz
		}
	}
	if clock != 0 {
		opts = append(opts, session.WithClockKHz(clock))
	}

	famName := flagFamily
	if famName == "" && reg.Preferences != nil {
		famName = reg.Preferences.DefaultFamily
	}
	fam, err := nrf.ParseFamily(famName)
	if err != nil {
		return nil, nil, err
	}
	if fam != nrf.FamilyAuto {
		opts = append(opts, session.WithFamily(fam))
	}

	cp, err := parseCoprocessor(flagCoproc)
	if err != nil {
		return nil, nil, err
	}
	if cp != nrf.CPApplication {
		opts = append(opts, session.WithCoprocessor(cp))
	}

	if serial != 0 {
		if p := reg.GetProbe(serialKey(serial)); p != nil && p.RTT != nil && p.RTT.ControlBlock != 0 {
			opts = append(opts, session.WithControlBlockHint(p.RTT.ControlBlock))
		}
	}

	sess, err := session.New(drv, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := sess.Connect(ctx, serial); err != nil {
		return nil, nil, err
	}
	return sess, reg, nil
}

// connectTarget opens a session and identifies the device behind it.
func connectTarget(ctx context.Context, progress func(string)) (*session.Session, *config.Registry, error) {
	sess, reg, err := openSession(ctx, progress)
	if err != nil {
		return nil, nil, err
	}
	if err := sess.ConnectToDevice(); err != nil {
		sess.Close()
		return nil, nil, err
	}
	rememberProbe(reg, sess)
	return sess, reg, nil
}

// rememberProbe records the identified family and last-seen time in the
// registry. Losing the write is fine.
func rememberProbe(reg *config.Registry, sess *session.Session) {
	serial, err := sess.Serial()
	if err != nil {
		return
	}
	fam, err := sess.ReadDeviceFamily()
	if err != nil {
		return
	}
	reg.UpdateProbeLastSeen(serialKey(serial), fam.String())
	_ = reg.Save()
}

// parseAddr parses an address in 0x.. or decimal form.
func parseAddr(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint32(n), nil
}

func parseCoprocessor(s string) (nrf.CoProcessor, error) {
	switch s {
	case "", "app", "application":
		return nrf.CPApplication, nil
	case "net", "network":
		return nrf.CPNetwork, nil
	case "modem":
		return nrf.CPModem, nil
	}
	return nrf.CPApplication, fmt.Errorf("unknown coprocessor %q, expected application, network or modem", s)
}

func parseVerifyAction(s string) (nrf.VerifyAction, error) {
	switch s {
	case "none":
		return nrf.VerifyNone, nil
	case "read":
		return nrf.VerifyRead, nil
	case "hash":
		return nrf.VerifyHash, nil
	}
	return nrf.VerifyNone, fmt.Errorf("unknown verify action %q, expected none, read or hash", s)
}

func parseEraseAction(s string) (nrf.EraseAction, error) {
	switch s {
	case "none":
		return nrf.EraseNone, nil
	case "all":
		return nrf.EraseAll, nil
	case "pages":
		return nrf.ErasePages, nil
	case "pages-uicr":
		return nrf.ErasePagesIncludingUICR, nil
	}
	return nrf.EraseNone, fmt.Errorf("unknown erase action %q, expected none, all, pages or pages-uicr", s)
}

func parseResetAction(s string) (nrf.ResetAction, error) {
	switch s {
	case "none":
		return nrf.ResetNone, nil
	case "sys", "system":
		return nrf.ResetSystem, nil
	case "debug":
		return nrf.ResetDebug, nil
	case "pin":
		return nrf.ResetPin, nil
	case "hard":
		return nrf.ResetHard, nil
	}
	return nrf.ResetNone, fmt.Errorf("unknown reset kind %q, expected none, system, debug, pin or hard", s)
}

func parseProtectionLevel(s string) (nrf.ReadbackProtection, error) {
	switch s {
	case "none":
		return nrf.ProtectionNone, nil
	case "region0":
		return nrf.ProtectionRegion0, nil
	case "all":
		return nrf.ProtectionAll, nil
	case "both":
		return nrf.ProtectionBoth, nil
	case "secure":
		return nrf.ProtectionSecure, nil
	}
	return nrf.ProtectionNone, fmt.Errorf("unknown protection level %q, expected none, region0, all, both or secure", s)
}

// connectTroubleshooting is the tip list for failures before the device
// is identified.
func connectTroubleshooting() []string {
	return []string{
		"List attached probes: nrfprobe probes",
		"Check probe drivers and cabling: " + urls.ProbeSetup,
		"If the access port is protected, run: nrfprobe recover",
		"Set NRFPROBE_LOG_LEVEL=debug for full probe logs",
	}
}

// probesCmd implements the 'probes' command
var probesCmd = &cobra.Command{
	Use:     "probes",
	Aliases: []string{"enumerate", "list"},
	Short:   "List attached debug probes",
	Long: `List debug probes attached over USB, with their virtual COM ports
and any nicknames from the probe registry.

With --network the local network is also scanned for IP-attached probes
advertising themselves over mDNS.`,
	Example: `  # List USB probes
  nrfprobe probes

  # Include network probes
  nrfprobe probes --network`,
	RunE: runProbes,
}

func init() {
	probesCmd.Flags().BoolVar(&probesNetwork, "network", false, "Also scan the local network for probes")
}

func runProbes(cmd *cobra.Command, args []string) error {
	// Suppress usage on execution errors (we're past argument parsing)
	cmd.SilenceUsage = true

	reg := loadUserRegistry()
	drv, err := newDriver()
	if err != nil {
		ui.PrintFailure("Probe enumeration failed", err, connectTroubleshooting())
		return err
	}

	serials, err := probe.Enumerate(drv)
	if err != nil {
		ui.PrintFailure("Probe enumeration failed", err, []string{
			"Check probe drivers and cabling: " + urls.ProbeSetup,
		})
		return err
	}

	if len(serials) == 0 && !probesNetwork {
		ui.PrintWarning("No debug probes attached", map[string]string{
			"Probe setup guide": urls.ProbeSetup,
		})
		return nil
	}

	known := make(map[uint32]bool)
	for _, sn := range serials {
		known[sn] = true
		fmt.Println(probeLabel(reg, sn))
		ports, err := probe.EnumCOMPorts(sn)
		if err != nil || len(ports) == 0 {
			continue
		}
		for _, p := range ports {
			fmt.Printf("    VCOM%d  %s\n", p.VCOMNumber, p.Path)
		}
	}

	// Probes visible only through their CDC interfaces, e.g. when the
	// debug driver cannot claim them.
	comOnly := 0
	if comSerials, err := probe.EnumerateWithCOMPorts(); err == nil {
		for _, sn := range comSerials {
			if known[sn] {
				continue
			}
			fmt.Printf("%s  [serial ports only]\n", probeLabel(reg, sn))
			comOnly++
		}
	}

	if !probesNetwork {
		return nil
	}

	timeout := 10 * time.Second
	if reg.Preferences != nil && reg.Preferences.DiscoverTimeout > 0 {
		timeout = time.Duration(reg.Preferences.DiscoverTimeout) * time.Second
	}
	ui.PrintPleaseWait("Scanning the network for probes", timeout.String())

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	netProbes, err := probe.DiscoverNetwork(ctx, timeout)
	if err != nil {
		ui.PrintFailure("Network scan failed", err, []string{
			"mDNS needs a route to the probe's subnet",
			"Check probe network setup: " + urls.ProbeSetup,
		})
		return err
	}
	for _, np := range netProbes {
		fmt.Printf("%09d  %s:%d", np.SerialNumber, np.IP, np.Port)
		if np.Nickname != "" {
			fmt.Printf("  %s", np.Nickname)
		}
		if np.Product != "" {
			fmt.Printf("  (%s)", np.Product)
		}
		fmt.Println()
	}
	if len(serials) == 0 && comOnly == 0 && len(netProbes) == 0 {
		ui.PrintWarning("No debug probes found", map[string]string{
			"Probe setup guide": urls.ProbeSetup,
		})
	}
	return nil
}

// connectCmd implements the 'connect' command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a probe and identify its device",
	Long: `Claim a debug probe, attach to the device behind it and report what
was found. This is the quickest end-to-end health check of the probe,
the SWD wiring and the device.`,
	Example: `  # Connect to the only attached probe
  nrfprobe connect

  # Connect to a specific probe at 8 MHz
  nrfprobe connect --serial 683551234 --clock 8000`,
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	ui.PrintCommandHeader("Connect", "nrfprobe connect", nil)

	sess, _, err := connectTarget(ctx, nil)
	if err != nil {
		ui.PrintFailure("Connect failed", err, connectTroubleshooting())
		return err
	}
	defer sess.Close()

	details := map[string]string{}
	if sn, err := sess.Serial(); err == nil {
		details["Probe"] = serialKey(sn)
	}
	if fw, err := sess.FirmwareString(); err == nil {
		details["Firmware"] = fw
	}
	if khz, err := sess.ClockKHz(); err == nil {
		details["Clock"] = fmt.Sprintf("%d kHz", khz)
	}
	if mv, err := sess.TargetVoltageMV(); err == nil {
		details["Target voltage"] = fmt.Sprintf("%d mV", mv)
	}
	if v, err := sess.ReadDeviceVersion(); err == nil {
		details["Device"] = v.String()
	}
	details["Family"] = sess.Family().String()

	ui.PrintSuccess("Connected", details)
	return nil
}

// infoCmd implements the 'info' command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device identity, memory map and protection state",
	Long: `Identify the connected device and print its version tuple, memory
map, page sizes and readback protection state.

Unknown future silicon is reported with the geometry of the closest
known revision of its family.`,
	Example: `  nrfprobe info
  nrfprobe info --family nrf53 --coprocessor network`,
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	ui.PrintCommandHeader("Device Info", "nrfprobe info", nil)

	sess, _, err := connectTarget(ctx, nil)
	if err != nil {
		ui.PrintFailure("Device identification failed", err, connectTroubleshooting())
		return err
	}
	defer sess.Close()

	info, err := sess.ReadDeviceInfo()
	if err != nil {
		ui.PrintFailure("Device identification failed", err, connectTroubleshooting())
		return err
	}

	fmt.Printf("Device:    %s (%s)\n", info.Version.String(), sess.Family())
	fmt.Printf("Code:      0x%08X  %d KB, %d B pages\n",
		info.CodeAddress, info.CodeSize/1024, info.CodePageSize)
	fmt.Printf("RAM:       0x%08X  %d KB\n", info.RAMAddress, info.RAMSize/1024)
	fmt.Printf("UICR:      0x%08X  %d B\n", info.UICRAddress, info.UICRSize)
	if info.QSPIPresent {
		fmt.Printf("XIP:       0x%08X  %d KB\n", info.XIPAddress, info.XIPSize/1024)
	}

	if m, err := sess.MemoryMap(); err == nil {
		fmt.Println("\nMemory map:")
		for _, region := range m {
			fmt.Printf("  %-8s 0x%08X-0x%08X  %s\n",
				region.Type, region.Start, region.End()-1, region.Label)
		}
	}

	status, err := sess.ReadbackStatus()
	if err != nil {
		ui.PrintFailure("Protection status read failed", err, []string{
			"About protection levels: " + urls.ReadbackProtection,
		})
		return err
	}
	fmt.Printf("\nReadback protection: %s\n", status)
	if status != nrf.ProtectionNone {
		fmt.Println("  Clearing protection erases the device: nrfprobe recover")
	}
	return nil
}

// programCmd implements the 'program' command
var programCmd = &cobra.Command{
	Use:   "program FILE",
	Short: "Program a firmware image into flash, UICR or QSPI",
	Long: `Program a firmware image into the device. Intel HEX images carry
their own addresses; flat binary images are placed at --addr.

Image segments are routed by address: code flash and UICR are written
through the NVMC, XIP-mapped segments go to the external QSPI flash.
The erase strategy, verify action and final reset are selectable.`,
	Example: `  # Mass erase, program and verify an application
  nrfprobe program build/zephyr/zephyr.hex --verify read

  # Touch only the pages the image covers, then pin-reset
  nrfprobe program app.hex --erase pages --reset pin

  # Place a binary blob at an explicit address
  nrfprobe program blob.bin --addr 0x26000 --erase pages`,
	Args: cobra.ExactArgs(1),
	RunE: runProgram,
}

func init() {
	programCmd.Flags().StringVar(&programVerify, "verify", "", "Verify action after programming: none, read or hash")
	programCmd.Flags().StringVar(&programErase, "erase", "all", "Erase before programming: none, all, pages or pages-uicr")
	programCmd.Flags().StringVar(&programQSPIErase, "qspi-erase", "none", "QSPI erase before programming: none or all")
	programCmd.Flags().StringVar(&programReset, "reset", "system", "Reset after programming: none, system, debug, pin or hard")
	programCmd.Flags().StringVar(&programAddr, "addr", "0", "Load address for flat binary images")
}

func runProgram(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	opts, err := programOptions()
	if err != nil {
		return err
	}
	binAddr, err := parseAddr(programAddr)
	if err != nil {
		return err
	}

	img, err := firmware.LoadFile(args[0], binAddr)
	if err != nil {
		ui.PrintFailure("Cannot load image", err, []string{
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
		Title:   "Program",
		Command: "nrfprobe program",
		Params: map[string]string{
			"Image":  fmt.Sprintf("%s (%d bytes)", args[0], img.TotalBytes()),
			"Erase":  programErase,
			"Verify": verifyName(opts.Verify),
			"Reset":  programReset,
		},
	})

	return runner.Run(ctx, func(_ ui.StepCallback) error {
		sess, _, err := connectTarget(ctx, runner.OnPhase)
		if err != nil {
			return err
		}
		defer sess.Close()
		return sess.Program(img, opts)
	})
}

// programOptions maps the program flags onto the session options,
// filling the verify default from the registry.
func programOptions() (nrf.ProgramOptions, error) {
	opts := nrf.DefaultProgramOptions()

	verify := programVerify
	if verify == "" {
		verify = "none"
		reg := loadUserRegistry()
		if reg.Preferences != nil && reg.Preferences.Verify != "" {
			verify = reg.Preferences.Verify
		}
	}
	v, err := parseVerifyAction(verify)
	if err != nil {
		return opts, err
	}
	opts.Verify = v

	e, err := parseEraseAction(programErase)
	if err != nil {
		return opts, err
	}
	opts.ChipErase = e

	switch programQSPIErase {
	case "none":
		opts.QSPIChipErase = nrf.EraseNone
	case "all":
		opts.QSPIChipErase = nrf.EraseAll
	default:
		return opts, fmt.Errorf("unknown qspi-erase action %q, expected none or all", programQSPIErase)
	}

	r, err := parseResetAction(programReset)
	if err != nil {
		return opts, err
	}
	opts.Reset = r
	return opts, nil
}

func verifyName(v nrf.VerifyAction) string {
	switch v {
	case nrf.VerifyRead:
		return "read"
	case nrf.VerifyHash:
		return "hash"
	default:
		return "none"
	}
}

// verifyCmd implements the 'verify' command
var verifyCmd = &cobra.Command{
	Use:   "verify FILE",
	Short: "Verify device contents against a firmware image",
	Long: `Compare the device contents against a firmware image without
writing anything. The read method compares byte by byte; the hash
method compares SHA-256 digests computed over each image segment.`,
	Example: `  nrfprobe verify build/zephyr/zephyr.hex
  nrfprobe verify app.bin --addr 0x26000 --method hash`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyMethod, "method", "read", "Verify method: read or hash")
	verifyCmd.Flags().StringVar(&verifyAddr, "addr", "0", "Load address for flat binary images")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	action, err := parseVerifyAction(verifyMethod)
	if err != nil {
		return err
	}
	if action == nrf.VerifyNone {
		return fmt.Errorf("verify method must be read or hash")
	}
	binAddr, err := parseAddr(verifyAddr)
	if err != nil {
		return err
	}

	img, err := firmware.LoadFile(args[0], binAddr)
	if err != nil {
		ui.PrintFailure("Cannot load image", err, []string{
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
		Title:   "Verify",
		Command: "nrfprobe verify",
		Params: map[string]string{
			"Image":  fmt.Sprintf("%s (%d bytes)", args[0], img.TotalBytes()),
			"Method": verifyMethod,
		},
	})

	return runner.Run(ctx, func(_ ui.StepCallback) error {
		sess, _, err := connectTarget(ctx, runner.OnPhase)
		if err != nil {
			return err
		}
		defer sess.Close()
		return sess.Verify(img, action)
	})
}

// readCmd implements the 'read' command
var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read device memory to the terminal or a file",
	Long: `Read device memory. With --addr and --length the range is shown as
a hex dump, or written raw when --output is given.

Without --addr, whole regions are read into an image file: code flash
by default, plus any of --uicr, --ficr, --ram and --qspi. The output
format follows the file extension (.hex or .bin).`,
	Example: `  # Dump the vector table
  nrfprobe read --addr 0x0 --length 256

  # Save code flash and UICR to an Intel HEX file
  nrfprobe read --uicr --output device.hex

  # Save a raw range
  nrfprobe read --addr 0x26000 --length 4096 --output app.bin`,
	RunE: runRead,
}

func init() {
	readCmd.Flags().StringVar(&readAddr, "addr", "", "Start address of a raw range read")
	readCmd.Flags().Uint32VarP(&readLength, "length", "n", 256, "Byte count for a raw range read")
	readCmd.Flags().StringVar(&readOutput, "output", "", "Write to this file instead of the terminal")
	readCmd.Flags().BoolVar(&readCode, "code", true, "Include code flash in a region read")
	readCmd.Flags().BoolVar(&readUICR, "uicr", false, "Include the UICR in a region read")
	readCmd.Flags().BoolVar(&readFICR, "ficr", false, "Include the FICR in a region read")
	readCmd.Flags().BoolVar(&readRAM, "ram", false, "Include data RAM in a region read")
	readCmd.Flags().BoolVar(&readQSPI, "qspi", false, "Include external QSPI flash in a region read")
}

func runRead(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	sess, _, err := connectTarget(ctx, nil)
	if err != nil {
		ui.PrintFailure("Read failed", err, connectTroubleshooting())
		return err
	}
	defer sess.Close()

	if readAddr != "" {
		return readRange(sess)
	}
	if readOutput == "" {
		return fmt.Errorf("region reads need --output, or pass --addr for a hex dump")
	}
	return readRegions(sess)
}

// readRange reads one [addr, addr+length) range and shows or saves it.
func readRange(sess *session.Session) error {
	addr, err := parseAddr(readAddr)
	if err != nil {
		return err
	}
	if readLength == 0 {
		return fmt.Errorf("--length must be at least 1")
	}

	buf := make([]byte, readLength)
	if err := sess.Read(addr, buf); err != nil {
		ui.PrintFailure("Read failed", err, []string{
			"The range must lie inside one memory region, see: nrfprobe info",
			"Protected devices read as zero or fault: " + urls.ReadbackProtection,
		})
		return err
	}

	if readOutput == "" {
		ui.PrintHexDumpBox(fmt.Sprintf("0x%08X, %d bytes", addr, len(buf)), addr, buf)
		return nil
	}

	img := firmware.NewImage()
	if err := img.Add(addr, buf); err != nil {
		return err
	}
	if err := firmware.SaveFile(readOutput, img); err != nil {
		ui.PrintFailure("Cannot write output file", err, nil)
		return err
	}
	ui.PrintSuccess("Read complete", map[string]string{
		"Range":  fmt.Sprintf("0x%08X-0x%08X", addr, addr+readLength-1),
		"Output": readOutput,
	})
	return nil
}

// readRegions reads whole memory regions into an image file.
func readRegions(sess *session.Session) error {
	opts := nrf.ReadOptions{
		ReadCode: readCode,
		ReadUICR: readUICR,
		ReadFICR: readFICR,
		ReadRAM:  readRAM,
		ReadQSPI: readQSPI,
	}

	ui.PrintPleaseWait("Reading device memory", "up to a minute for large parts")
	img, err := sess.ReadToImage(opts)
	if err != nil {
		ui.PrintFailure("Read failed", err, []string{
			"Protected devices cannot be read: " + urls.ReadbackProtection,
		})
		return err
	}
	if err := firmware.SaveFile(readOutput, img); err != nil {
		ui.PrintFailure("Cannot write output file", err, nil)
		return err
	}
	ui.PrintSuccess("Read complete", map[string]string{
		"Segments": fmt.Sprintf("%d", len(img.Segments())),
		"Bytes":    fmt.Sprintf("%d", img.TotalBytes()),
		"Output":   readOutput,
	})
	return nil
}

// writeCmd implements the 'write' command
var writeCmd = &cobra.Command{
	Use:   "write ADDR VALUE",
	Short: "Write one 32-bit word to memory",
	Long: `Write a single 32-bit word. Writes into code flash or the UICR go
through the NVMC and obey flash semantics: bits can only be cleared
until the containing page is erased.`,
	Example: `  # Configure the UICR NFC pins word
  nrfprobe write 0x1000120C 0xFFFFFFFE

  # Poke a RAM location
  nrfprobe write 0x20000000 0x12345678`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().BoolVar(&writeVerify, "verify", false, "Read the word back and compare")
}

func runWrite(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	value64, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid value %q", args[1])
	}
	value := uint32(value64)

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	sess, _, err := connectTarget(ctx, nil)
	if err != nil {
		ui.PrintFailure("Write failed", err, connectTroubleshooting())
		return err
	}
	defer sess.Close()

	if err := sess.WriteU32(addr, value); err != nil {
		ui.PrintFailure("Write failed", err, []string{
			"Flash writes can only clear bits, erase the page first",
			"The address must lie in a writable region, see: nrfprobe info",
		})
		return err
	}

	details := map[string]string{
		"Address": fmt.Sprintf("0x%08X", addr),
		"Value":   fmt.Sprintf("0x%08X", value),
	}
	if writeVerify {
		got, err := sess.ReadU32(addr)
		if err != nil {
			ui.PrintFailure("Readback failed", err, nil)
			return err
		}
		if got != value {
			err := fmt.Errorf("readback mismatch at 0x%08X: wrote 0x%08X, read 0x%08X", addr, value, got)
			ui.PrintFailure("Readback mismatch", err, []string{
				"Flash writes need an erased destination page",
			})
			return err
		}
		details["Readback"] = "match"
	}
	ui.PrintSuccess("Write complete", details)
	return nil
}

// eraseCmd implements the 'erase' command
var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase flash pages, the UICR or the whole device",
	Long: `Erase device flash. Pick exactly one scope:

  --all          mass erase of code flash and UICR
  --uicr         the UICR page only
  --page ADDR    the single page containing ADDR
  --from/--to    every page overlapping [from, to)

A mass erase asks for confirmation on a terminal; pass --yes or run
with --headless to skip it.`,
	Example: `  nrfprobe erase --all
  nrfprobe erase --page 0x26000
  nrfprobe erase --from 0x26000 --to 0x40000
  nrfprobe erase --uicr`,
	RunE: runErase,
}

func init() {
	eraseCmd.Flags().BoolVar(&eraseAllFlag, "all", false, "Mass erase code flash and UICR")
	eraseCmd.Flags().BoolVar(&eraseUICRFlag, "uicr", false, "Erase the UICR page")
	eraseCmd.Flags().StringVar(&erasePageAddr, "page", "", "Erase the page containing this address")
	eraseCmd.Flags().StringVar(&eraseFrom, "from", "", "Erase range start address")
	eraseCmd.Flags().StringVar(&eraseTo, "to", "", "Erase range end address (exclusive)")
	eraseCmd.Flags().BoolVar(&eraseYes, "yes", false, "Skip the confirmation prompt")
}

func runErase(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	scopes := 0
	for _, set := range []bool{eraseAllFlag, eraseUICRFlag, erasePageAddr != "", eraseFrom != "" || eraseTo != ""} {
		if set {
			scopes++
		}
	}
	if scopes != 1 {
		return fmt.Errorf("pick exactly one of --all, --uicr, --page or --from/--to")
	}

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	if eraseAllFlag && !eraseYes && !headlessMode(loadUserRegistry()) && ui.IsInteractive() {
		if !ui.EraseAllConfirmation() {
			return nil
		}
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Erase",
		Command: "nrfprobe erase",
		Params:  map[string]string{"Scope": eraseScopeName()},
	})

	return runner.Run(ctx, func(_ ui.StepCallback) error {
		sess, _, err := connectTarget(ctx, runner.OnPhase)
		if err != nil {
			return err
		}
		defer sess.Close()

		switch {
		case eraseAllFlag:
			return sess.EraseAll()
		case eraseUICRFlag:
			return sess.EraseUICR()
		case erasePageAddr != "":
			addr, err := parseAddr(erasePageAddr)
			if err != nil {
				return err
			}
			return sess.ErasePage(addr)
		default:
			if eraseFrom == "" || eraseTo == "" {
				return fmt.Errorf("range erase needs both --from and --to")
			}
			start, err := parseAddr(eraseFrom)
			if err != nil {
				return err
			}
			end, err := parseAddr(eraseTo)
			if err != nil {
				return err
			}
			return sess.Erase(nrf.ErasePages, start, end)
		}
	})
}

func eraseScopeName() string {
	switch {
	case eraseAllFlag:
		return "all (code flash + UICR)"
	case eraseUICRFlag:
		return "UICR"
	case erasePageAddr != "":
		return "page at " + erasePageAddr
	default:
		return fmt.Sprintf("pages %s-%s", eraseFrom, eraseTo)
	}
}

// recoverCmd implements the 'recover' command
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Erase a protected device through the CTRL-AP",
	Long: `Recover a device whose access port is protected. The erase is driven
through the CTRL-AP mailbox, so it works when normal debug access is
locked out. ALL flash, UICR and RAM contents are lost.

On nRF52 revisions without a CTRL-AP the same result is reached with a
mass erase through the NVMC.`,
	Example: `  nrfprobe recover
  nrfprobe recover --yes --serial 683551234`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverYes, "yes", false, "Skip the confirmation prompt")
}

func runRecover(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	if !recoverYes && !headlessMode(loadUserRegistry()) && ui.IsInteractive() {
		if !ui.RecoverConfirmation() {
			return nil
		}
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Recover",
		Command: "nrfprobe recover",
		Params:  nil,
	})

	err = runner.Run(ctx, func(_ ui.StepCallback) error {
		sess, _, err := connectTarget(ctx, runner.OnPhase)
		if err != nil {
			return err
		}
		defer sess.Close()
		return sess.Recover()
	})
	if err != nil {
		fmt.Println("  Recovery guide: " + urls.ReadbackProtection)
	}
	return err
}

// protectCmd implements the 'protect' command
var protectCmd = &cobra.Command{
	Use:   "protect [LEVEL]",
	Short: "Show or set readback protection",
	Long: `Without an argument, show the current readback protection level.
With one, apply it:

  none      no protection (clearing needs a recover)
  region0   protect region 0 only (nRF51)
  all       protect the whole device
  both      region 0 and the whole device (nRF51)
  secure    protect the secure domain only (nRF53/91)

Protection takes effect after the next reset. It cannot be weakened in
place; the only way back is 'nrfprobe recover', which erases the
device.`,
	Example: `  nrfprobe protect
  nrfprobe protect all
  nrfprobe protect secure --family nrf91`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProtect,
}

func init() {
	protectCmd.Flags().BoolVar(&protectYes, "yes", false, "Skip the confirmation prompt")
}

func runProtect(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	sess, _, err := connectTarget(ctx, nil)
	if err != nil {
		ui.PrintFailure("Connect failed", err, connectTroubleshooting())
		return err
	}
	defer sess.Close()

	status, err := sess.ReadbackStatus()
	if err != nil {
		ui.PrintFailure("Protection status read failed", err, []string{
			"About protection levels: " + urls.ReadbackProtection,
		})
		return err
	}

	if len(args) == 0 {
		ui.PrintSuccess("Readback protection", map[string]string{"Level": status.String()})
		return nil
	}

	level, err := parseProtectionLevel(args[0])
	if err != nil {
		return err
	}

	if level != nrf.ProtectionNone && !protectYes && !headlessMode(loadUserRegistry()) && ui.IsInteractive() {
		ok := ui.ConfirmDangerousOperation(
			"READBACK PROTECTION",
			[]string{
				"Debug access locks after the next reset",
				"The only way back is a recover, which erases ALL flash, UICR and RAM",
				"Protection cannot be weakened in place, only removed by recover",
			},
			"")
		if !ok {
			return nil
		}
	}

	if err := sess.Protect(level); err != nil {
		ui.PrintFailure("Protect failed", err, []string{
			"About protection levels: " + urls.ReadbackProtection,
		})
		return err
	}
	ui.PrintSuccess("Protection set", map[string]string{
		"Level": level.String(),
		"Note":  "takes effect after the next reset",
	})
	return nil
}
