package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nrfprobe/nrfprobe/internal/config"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/session"
	"github.com/nrfprobe/nrfprobe/internal/ui"
)

var (
	resetKind  string
	ramSection uint32
)

func init() {
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(cpuCmd)
	rootCmd.AddCommand(ramCmd)
	rootCmd.AddCommand(coprocCmd)
	rootCmd.AddCommand(configCmd)

	cpuCmd.AddCommand(cpuHaltCmd)
	cpuCmd.AddCommand(cpuRunCmd)
	cpuCmd.AddCommand(cpuStepCmd)
	cpuCmd.AddCommand(cpuRegsCmd)

	ramCmd.AddCommand(ramPowerCmd)
	ramCmd.AddCommand(ramOffCmd)

	coprocCmd.AddCommand(coprocEnableCmd)
	coprocCmd.AddCommand(coprocDisableCmd)
	coprocCmd.AddCommand(coprocStatusCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configNicknameCmd)
	configCmd.AddCommand(configClockCmd)
	configCmd.AddCommand(configRTTCmd)
}

// resetCmd implements the 'reset' command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the device",
	Long: `Reset the device and leave it running.

  system   SYSRESETREQ through the core (default)
  debug    reset via the CTRL-AP, debug state survives
  pin      toggle the physical reset line
  hard     pin reset with the longest hold time`,
	Example: `  nrfprobe reset
  nrfprobe reset --kind pin`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetKind, "kind", "system", "Reset kind: system, debug, pin or hard")
}

func runReset(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	action, err := parseResetAction(resetKind)
	if err != nil {
		return err
	}
	if action == nrf.ResetNone {
		return fmt.Errorf("reset kind must be system, debug, pin or hard")
	}

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	sess, _, err := connectTarget(ctx, nil)
	if err != nil {
		ui.PrintFailure("Reset failed", err, connectTroubleshooting())
		return err
	}
	defer sess.Close()

	if err := sess.Reset(action); err != nil {
		ui.PrintFailure("Reset failed", err, connectTroubleshooting())
		return err
	}
	ui.PrintSuccess("Device reset", map[string]string{"Kind": resetKind})
	return nil
}

// cpuCmd groups the core debug commands
var cpuCmd = &cobra.Command{
	Use:   "cpu",
	Short: "Halt, run, step and inspect the CPU",
	Long: `Core debug control. The device stays attached only for the duration
of one command; halt state persists on the target between commands.`,
	Example: `  nrfprobe cpu halt
  nrfprobe cpu regs
  nrfprobe cpu step
  nrfprobe cpu run`,
}

var cpuHaltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Halt the CPU",
	RunE:  runCPUHalt,
}

var cpuRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Resume the CPU",
	RunE:  runCPURun,
}

var cpuStepCmd = &cobra.Command{
	Use:   "step",
	Short: "Single step one instruction",
	RunE:  runCPUStep,
}

var cpuRegsCmd = &cobra.Command{
	Use:   "regs",
	Short: "Show the core registers",
	RunE:  runCPURegs,
}

// withDevice handles the session plumbing shared by the short device
// commands.
func withDevice(cmd *cobra.Command, title string, fn func(sess *session.Session) error) error {
	cmd.SilenceUsage = true

	ctx, cancel, err := commandContext()
	if err != nil {
		return err
	}
	defer cancel()

	sess, _, err := connectTarget(ctx, nil)
	if err != nil {
		ui.PrintFailure(title+" failed", err, connectTroubleshooting())
		return err
	}
	defer sess.Close()

	if err := fn(sess); err != nil {
		ui.PrintFailure(title+" failed", err, connectTroubleshooting())
		return err
	}
	return nil
}

func runCPUHalt(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, "Halt", func(sess *session.Session) error {
		if err := sess.Halt(); err != nil {
			return err
		}
		pc, err := sess.ReadCPURegister(nrf.RegPC)
		if err != nil {
			return err
		}
		ui.PrintSuccess("CPU halted", map[string]string{"PC": fmt.Sprintf("0x%08X", pc)})
		return nil
	})
}

func runCPURun(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, "Run", func(sess *session.Session) error {
		if err := sess.Run(); err != nil {
			return err
		}
		ui.PrintSuccess("CPU running", nil)
		return nil
	})
}

func runCPUStep(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, "Step", func(sess *session.Session) error {
		if err := sess.Step(); err != nil {
			return err
		}
		pc, err := sess.ReadCPURegister(nrf.RegPC)
		if err != nil {
			return err
		}
		ui.PrintSuccess("Stepped", map[string]string{"PC": fmt.Sprintf("0x%08X", pc)})
		return nil
	})
}

// coreRegisters lists the debug register file in display order.
var coreRegisters = []struct {
	name string
	reg  nrf.CPURegister
}{
	{"R0", nrf.RegR0}, {"R1", nrf.RegR1}, {"R2", nrf.RegR2}, {"R3", nrf.RegR3},
	{"R4", nrf.RegR4}, {"R5", nrf.RegR5}, {"R6", nrf.RegR6}, {"R7", nrf.RegR7},
	{"R8", nrf.RegR8}, {"R9", nrf.RegR9}, {"R10", nrf.RegR10}, {"R11", nrf.RegR11},
	{"R12", nrf.RegR12}, {"SP", nrf.RegSP}, {"LR", nrf.RegLR}, {"PC", nrf.RegPC},
	{"XPSR", nrf.RegXPSR}, {"MSP", nrf.RegMSP}, {"PSP", nrf.RegPSP},
}

func runCPURegs(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, "Register read", func(sess *session.Session) error {
		halted, err := sess.IsHalted()
		if err != nil {
			return err
		}
		if !halted {
			if err := sess.Halt(); err != nil {
				return err
			}
			defer func() { _ = sess.Run() }()
		}
		for i, r := range coreRegisters {
			v, err := sess.ReadCPURegister(r.reg)
			if err != nil {
				return err
			}
			fmt.Printf("%-4s 0x%08X", r.name, v)
			if i%4 == 3 || i == len(coreRegisters)-1 {
				fmt.Println()
			} else {
				fmt.Print("   ")
			}
		}
		return nil
	})
}

// ramCmd implements the 'ram' command tree
var ramCmd = &cobra.Command{
	Use:   "ram",
	Short: "Show and control RAM section power",
	Long: `Show the power state of the RAM sections, power them all on, or
power one off. Unpowered sections lose their contents and read back as
garbage; mass erase and recover power everything back on.`,
	Example: `  nrfprobe ram
  nrfprobe ram power
  nrfprobe ram off --section 7`,
	RunE: runRAMStatus,
}

var ramPowerCmd = &cobra.Command{
	Use:   "power",
	Short: "Power every RAM section on",
	RunE:  runRAMPower,
}

var ramOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Power one RAM section off",
	RunE:  runRAMOff,
}

func init() {
	ramOffCmd.Flags().Uint32Var(&ramSection, "section", 0, "Section index to power off")
	ramOffCmd.MarkFlagRequired("section")
}

func runRAMStatus(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, "RAM status", func(sess *session.Session) error {
		states, count, size, err := sess.IsRAMPowered()
		if err != nil {
			return err
		}
		fmt.Printf("%d sections of %d KB\n", count, size/1024)
		for i, st := range states {
			fmt.Printf("  section %-2d  %s\n", i, st)
		}
		return nil
	})
}

func runRAMPower(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, "RAM power", func(sess *session.Session) error {
		if err := sess.PowerRAMAll(); err != nil {
			return err
		}
		ui.PrintSuccess("All RAM sections powered", nil)
		return nil
	})
}

func runRAMOff(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, "RAM power", func(sess *session.Session) error {
		if err := sess.UnpowerRAMSection(ramSection); err != nil {
			return err
		}
		ui.PrintSuccess("RAM section powered off", map[string]string{
			"Section": fmt.Sprintf("%d", ramSection),
			"Note":    "its contents are lost",
		})
		return nil
	})
}

// coprocCmd implements the 'coprocessor' command tree
var coprocCmd = &cobra.Command{
	Use:     "coprocessor",
	Aliases: []string{"coproc"},
	Short:   "Control the nRF53 network core and nRF91 peer cores",
	Long: `Release a peer core from force-off or force it off again. The
argument names the core; it defaults to the network core.

Commands addressing the peer core itself (program, rtt, ...) select it
with the persistent --coprocessor flag instead.`,
	Example: `  nrfprobe coprocessor status
  nrfprobe coprocessor enable network
  nrfprobe coprocessor disable network`,
}

var coprocEnableCmd = &cobra.Command{
	Use:   "enable [CORE]",
	Short: "Release a peer core from force-off",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCoprocEnable,
}

var coprocDisableCmd = &cobra.Command{
	Use:   "disable [CORE]",
	Short: "Force a peer core off",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCoprocDisable,
}

var coprocStatusCmd = &cobra.Command{
	Use:   "status [CORE]",
	Short: "Show a peer core's power state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCoprocStatus,
}

// peerCore parses the optional core argument, defaulting to the network
// core as the common peer.
func peerCore(args []string) (nrf.CoProcessor, error) {
	if len(args) == 0 {
		return nrf.CPNetwork, nil
	}
	return parseCoprocessor(args[0])
}

func runCoprocEnable(cmd *cobra.Command, args []string) error {
	cp, err := peerCore(args)
	if err != nil {
		return err
	}
	return withDevice(cmd, "Coprocessor enable", func(sess *session.Session) error {
		if err := sess.EnableCoprocessor(cp); err != nil {
			return err
		}
		ui.PrintSuccess("Coprocessor enabled", map[string]string{"Core": cp.String()})
		return nil
	})
}

func runCoprocDisable(cmd *cobra.Command, args []string) error {
	cp, err := peerCore(args)
	if err != nil {
		return err
	}
	return withDevice(cmd, "Coprocessor disable", func(sess *session.Session) error {
		if err := sess.DisableCoprocessor(cp); err != nil {
			return err
		}
		ui.PrintSuccess("Coprocessor disabled", map[string]string{"Core": cp.String()})
		return nil
	})
}

func runCoprocStatus(cmd *cobra.Command, args []string) error {
	cp, err := peerCore(args)
	if err != nil {
		return err
	}
	return withDevice(cmd, "Coprocessor status", func(sess *session.Session) error {
		on, err := sess.IsCoprocessorEnabled(cp)
		if err != nil {
			return err
		}
		state := "OFF"
		if on {
			state = "ON"
		}
		ui.PrintSuccess("Coprocessor status", map[string]string{"Core": cp.String(), "State": state})
		return nil
	})
}

// configCmd implements the 'config' command tree
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage probe nicknames and preferences",
	Long: `Manage the user configuration file: probe nicknames, preferred SWD
clocks, pinned RTT control blocks and application preferences.`,
	Example: `  nrfprobe config show
  nrfprobe config nickname 683551234 "bench DK"
  nrfprobe config clock 683551234 8000
  nrfprobe config rtt 683551234 0x20002000 0`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active configuration",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	RunE:  runConfigPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default configuration file",
	RunE:  runConfigInit,
}

var configNicknameCmd = &cobra.Command{
	Use:   "nickname SERIAL NAME",
	Short: "Set a nickname for a probe",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigNickname,
}

var configClockCmd = &cobra.Command{
	Use:   "clock SERIAL KHZ",
	Short: "Set the preferred SWD clock for a probe",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigClock,
}

var configRTTCmd = &cobra.Command{
	Use:   "rtt SERIAL ADDR CHANNEL",
	Short: "Pin the RTT control block for a probe's target",
	Long: `Pin the RTT control block address and default terminal channel for
the target wired to a probe. A pinned address skips the RAM scan on
every RTT start. Pin address 0 to return to scanning.`,
	Args: cobra.ExactArgs(3),
	RunE: runConfigRTT,
}

// configSerialArg validates and canonicalizes a serial number argument.
func configSerialArg(s string) (string, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return "", fmt.Errorf("invalid probe serial %q", s)
	}
	return serialKey(uint32(n)), nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	if err := config.CreateDefaultConfig(); err != nil {
		ui.PrintFailure("Cannot write default config", err, nil)
		return err
	}
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	ui.PrintSuccess("Default configuration written", map[string]string{"Path": path})
	return nil
}

func runConfigNickname(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	key, err := configSerialArg(args[0])
	if err != nil {
		return err
	}
	reg := loadUserRegistry()
	reg.SetProbeNickname(key, args[1])
	if err := reg.Save(); err != nil {
		return err
	}
	ui.PrintSuccess("Nickname saved", map[string]string{"Probe": key, "Nickname": args[1]})
	return nil
}

func runConfigClock(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	key, err := configSerialArg(args[0])
	if err != nil {
		return err
	}
	khz, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid clock %q", args[1])
	}
	reg := loadUserRegistry()
	reg.SetProbeClock(key, uint32(khz))
	if err := reg.Save(); err != nil {
		return err
	}
	ui.PrintSuccess("Clock preference saved", map[string]string{
		"Probe": key,
		"Clock": fmt.Sprintf("%d kHz", khz),
	})
	return nil
}

func runConfigRTT(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	key, err := configSerialArg(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	channel, err := strconv.Atoi(args[2])
	if err != nil || channel < 0 {
		return fmt.Errorf("invalid channel %q", args[2])
	}
	reg := loadUserRegistry()
	reg.PinRTT(key, addr, channel)
	if err := reg.Save(); err != nil {
		return err
	}
	ui.PrintSuccess("RTT defaults pinned", map[string]string{
		"Probe":         key,
		"Control block": fmt.Sprintf("0x%08X", addr),
		"Channel":       fmt.Sprintf("%d", channel),
	})
	return nil
}
