package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/session"
	"github.com/nrfprobe/nrfprobe/internal/ui"
	"github.com/nrfprobe/nrfprobe/internal/urls"
)

var (
	qspiRetainRAM  bool
	qspiAddr       string
	qspiReadLength uint32
	qspiOutput     string
	qspiEraseSize  string
	qspiRespLength uint32
)

func init() {
	rootCmd.AddCommand(qspiCmd)

	qspiCmd.PersistentFlags().BoolVar(&qspiRetainRAM, "retain-ram", false, "Save and restore the RAM the QSPI driver borrows")

	qspiCmd.AddCommand(qspiReadCmd)
	qspiCmd.AddCommand(qspiWriteCmd)
	qspiCmd.AddCommand(qspiEraseCmd)
	qspiCmd.AddCommand(qspiCustomCmd)
}

// qspiCmd implements the 'qspi' command tree
var qspiCmd = &cobra.Command{
	Use:   "qspi",
	Short: "Access external flash behind the QSPI peripheral",
	Long: `Talk to the external flash connected to the QSPI peripheral. Each
command configures the peripheral with the standard quad-IO settings
first; parts needing different modes can be described in the device
registry, see ` + urls.QSPIConfiguration + `

Programming an image whose segments fall in the XIP address range goes
through 'nrfprobe program' instead, which routes them here.`,
	Example: `  # Dump the first flash page
  nrfprobe qspi read --addr 0 --length 256

  # Erase one 4 KB sector and write a marker
  nrfprobe qspi erase --addr 0x1000 --size 4kb
  nrfprobe qspi write 0x1000 deadbeef

  # Read the JEDEC ID with a custom instruction
  nrfprobe qspi custom 0x9F --length 3`,
}

// qspiReadCmd implements 'qspi read'
var qspiReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read external flash",
	RunE:  runQSPIRead,
}

// qspiWriteCmd implements 'qspi write'
var qspiWriteCmd = &cobra.Command{
	Use:   "write ADDR DATA",
	Short: "Write hex bytes to external flash",
	Long: `Write bytes, given as a hex string, at an offset in the external
flash. Like on-chip flash, writes only clear bits; erase the sector
first to set them.`,
	Args: cobra.ExactArgs(2),
	RunE: runQSPIWrite,
}

// qspiEraseCmd implements 'qspi erase'
var qspiEraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase external flash sectors",
	RunE:  runQSPIErase,
}

// qspiCustomCmd implements 'qspi custom'
var qspiCustomCmd = &cobra.Command{
	Use:   "custom OPCODE [DATA]",
	Short: "Issue a custom flash instruction",
	Long: `Issue a raw instruction to the external flash and print the
response. DATA is a hex string clocked out after the opcode; --length
pads the transfer so that many response bytes are clocked in.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQSPICustom,
}

func init() {
	qspiReadCmd.Flags().StringVar(&qspiAddr, "addr", "0", "Offset in the external flash")
	qspiReadCmd.Flags().Uint32VarP(&qspiReadLength, "length", "n", 256, "Byte count")
	qspiReadCmd.Flags().StringVar(&qspiOutput, "output", "", "Write to this file instead of the terminal")

	qspiEraseCmd.Flags().StringVar(&qspiAddr, "addr", "0", "Offset in the external flash")
	qspiEraseCmd.Flags().StringVar(&qspiEraseSize, "size", "4kb", "Erase granularity: 4kb, 32kb, 64kb or all")

	qspiCustomCmd.Flags().Uint32VarP(&qspiRespLength, "length", "n", 0, "Response bytes to clock in")
}

func parseQSPIEraseLen(s string) (nrf.QSPIEraseLen, error) {
	switch s {
	case "4kb":
		return nrf.QSPIErase4KB, nil
	case "32kb":
		return nrf.QSPIErase32KB, nil
	case "64kb":
		return nrf.QSPIErase64KB, nil
	case "all":
		return nrf.QSPIEraseAll, nil
	}
	return nrf.QSPIErase4KB, fmt.Errorf("unknown erase size %q, expected 4kb, 32kb, 64kb or all", s)
}

// withQSPI connects, brings the QSPI peripheral up and tears it down
// around fn.
func withQSPI(cmd *cobra.Command, title string, fn func(sess *session.Session) error) error {
	return withDevice(cmd, title, func(sess *session.Session) error {
		if err := sess.QSPIInit(qspiRetainRAM, nrf.DefaultQSPIInitParams()); err != nil {
			ui.PrintFailure(title+" failed", err, []string{
				"The device must have a QSPI peripheral (nRF52840, nRF53)",
				"Custom flash parts need their own settings: " + urls.QSPIConfiguration,
			})
			return err
		}
		defer func() { _ = sess.QSPIUninit() }()
		return fn(sess)
	})
}

func runQSPIRead(cmd *cobra.Command, args []string) error {
	return withQSPI(cmd, "QSPI read", func(sess *session.Session) error {
		addr, err := parseAddr(qspiAddr)
		if err != nil {
			return err
		}
		if qspiReadLength == 0 {
			return fmt.Errorf("--length must be at least 1")
		}

		buf := make([]byte, qspiReadLength)
		if err := sess.QSPIRead(addr, buf); err != nil {
			return err
		}

		if qspiOutput == "" {
			ui.PrintHexDumpBox(fmt.Sprintf("QSPI 0x%08X, %d bytes", addr, len(buf)), addr, buf)
			return nil
		}
		img := firmware.NewImage()
		if err := img.Add(addr, buf); err != nil {
			return err
		}
		if err := firmware.SaveFile(qspiOutput, img); err != nil {
			return err
		}
		ui.PrintSuccess("QSPI read complete", map[string]string{"Output": qspiOutput})
		return nil
	})
}

func runQSPIWrite(cmd *cobra.Command, args []string) error {
	return withQSPI(cmd, "QSPI write", func(sess *session.Session) error {
		addr, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("DATA must be a hex string: %w", err)
		}
		if len(data) == 0 {
			return fmt.Errorf("DATA must not be empty")
		}
		if err := sess.QSPIWrite(addr, data); err != nil {
			return err
		}
		ui.PrintSuccess("QSPI write complete", map[string]string{
			"Address": fmt.Sprintf("0x%08X", addr),
			"Bytes":   fmt.Sprintf("%d", len(data)),
		})
		return nil
	})
}

func runQSPIErase(cmd *cobra.Command, args []string) error {
	return withQSPI(cmd, "QSPI erase", func(sess *session.Session) error {
		addr, err := parseAddr(qspiAddr)
		if err != nil {
			return err
		}
		size, err := parseQSPIEraseLen(qspiEraseSize)
		if err != nil {
			return err
		}
		if err := sess.QSPIErase(addr, size); err != nil {
			return err
		}
		ui.PrintSuccess("QSPI erase complete", map[string]string{
			"Address": fmt.Sprintf("0x%08X", addr),
			"Size":    size.String(),
		})
		return nil
	})
}

func runQSPICustom(cmd *cobra.Command, args []string) error {
	return withQSPI(cmd, "QSPI instruction", func(sess *session.Session) error {
		opcode64, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return fmt.Errorf("invalid opcode %q", args[0])
		}

		var data []byte
		if len(args) == 2 {
			data, err = hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("DATA must be a hex string: %w", err)
			}
		}
		// Pad the transfer so the flash clocks out response bytes.
		if n := int(qspiRespLength) - len(data); n > 0 {
			data = append(data, make([]byte, n)...)
		}

		resp, err := sess.QSPICustom(uint8(opcode64), data)
		if err != nil {
			return err
		}
		if len(resp) == 0 {
			ui.PrintSuccess("Instruction sent", map[string]string{"Opcode": fmt.Sprintf("0x%02X", opcode64)})
			return nil
		}
		ui.PrintHexDumpBox(fmt.Sprintf("Response to 0x%02X", opcode64), 0, resp)
		return nil
	})
}
