package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nrfprobe/nrfprobe/internal/config"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/rttserver"
	"github.com/nrfprobe/nrfprobe/internal/session"
	"github.com/nrfprobe/nrfprobe/internal/ui"
	"github.com/nrfprobe/nrfprobe/internal/urls"
)

var (
	rttCtrlBlock string
	rttChannel   int
	rttFollow    bool
	rttDuration  time.Duration
	rttNoNewline bool
	rttListen    string
	rttPoll      time.Duration
)

func init() {
	rootCmd.AddCommand(rttCmd)

	rttCmd.PersistentFlags().StringVar(&rttCtrlBlock, "ctrl-block", "", "Control block address, skips the RAM scan")
	rttCmd.PersistentFlags().IntVar(&rttChannel, "channel", -1, "Channel index (-1 = pinned or 0)")

	rttCmd.AddCommand(rttChannelsCmd)
	rttCmd.AddCommand(rttReadCmd)
	rttCmd.AddCommand(rttWriteCmd)
	rttCmd.AddCommand(rttServeCmd)
}

// rttCmd implements the 'rtt' command tree
var rttCmd = &cobra.Command{
	Use:   "rtt",
	Short: "Talk to the firmware over RTT",
	Long: `Real Time Transfer: buffered terminal IO between the firmware and
the host through RAM, with the CPU running freely.

Starting RTT scans the data RAM for the control block the firmware
placed there. The scan can be skipped by pinning the address, either
per invocation with --ctrl-block or permanently per probe with
'nrfprobe config rtt'.`,
	Example: `  # List the channels the firmware offers
  nrfprobe rtt channels

  # Follow the log channel
  nrfprobe rtt read --follow

  # Send a shell command to the firmware
  nrfprobe rtt write "kernel uptime"

  # Bridge channel 0 to WebSocket clients
  nrfprobe rtt serve --listen :19021`,
}

var rttChannelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the RTT channels",
	RunE:  runRTTChannels,
}

var rttReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read from an up channel",
	Long: `Read buffered data from an up channel and print it. With --follow
the channel is polled until interrupted or --duration elapses.`,
	RunE: runRTTRead,
}

var rttWriteCmd = &cobra.Command{
	Use:   "write TEXT",
	Short: "Write to a down channel",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRTTWrite,
}

var rttServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bridge an RTT channel to WebSocket clients",
	Long: `Serve one RTT channel pair over WebSocket. Up-channel bytes fan out
to every connected client as binary messages; client messages feed the
down channel. Runs until interrupted or the target stops answering.`,
	Example: `  nrfprobe rtt serve --listen :19021
  nrfprobe rtt serve --listen 127.0.0.1:9090 --channel 1`,
	RunE: runRTTServe,
}

func init() {
	rttReadCmd.Flags().BoolVar(&rttFollow, "follow", false, "Keep polling until interrupted")
	rttReadCmd.Flags().DurationVar(&rttDuration, "duration", 0, "Stop following after this long (0 = until interrupted)")

	rttWriteCmd.Flags().BoolVar(&rttNoNewline, "no-newline", false, "Do not append a newline")

	rttServeCmd.Flags().StringVar(&rttListen, "listen", ":19021", "TCP listen address")
	rttServeCmd.Flags().DurationVar(&rttPoll, "poll", 0, "Target poll interval (0 = default)")
}

func rttTroubleshooting() []string {
	return []string{
		"The firmware must place an RTT control block in RAM: " + urls.RTTUsage,
		"Pin a known address: nrfprobe config rtt SERIAL ADDR CHANNEL",
		"A just-flashed device needs a reset before the control block exists",
	}
}

// withRTT handles the plumbing shared by the rtt commands: connect,
// apply the control block pin, start RTT and stop it afterwards. The
// context ends on SIGINT/SIGTERM rather than the --timeout flag, since
// rtt sessions are open-ended.
func withRTT(cmd *cobra.Command, title string, fn func(ctx context.Context, sess *session.Session, channel int) error) error {
	cmd.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, reg, err := connectTarget(ctx, nil)
	if err != nil {
		ui.PrintFailure(title+" failed", err, connectTroubleshooting())
		return err
	}
	defer sess.Close()

	if rttCtrlBlock != "" {
		addr, err := parseAddr(rttCtrlBlock)
		if err != nil {
			return err
		}
		if err := sess.RTTSetControlBlockAddress(addr); err != nil {
			return err
		}
	}

	if err := sess.RTTStart(); err != nil {
		ui.PrintFailure(title+" failed", err, rttTroubleshooting())
		return err
	}
	defer func() { _ = sess.RTTStop() }()

	if err := fn(ctx, sess, pickRTTChannel(reg, sess)); err != nil {
		ui.PrintFailure(title+" failed", err, rttTroubleshooting())
		return err
	}
	return nil
}

// pickRTTChannel resolves the channel index: the --channel flag wins,
// then the registry pin for this probe, then channel 0.
func pickRTTChannel(reg *config.Registry, sess *session.Session) int {
	if rttChannel >= 0 {
		return rttChannel
	}
	if sn, err := sess.Serial(); err == nil {
		if p := reg.GetProbe(serialKey(sn)); p != nil && p.RTT != nil {
			return p.RTT.Channel
		}
	}
	return 0
}

func runRTTChannels(cmd *cobra.Command, args []string) error {
	return withRTT(cmd, "RTT", func(ctx context.Context, sess *session.Session, _ int) error {
		up, down, err := sess.RTTChannelCount()
		if err != nil {
			return err
		}
		fmt.Println("Up channels (target to host):")
		for i := 0; i < up; i++ {
			printRTTChannel(sess, nrf.RTTUp, i)
		}
		fmt.Println("Down channels (host to target):")
		for i := 0; i < down; i++ {
			printRTTChannel(sess, nrf.RTTDown, i)
		}
		return nil
	})
}

func printRTTChannel(sess *session.Session, dir nrf.RTTDirection, index int) {
	info, err := sess.RTTChannel(dir, index)
	if err != nil {
		fmt.Printf("  %-2d  (unreadable: %v)\n", index, err)
		return
	}
	name := info.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("  %-2d  %-24s  %d B\n", index, name, info.Size)
}

func runRTTRead(cmd *cobra.Command, args []string) error {
	return withRTT(cmd, "RTT read", func(ctx context.Context, sess *session.Session, channel int) error {
		if rttFollow && rttDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, rttDuration)
			defer cancel()
		}

		buf := make([]byte, 4096)
		for {
			n, err := sess.RTTRead(channel, buf)
			if err != nil {
				return err
			}
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if !rttFollow {
				return nil
			}
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case <-time.After(10 * time.Millisecond):
			}
		}
	})
}

func runRTTWrite(cmd *cobra.Command, args []string) error {
	return withRTT(cmd, "RTT write", func(ctx context.Context, sess *session.Session, channel int) error {
		data := []byte(strings.Join(args, " "))
		if !rttNoNewline {
			data = append(data, '\n')
		}
		n, err := sess.RTTWrite(channel, data)
		if err != nil {
			return err
		}
		if n < len(data) {
			ui.PrintWarning("Down buffer full", map[string]string{
				"Written": fmt.Sprintf("%d of %d bytes", n, len(data)),
			})
			return nil
		}
		ui.PrintSuccess("Sent", map[string]string{
			"Channel": fmt.Sprintf("%d", channel),
			"Bytes":   fmt.Sprintf("%d", n),
		})
		return nil
	})
}

func runRTTServe(cmd *cobra.Command, args []string) error {
	return withRTT(cmd, "RTT bridge", func(ctx context.Context, sess *session.Session, channel int) error {
		lis, err := net.Listen("tcp", rttListen)
		if err != nil {
			return fmt.Errorf("cannot listen on %s: %w", rttListen, err)
		}

		ui.PrintCommandHeader("RTT Bridge", "nrfprobe rtt serve", map[string]string{
			"Endpoint": "ws://" + lis.Addr().String(),
			"Channel":  fmt.Sprintf("%d", channel),
		})
		fmt.Println("  Press Ctrl-C to stop")

		var opts []rttserver.Option
		opts = append(opts, rttserver.WithLogger(logging.GetLogger()))
		if rttPoll > 0 {
			opts = append(opts, rttserver.WithPollInterval(rttPoll))
		}

		if err := rttserver.Serve(ctx, lis, sess, channel, opts...); err != nil {
			return err
		}
		ui.PrintSuccess("RTT bridge stopped", nil)
		return nil
	})
}
