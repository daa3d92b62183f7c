package urls

// Documentation URLs for guides and troubleshooting
// All URLs point to the documentation site at https://nrfprobe.github.io/nrfprobe/

// GettingStarted is the quick start guide for new users
// to get a probe and a development kit talking.
const GettingStarted = "https://nrfprobe.github.io/nrfprobe/getting-started/overview/"

// ProbeSetup is the probe installation guide, covering drivers,
// udev rules and network probe configuration.
const ProbeSetup = "https://nrfprobe.github.io/nrfprobe/guides/probe-setup/"

// ReadbackProtection explains the access port protection levels,
// what they block, and how recover erases a locked device.
const ReadbackProtection = "https://nrfprobe.github.io/nrfprobe/guides/readback-protection/"

// SerialRecovery is the guide for programming without a debug probe:
// MCUboot serial recovery and the modem UART loader, including
// serial port permissions.
const SerialRecovery = "https://nrfprobe.github.io/nrfprobe/guides/serial-recovery/"

// RTTUsage covers RTT control block placement, channel configuration
// and the WebSocket bridge.
const RTTUsage = "https://nrfprobe.github.io/nrfprobe/guides/rtt/"

// QSPIConfiguration explains how to describe an external flash part
// so the XIP region can be programmed.
const QSPIConfiguration = "https://nrfprobe.github.io/nrfprobe/guides/qspi/"

// TroubleshootingGuide provides solutions to common issues
// encountered with probes, targets, and serial recovery.
const TroubleshootingGuide = "https://nrfprobe.github.io/nrfprobe/guides/troubleshooting/"
