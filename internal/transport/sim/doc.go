// Package sim is an in-memory implementation of the transport interfaces:
// simulated probes wired to simulated nRF targets with flash, UICR, FICR
// identity data, gated RAM sections, NVMC and CTRL-AP behavior, block
// protection, a QSPI peripheral with external flash, and RAM a test can
// plant an RTT control block in.
//
// The model follows the hardware contract the programming engine relies
// on: flash writes AND into existing content, protection latches from UICR
// words at reset, CTRL-AP survives access-port protection, unpowered RAM
// faults instead of returning data. Tests build a Target, attach it to a
// Probe on a Driver, and run the full session stack against it.
package sim
