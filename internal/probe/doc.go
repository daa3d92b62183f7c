// Package probe manages connections to SEGGER-compatible debug probes.
//
// A Connection claims exactly one probe through a transport.Driver and owns
// it until Close. The package enforces the minimum supported probe library
// version, clamps the SWD clock into the range targets tolerate, and maps
// transport failures onto the session error codes.
//
// # SWD Clock
//
// Requested clock speeds clamp into [MinClockKHz, MaxClockKHz] before they
// reach the probe; a zero request selects DefaultClockKHz. The probe itself
// may cap the result further, so SetClockKHz reports the speed actually in
// effect.
//
// # Virtual COM Ports
//
// Probes expose virtual COM ports for target UART traffic. EnumCOMPorts
// finds the ports belonging to one probe by matching USB serial numbers,
// which serial DFU transports use to reach a bootloader behind the probe.
package probe
