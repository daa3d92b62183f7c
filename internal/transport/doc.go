// Package transport defines the debug-probe transport boundary: probe
// enumeration, link setup, and the raw DP/AP, memory and core primitives
// the programming engine is built on.
//
// Implementations wrap a real probe interface library or, for tests, the
// in-memory simulator in the sim subpackage. The engine treats a Conn as a
// dumb register pipe; all sequencing, legality and protection logic lives
// above this interface.
//
// Conn methods are synchronous and single-goroutine, matching how debug
// probes serialize wire traffic. A Conn must never be shared between two
// sessions.
package transport
