// Package nrf defines the shared vocabulary for Nordic nRF5x/nRF9x device
// programming: product families, device version tuples, memory map
// descriptions, protection levels, and the error taxonomy used across every
// controller in this module.
//
// # Families and Versions
//
// Devices are identified by a Family (nRF51/52/53/91) and a Version tuple of
// device name, memory variant and silicon revision:
//
//	v := nrf.Version{Name: nrf.NRF52840, Memory: nrf.MemoryAA, Revision: nrf.RevisionRev2}
//	v.String() // "NRF52840_xxAA_REV2"
//
// Silicon newer than this library knows classifies as RevisionFuture rather
// than failing, so identification always succeeds on recognizable parts.
//
// # Error Codes
//
// All failures surface as *nrf.Error carrying a Code. Codes keep the numeric
// values of the nrfjprog DLL error space (0 success, negative failure) so
// exit codes and logs line up with the established tooling:
//
//	if nrf.CodeOf(err) == nrf.CodeNotAvailableBecauseProtection {
//	    // recover the device first
//	}
//
// Errors wrap their cause and support errors.Is on code equality.
package nrf
