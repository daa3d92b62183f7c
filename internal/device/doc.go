// Package device establishes the debug connection to a target and owns
// everything that is true of the silicon itself: which family and part is
// attached, how its memory map is laid out, and the raw memory and CPU
// rails the programming layers run on.
//
// # Connecting
//
// Connect powers the debug domain through the DP CTRL/STAT handshake and
// identifies the family by probing access-port IDR registers, CTRL-AP
// first and the nRF51 AHB-AP as a fallback. A session opened for a
// concrete family fails with WRONG_FAMILY_FOR_DEVICE when the silicon
// answers as something else; a session opened in auto mode pins itself to
// the identified family for its whole lifetime.
//
//	ctx, err := device.Connect(conn, nrf.FamilyAuto, nrf.CPApplication)
//	if err != nil {
//		return err
//	}
//	defer ctx.Disconnect()
//
// # Identification
//
// ReadDeviceInfo decodes the FICR into a part/memory/revision tuple and
// the flash, UICR and RAM geometry. Silicon newer than the catalog
// classifies as a FUTURE revision of its part instead of failing, so a
// stale build still produces a usable description. nRF51 parts have no
// FICR INFO block and classify through the CONFIGID hardware ID.
//
// # Memory access
//
// ReadMemory and WriteMemory are raw rails through the selected core's
// memory access port. They consult the RAM power registers before
// touching data RAM and fail with RAM_IS_OFF_ERROR rather than forwarding
// a transfer the hardware would garble. Flash sequencing (NVMC enables,
// erase state) belongs to the flash package, not here.
package device
