package nrf

import (
	"fmt"
	"strings"
)

// Family identifies a Nordic product family. The numeric values match the
// device_family_t constants used by the nrfjprog tool chain.
type Family uint32

const (
	FamilyNRF51 Family = 0
	FamilyNRF52 Family = 1
	FamilyNRF53 Family = 53
	FamilyNRF91 Family = 91

	// FamilyUnknown is the pre-identification state. A session opened in
	// this state may only perform family identification; it transitions to
	// a concrete family exactly once.
	FamilyUnknown Family = 99

	// FamilyAuto requests identification during connect.
	FamilyAuto Family = 255
)

func (f Family) String() string {
	switch f {
	case FamilyNRF51:
		return "NRF51"
	case FamilyNRF52:
		return "NRF52"
	case FamilyNRF53:
		return "NRF53"
	case FamilyNRF91:
		return "NRF91"
	case FamilyAuto:
		return "AUTO"
	default:
		return "UNKNOWN"
	}
}

// Concrete reports whether f names an actual product family rather than one
// of the placeholder states.
func (f Family) Concrete() bool {
	switch f {
	case FamilyNRF51, FamilyNRF52, FamilyNRF53, FamilyNRF91:
		return true
	}
	return false
}

// HasCtrlAP reports whether the family exposes a CTRL-AP access port.
// nRF51 predates CTRL-AP; its protection is driven through UICR alone.
func (f Family) HasCtrlAP() bool {
	return f == FamilyNRF52 || f == FamilyNRF53 || f == FamilyNRF91
}

// ParseFamily converts a user-supplied family name (CLI flag, config file)
// into a Family. Accepts "nrf52", "NRF52", "52" and the placeholder names.
func ParseFamily(s string) (Family, error) {
	switch strings.ToUpper(strings.TrimPrefix(strings.ToLower(s), "nrf")) {
	case "51":
		return FamilyNRF51, nil
	case "52":
		return FamilyNRF52, nil
	case "53":
		return FamilyNRF53, nil
	case "91":
		return FamilyNRF91, nil
	case "UNKNOWN":
		return FamilyUnknown, nil
	case "AUTO", "":
		return FamilyAuto, nil
	}
	return FamilyUnknown, fmt.Errorf("unknown device family %q", s)
}
