package dfu

import "testing"

func TestDigestWords(t *testing.T) {
	var d Digest
	for i := range d {
		d[i] = byte(i)
	}
	w := d.Words()
	if w[0] != 0x03020100 || w[7] != 0x1F1E1D1C {
		t.Errorf("Words() = %#08x..%#08x, want little-endian packing", w[0], w[7])
	}
	if got := d.String(); got[:8] != "00010203" || len(got) != 64 {
		t.Errorf("String() = %q, want 64 hex digits starting 00010203", got)
	}
}

func TestDeviceIDString(t *testing.T) {
	id := DeviceID{0xDEADBEEF, 1}
	got := id.String()
	want := "deadbeef-00000001-00000000-00000000-00000000-00000000-00000000-00000000-00000000-00000000"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestEventString(t *testing.T) {
	cases := []struct {
		e    Event
		want string
	}{
		{EventNone, "IPCEVENT_NONE"},
		{EventFault, "IPCEVENT_FAULT"},
		{EventCommand, "IPCEVENT_COMMAND"},
		{EventData, "IPCEVENT_DATA"},
		{Event(9), "INVALID"},
	}
	for _, tc := range cases {
		if got := tc.e.String(); got != tc.want {
			t.Errorf("Event(%d).String() = %q, want %q", tc.e, got, tc.want)
		}
	}
}
