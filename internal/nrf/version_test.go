package nrf

import "testing"

func TestVersionString(t *testing.T) {
	tests := []struct {
		version Version
		want    string
	}{
		{Version{NRF52840, MemoryAA, RevisionRev2}, "NRF52840_xxAA_REV2"},
		{Version{NRF52832, MemoryAB, RevisionEngA}, "NRF52832_xxAB_ENGA"},
		{Version{NRF5340, MemoryAA, RevisionFuture}, "NRF5340_xxAA_FUTURE"},
		{Version{NRF9160, MemoryAA, RevisionRev1}, "NRF9160_xxAA_REV1"},
		{Version{NRF51xxx, MemoryAC, RevisionRev3}, "NRF51xxx_xxAC_REV3"},
		{Version{}, "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.version.String(); got != tt.want {
			t.Errorf("Version.String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDeviceNameFamily(t *testing.T) {
	tests := []struct {
		name DeviceName
		want Family
	}{
		{NRF51xxx, FamilyNRF51},
		{NRF51802, FamilyNRF51},
		{NRF52840, FamilyNRF52},
		{NRF52805, FamilyNRF52},
		{NRF5340, FamilyNRF53},
		{NRF9160, FamilyNRF91},
		{NRF9120, FamilyNRF91},
		{NameUnknown, FamilyUnknown},
	}

	for _, tt := range tests {
		if got := tt.name.Family(); got != tt.want {
			t.Errorf("%v.Family() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseFamily(t *testing.T) {
	tests := []struct {
		in      string
		want    Family
		wantErr bool
	}{
		{"nrf52", FamilyNRF52, false},
		{"NRF52", FamilyNRF52, false},
		{"52", FamilyNRF52, false},
		{"nRF91", FamilyNRF91, false},
		{"auto", FamilyAuto, false},
		{"unknown", FamilyUnknown, false},
		{"nrf54", FamilyUnknown, true},
		{"bogus", FamilyUnknown, true},
	}

	for _, tt := range tests {
		got, err := ParseFamily(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFamily(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseFamily(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFamilyConcrete(t *testing.T) {
	for _, f := range []Family{FamilyNRF51, FamilyNRF52, FamilyNRF53, FamilyNRF91} {
		if !f.Concrete() {
			t.Errorf("%v.Concrete() = false, want true", f)
		}
	}
	for _, f := range []Family{FamilyUnknown, FamilyAuto} {
		if f.Concrete() {
			t.Errorf("%v.Concrete() = true, want false", f)
		}
	}
}

func TestMemoryDescriptionContains(t *testing.T) {
	flash := MemoryDescription{Start: 0x0000_0000, Size: 512 * 1024, NumPages: 128, Type: MemTypeCode}

	if !flash.Contains(0, 4) {
		t.Error("start of region should be contained")
	}
	if !flash.Contains(512*1024-4, 4) {
		t.Error("final word should be contained")
	}
	if flash.Contains(512*1024-4, 8) {
		t.Error("range crossing the end should not be contained")
	}
	if flash.Contains(0xFFFFFFFC, 8) {
		t.Error("wrapping range should not be contained")
	}
	if got := flash.PageSize(); got != 4096 {
		t.Errorf("PageSize() = %d, want 4096", got)
	}
}
