package version

import (
	"strings"
	"testing"
)

func TestVersionPopulated(t *testing.T) {
	// init() guarantees both fields carry something printable
	if Version == "" {
		t.Error("Version should never be empty after init")
	}
	if Commit == "" {
		t.Error("Commit should never be empty after init")
	}
}

func TestFull(t *testing.T) {
	full := Full()

	if !strings.Contains(full, Version) {
		t.Errorf("Full() = %q, should contain version %q", full, Version)
	}
	if !strings.Contains(full, Commit) {
		t.Errorf("Full() = %q, should contain commit %q", full, Commit)
	}
	if !strings.Contains(full, "go") {
		t.Errorf("Full() = %q, should contain the toolchain version", full)
	}
}

func TestShort(t *testing.T) {
	if Short() != Version {
		t.Errorf("Short() = %q, want %q", Short(), Version)
	}
}
