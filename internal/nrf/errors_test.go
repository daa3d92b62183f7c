package nrf

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != CodeSuccess {
		t.Errorf("CodeOf(nil) = %v, want SUCCESS", got)
	}

	err := NewError(CodeInvalidOperation, "flash controller not initialized")
	if got := CodeOf(err); got != CodeInvalidOperation {
		t.Errorf("CodeOf() = %v, want INVALID_OPERATION", got)
	}

	wrapped := fmt.Errorf("programming failed: %w", err)
	if got := CodeOf(wrapped); got != CodeInvalidOperation {
		t.Errorf("CodeOf(wrapped) = %v, want INVALID_OPERATION", got)
	}

	if got := CodeOf(errors.New("plain")); got != CodeInternalError {
		t.Errorf("CodeOf(plain error) = %v, want INTERNAL_ERROR", got)
	}
}

func TestErrorIs_MatchesOnCode(t *testing.T) {
	err := OpError(CodeNotAvailableBecauseProtection, "flash.ReadU32", "readback protection is ALL")

	if !errors.Is(err, NewError(CodeNotAvailableBecauseProtection, "")) {
		t.Error("errors.Is should match errors with equal codes")
	}
	if errors.Is(err, NewError(CodeInvalidOperation, "")) {
		t.Error("errors.Is should not match errors with different codes")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("probe detached")
	err := WrapError(CodeEmulatorNotConnected, "probe.ReadMemory", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable through errors.Is")
	}
	if got := CodeOf(err); got != CodeEmulatorNotConnected {
		t.Errorf("CodeOf() = %v, want EMULATOR_NOT_CONNECTED", got)
	}
}

func TestWrapError_NilCause(t *testing.T) {
	if err := WrapError(CodeInternalError, "op", nil); err != nil {
		t.Errorf("WrapError(nil) = %v, want nil", err)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code only",
			err:  &Error{Code: CodeVerifyError},
			want: "VERIFY_ERROR",
		},
		{
			name: "code and message",
			err:  NewError(CodeInvalidParameter, "length is not word aligned"),
			want: "INVALID_PARAMETER: length is not word aligned",
		},
		{
			name: "op, code and message",
			err:  OpError(CodeRAMIsOff, "flash.Read", "section 3 is unpowered"),
			want: "flash.Read: RAM_IS_OFF_ERROR: section 3 is unpowered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeRecoverable(t *testing.T) {
	recoverable := []Code{
		CodeInvalidOperation, CodeInvalidParameter, CodeVerifyError,
		CodeNotAvailableBecauseProtection, CodeNotAvailableBecauseBPROT,
		CodeRAMIsOff,
	}
	for _, c := range recoverable {
		if !c.Recoverable() {
			t.Errorf("%v should be recoverable", c)
		}
	}

	terminal := []Code{
		CodeEmulatorNotConnected, CodeCannotConnect, CodeLowVoltage,
		CodeProbeLibTooOld, CodeInternalError, CodeTimeOut,
	}
	for _, c := range terminal {
		if c.Recoverable() {
			t.Errorf("%v should be terminal", c)
		}
	}
}

func TestIsProtectionError(t *testing.T) {
	if !IsProtectionError(NewError(CodeNotAvailableBecauseBPROT, "")) {
		t.Error("BPROT block should classify as protection error")
	}
	if IsProtectionError(NewError(CodeVerifyError, "")) {
		t.Error("verify mismatch should not classify as protection error")
	}
	if IsProtectionError(nil) {
		t.Error("nil should not classify as protection error")
	}
}
