package nrf

import (
	"errors"
	"fmt"
)

// Code is a result code in the nrfjprog DLL error space. Zero is success,
// everything else is negative. String() yields the canonical upper-case
// name so CLI output and logs stay comparable with the established tools.
type Code int32

const (
	CodeSuccess                   Code = 0
	CodeOutOfMemory               Code = -1
	CodeInvalidOperation          Code = -2
	CodeInvalidParameter          Code = -3
	CodeInvalidDeviceForOperation Code = -4
	CodeWrongFamilyForDevice      Code = -5
	CodeUnknownDevice             Code = -6

	CodeEmulatorNotConnected Code = -10
	CodeCannotConnect        Code = -11
	CodeLowVoltage           Code = -12
	CodeNoEmulatorConnected  Code = -13

	CodeNVMCError     Code = -20
	CodeRecoverFailed Code = -21

	CodeNotAvailableBecauseProtection          Code = -90
	CodeNotAvailableBecauseMPUConfig           Code = -91
	CodeNotAvailableBecauseCoprocessorDisabled Code = -92
	CodeNotAvailableBecauseTrustZone           Code = -93
	CodeNotAvailableBecauseBPROT               Code = -94

	CodeProbeLibNotFound Code = -100
	CodeProbeLibFailed   Code = -102
	CodeProbeLibTooOld   Code = -103
	CodeProbeReadError   Code = -104

	CodeSerialPortNotFound      Code = -110
	CodeSerialPortPermission    Code = -111
	CodeSerialPortWriteError    Code = -112
	CodeSerialPortReadError     Code = -113
	CodeSerialPortResourceError Code = -114
	CodeSerialPortNotOpen       Code = -115

	CodeVerifyError         Code = -160
	CodeRAMIsOff            Code = -161
	CodeFileOperationFailed Code = -162

	CodeTimeOut  Code = -220
	CodeDFUError Code = -221

	CodeInternalError  Code = -254
	CodeNotImplemented Code = -255
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeOutOfMemory:
		return "OUT_OF_MEMORY"
	case CodeInvalidOperation:
		return "INVALID_OPERATION"
	case CodeInvalidParameter:
		return "INVALID_PARAMETER"
	case CodeInvalidDeviceForOperation:
		return "INVALID_DEVICE_FOR_OPERATION"
	case CodeWrongFamilyForDevice:
		return "WRONG_FAMILY_FOR_DEVICE"
	case CodeUnknownDevice:
		return "UNKNOWN_DEVICE"
	case CodeEmulatorNotConnected:
		return "EMULATOR_NOT_CONNECTED"
	case CodeCannotConnect:
		return "CANNOT_CONNECT"
	case CodeLowVoltage:
		return "LOW_VOLTAGE"
	case CodeNoEmulatorConnected:
		return "NO_EMULATOR_CONNECTED"
	case CodeNVMCError:
		return "NVMC_ERROR"
	case CodeRecoverFailed:
		return "RECOVER_FAILED"
	case CodeNotAvailableBecauseProtection:
		return "NOT_AVAILABLE_BECAUSE_PROTECTION"
	case CodeNotAvailableBecauseMPUConfig:
		return "NOT_AVAILABLE_BECAUSE_MPU_CONFIG"
	case CodeNotAvailableBecauseCoprocessorDisabled:
		return "NOT_AVAILABLE_BECAUSE_COPROCESSOR_DISABLED"
	case CodeNotAvailableBecauseTrustZone:
		return "NOT_AVAILABLE_BECAUSE_TRUST_ZONE"
	case CodeNotAvailableBecauseBPROT:
		return "NOT_AVAILABLE_BECAUSE_BPROT"
	case CodeProbeLibNotFound:
		return "JLINKARM_DLL_NOT_FOUND"
	case CodeProbeLibFailed:
		return "JLINKARM_DLL_ERROR"
	case CodeProbeLibTooOld:
		return "JLINKARM_DLL_TOO_OLD"
	case CodeProbeReadError:
		return "JLINKARM_DLL_READ_ERROR"
	case CodeSerialPortNotFound:
		return "SERIAL_PORT_NOT_FOUND"
	case CodeSerialPortPermission:
		return "SERIAL_PORT_PERMISSION_ERROR"
	case CodeSerialPortWriteError:
		return "SERIAL_PORT_WRITE_ERROR"
	case CodeSerialPortReadError:
		return "SERIAL_PORT_READ_ERROR"
	case CodeSerialPortResourceError:
		return "SERIAL_PORT_RESOURCE_ERROR"
	case CodeSerialPortNotOpen:
		return "SERIAL_PORT_NOT_OPEN_ERROR"
	case CodeVerifyError:
		return "VERIFY_ERROR"
	case CodeRAMIsOff:
		return "RAM_IS_OFF_ERROR"
	case CodeFileOperationFailed:
		return "FILE_OPERATION_FAILED"
	case CodeTimeOut:
		return "TIME_OUT"
	case CodeDFUError:
		return "DFU_ERROR"
	case CodeInternalError:
		return "INTERNAL_ERROR"
	case CodeNotImplemented:
		return "NOT_IMPLEMENTED_ERROR"
	default:
		return fmt.Sprintf("ERROR(%d)", int32(c))
	}
}

// Recoverable reports whether the caller can proceed on the same session
// after clearing the cause. Transport and internal failures are terminal;
// precondition and legality failures are not.
func (c Code) Recoverable() bool {
	switch c {
	case CodeInvalidOperation, CodeInvalidParameter, CodeInvalidDeviceForOperation,
		CodeWrongFamilyForDevice, CodeUnknownDevice,
		CodeNotAvailableBecauseProtection, CodeNotAvailableBecauseMPUConfig,
		CodeNotAvailableBecauseCoprocessorDisabled, CodeNotAvailableBecauseTrustZone,
		CodeNotAvailableBecauseBPROT,
		CodeVerifyError, CodeRAMIsOff:
		return true
	}
	return false
}

// Error is the error type returned by every controller in this module. Op
// names the failing operation, Message adds device-specific detail, Err is
// the wrapped cause when one exists.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return e.Code.String()
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can compare against
// a bare NewError(code, "") sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates an error with a code and a fixed message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error with a code and a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// OpError creates an error naming the failing operation.
func OpError(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// OpErrorf creates an operation error with a formatted message.
func OpErrorf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code and operation to an underlying cause. A nil
// cause yields nil so call sites can wrap unconditionally.
func WrapError(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// OpWrapf creates an operation error carrying both a formatted message and
// the underlying cause.
func OpWrapf(code Code, op string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the result code from an error chain. A nil error is
// CodeSuccess; an error chain without an *Error is CodeInternalError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// IsProtectionError reports whether err failed because an access-port or
// memory protection mechanism blocked the operation.
func IsProtectionError(err error) bool {
	switch CodeOf(err) {
	case CodeNotAvailableBecauseProtection, CodeNotAvailableBecauseMPUConfig,
		CodeNotAvailableBecauseTrustZone, CodeNotAvailableBecauseBPROT:
		return true
	}
	return false
}

// IsRecoverable reports whether the session remains usable after err.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	return CodeOf(err).Recoverable()
}
