package errcode

// Code is a stable, wire-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable). These cross the wire as status bytes via
// WriteStatus/RegisterStatus below; local errors (bad arguments, duplicate
// registration, missing codec) never engage the protocol and stay as plain
// Go errors instead.
const (
	OK              Code = "ok"
	ValueRejected   Code = "value_rejected"
	SettingRejected Code = "setting_rejected"
	ParseFailed     Code = "parse_failed"
	ReadOnly        Code = "read_only"
	ModifyDisabled  Code = "modify_disabled"
	ServiceFailed   Code = "service_failed"
	Timeout         Code = "timeout"

	Error Code = "error" // generic fallback for codes with no wire counterpart
)

// WriteStatus is the status byte a write-response frame carries on the wire.
type WriteStatus byte

const (
	WriteOK              WriteStatus = 0
	WriteValueRejected   WriteStatus = 1
	WriteSettingRejected WriteStatus = 2
	WriteParseFailed     WriteStatus = 3
	WriteReadOnly        WriteStatus = 4
	WriteModifyDisabled  WriteStatus = 5
	WriteServiceFailed   WriteStatus = 6
	WriteTimeout         WriteStatus = 7
)

// ToWriteStatus maps a Code to its write-response wire byte.
func (c Code) ToWriteStatus() WriteStatus {
	switch c {
	case OK:
		return WriteOK
	case ValueRejected:
		return WriteValueRejected
	case SettingRejected:
		return WriteSettingRejected
	case ParseFailed:
		return WriteParseFailed
	case ReadOnly:
		return WriteReadOnly
	case ModifyDisabled:
		return WriteModifyDisabled
	case ServiceFailed:
		return WriteServiceFailed
	case Timeout:
		return WriteTimeout
	default:
		return WriteServiceFailed
	}
}

// FromWriteStatus reverses ToWriteStatus for an inbound write-response frame.
func FromWriteStatus(b byte) Code {
	switch WriteStatus(b) {
	case WriteOK:
		return OK
	case WriteValueRejected:
		return ValueRejected
	case WriteSettingRejected:
		return SettingRejected
	case WriteParseFailed:
		return ParseFailed
	case WriteReadOnly:
		return ReadOnly
	case WriteModifyDisabled:
		return ModifyDisabled
	case WriteServiceFailed:
		return ServiceFailed
	case WriteTimeout:
		return Timeout
	default:
		return Error
	}
}

// RegisterStatus is the status byte a register-response frame carries.
type RegisterStatus byte

const (
	RegisterOK         RegisterStatus = 0
	RegisterOKPerm     RegisterStatus = 1
	RegisterRegistered RegisterStatus = 2
	RegisterParseFail  RegisterStatus = 3
)

// FromRegisterStatus maps an inbound register-response byte to a Code. Only
// RegisterParseFail has a non-OK Code; RegisterOK/RegisterOKPerm/
// RegisterRegistered are all success outcomes distinguished by the caller,
// not by error kind.
func FromRegisterStatus(b byte) Code {
	if RegisterStatus(b) == RegisterParseFail {
		return ParseFailed
	}
	return OK
}

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
