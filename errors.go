package ztl

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates the ZTL error taxonomy.
type ErrorCode string

const (
	ErrCodeNoDevice          ErrorCode = "no device"
	ErrCodeNoGeometry        ErrorCode = "no geometry"
	ErrCodeInvalidOpcode     ErrorCode = "invalid opcode"
	ErrCodeReport            ErrorCode = "report error"
	ErrCodePoke              ErrorCode = "poke error"
	ErrCodeOutstanding       ErrorCode = "outstanding submission error"
	ErrCodeWait              ErrorCode = "wait timeout"
	ErrCodeAsyncInit         ErrorCode = "async init error"
	ErrCodeAsyncThread       ErrorCode = "async thread error"
	ErrCodeGroup             ErrorCode = "group error"
	ErrCodeMempoolExhausted  ErrorCode = "mempool exhausted"
	ErrCodeProvisionFail     ErrorCode = "provision fail"
	ErrCodeWCAPreSubmit      ErrorCode = "wca pre-submit error"
	ErrCodeWCAMidSubmit      ErrorCode = "wca mid-submit error"
	ErrCodeMap               ErrorCode = "map error"
	ErrCodeAppend            ErrorCode = "append error"
)

// Error is a structured ZTL error with operation and zone-address context.
type Error struct {
	Op    string // operation that failed, e.g. "Submit", "Register", "ManageZone"
	Group int32  // group index, -1 if not applicable
	Zone  int32  // zone index, -1 if not applicable
	Code  ErrorCode
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Group >= 0 {
		parts = append(parts, fmt.Sprintf("group=%d", e.Group))
	}
	if e.Zone >= 0 {
		parts = append(parts, fmt.Sprintf("zone=%d", e.Zone))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("ztl: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("ztl: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error with no zone address context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Group: -1, Zone: -1, Code: code, Msg: msg}
}

// NewZoneError creates a structured error scoped to one (group, zone).
func NewZoneError(op string, group, zone uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Group: int32(group), Zone: int32(zone), Code: code, Msg: msg}
}

// WrapError wraps an existing error with ZTL operation context, preserving
// the original error's code if it is already a structured *Error.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ze, ok := inner.(*Error); ok {
		return &Error{Op: op, Group: ze.Group, Zone: ze.Zone, Code: ze.Code, Msg: ze.Msg, Inner: ze.Inner}
	}
	return &Error{Op: op, Group: -1, Zone: -1, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Code == code
	}
	return false
}
