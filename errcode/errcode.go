package errcode

import "errors"

// Code is a stable error identifier shared by the arbiter, the capsules and
// the syscall surface. It is a string newtype, comparable, allocation-free,
// and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK          Code = "ok"
	Fail        Code = "fail"
	Busy        Code = "busy"
	Already     Code = "already"
	Off         Code = "off"
	Reserve     Code = "reserve"
	Invalid     Code = "invalid"
	Size        Code = "size"
	Cancel      Code = "cancel"
	NoMemory    Code = "no_memory"
	Unsupported Code = "unsupported"
	NoDevice    Code = "no_device"
)

// Word returns the numeric encoding used in syscall returns and upcall
// arguments. OK is 0; unknown codes encode as Fail.
func (c Code) Word() uint32 {
	switch c {
	case OK:
		return 0
	case Fail:
		return 1
	case Busy:
		return 2
	case Already:
		return 3
	case Off:
		return 4
	case Reserve:
		return 5
	case Invalid:
		return 6
	case Size:
		return 7
	case Cancel:
		return 8
	case NoMemory:
		return 9
	case Unsupported:
		return 10
	case NoDevice:
		return 11
	default:
		return 1
	}
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

// Of extracts a Code from an error, defaulting to Fail.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Fail
}
