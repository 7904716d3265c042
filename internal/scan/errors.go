package scan

import (
	"errors"
	"fmt"
)

// Kind classifies driver failures independently of the protocol.
type Kind string

const (
	KindDeviceBusy            Kind = "device-busy"
	KindDeviceOffline         Kind = "device-offline"
	KindPaperJam              Kind = "paper-jam"
	KindCoverOpen             Kind = "cover-open"
	KindNoPages               Kind = "no-pages"
	KindNoMatchingDevice      Kind = "no-matching-device"
	KindUnsupportedCapability Kind = "unsupported-capability"
	KindUnknown               Kind = "unknown"
	KindAlreadyReported       Kind = "already-reported"
)

var kinds = []Kind{
	KindDeviceBusy, KindDeviceOffline, KindPaperJam, KindCoverOpen, KindNoPages,
	KindNoMatchingDevice, KindUnsupportedCapability, KindUnknown, KindAlreadyReported,
}

// ParseKind maps a kind string back to a Kind. Unrecognized strings become
// KindUnknown.
func ParseKind(s string) Kind {
	for _, k := range kinds {
		if string(k) == s {
			return k
		}
	}
	return KindUnknown
}

// Error is a classified driver failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // underlying cause, kept for logging
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind, so the Err* sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// UserMessage is a short actionable message for the kind.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindDeviceBusy:
		return "The scanner is busy."
	case KindDeviceOffline:
		return "The scanner is offline."
	case KindPaperJam:
		return "The scanner has a paper jam."
	case KindCoverOpen:
		return "The scanner cover is open."
	case KindNoPages:
		return "No pages are in the feeder."
	case KindNoMatchingDevice:
		return "The selected scanner could not be found."
	case KindUnsupportedCapability:
		return "The scanner does not support the requested option."
	case KindAlreadyReported:
		return "The scan failed."
	default:
		return "An error occurred with the scanning driver."
	}
}

var (
	ErrDeviceBusy            = &Error{Kind: KindDeviceBusy}
	ErrDeviceOffline         = &Error{Kind: KindDeviceOffline}
	ErrPaperJam              = &Error{Kind: KindPaperJam}
	ErrCoverOpen             = &Error{Kind: KindCoverOpen}
	ErrNoPages               = &Error{Kind: KindNoPages}
	ErrNoMatchingDevice      = &Error{Kind: KindNoMatchingDevice}
	ErrUnsupportedCapability = &Error{Kind: KindUnsupportedCapability}
	ErrUnknown               = &Error{Kind: KindUnknown}
	ErrAlreadyReported       = &Error{Kind: KindAlreadyReported}
)

// ErrInvalidOptions is wrapped by every Validator failure.
var ErrInvalidOptions = errors.New("invalid scan options")

// NewError builds a classified error with a custom message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A classified error passes through, context errors
// pass through unchanged, anything else becomes KindUnknown with err kept
// as the cause.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrInvalidOptions) {
		return err
	}
	if isContextErr(err) {
		return err
	}
	return &Error{Kind: KindUnknown, Err: err}
}

// KindOf returns the kind of a classified error, KindUnknown otherwise.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
