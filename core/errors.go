package core

import "fmt"

// FramingError reports bytes that do not form a well-formed frame:
// truncated input, a bad length field, or a malformed outgoing request.
// It is never retried; it points at a codec or wiring bug.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "framing error: " + e.Reason
}

// ChecksumError reports a frame whose recomputed checksum does not match
// the transmitted one. Corrupted transmissions are retried by the drivers.
type ChecksumError struct {
	Want uint16
	Got  uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: want 0x%04X, got 0x%04X", e.Want, e.Got)
}

// ParseError reports a sensor line that could not be parsed into fields.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s in %q", e.Reason, e.Line)
}

// TimeoutError reports that a device produced no (or only a partial)
// response within the deadline.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return "timeout waiting for " + e.Op
}

// ValidationError reports a caller-supplied command value outside the
// device's documented range. Rejected before any I/O, never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Msg
}

// IOError reports a dead or detached serial line. Surfaced immediately and
// drives the owning supervisor to Disconnected.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return "io error during " + e.Op
	}
	return fmt.Sprintf("io error during %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CommunicationError is the terminal failure of a request after the retry
// budget is exhausted. Last holds the final underlying cause.
type CommunicationError struct {
	Attempts int
	Last     error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *CommunicationError) Unwrap() error { return e.Last }
