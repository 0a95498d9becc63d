package amp

import "errors"

// Sentinel errors for the amplifier bus engine.
// Wrap with fmt.Errorf("%w: detail") and test with errors.Is.
var (
	// ErrInvalidZone indicates a zone ID outside the protocol's
	// addressable range (amp 1-3, zone 0-6, or the system zone 00).
	ErrInvalidZone = errors.New("invalid zone id")

	// ErrInvalidAttribute indicates an unknown attribute name.
	ErrInvalidAttribute = errors.New("invalid attribute")

	// ErrReadOnlyAttribute indicates a write to an attribute the amp
	// only reports (public announcement, keypad state).
	ErrReadOnlyAttribute = errors.New("attribute is read-only")

	// ErrValueOutOfRange indicates a write value outside the
	// attribute's wire range. Rejected before anything reaches the bus.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrMalformedResponse indicates a response line that does not
	// parse as a zone status (bad prefix, width, or digit domain).
	ErrMalformedResponse = errors.New("malformed response")

	// ErrTruncatedResponse indicates the read timeout expired midway
	// through a response chunk.
	ErrTruncatedResponse = errors.New("truncated response")

	// ErrBusTimeout indicates no response bytes arrived within the
	// read timeout.
	ErrBusTimeout = errors.New("bus timeout")

	// ErrEchoMismatch indicates the echoed command did not match what
	// was sent, usually a baud mismatch or line noise.
	ErrEchoMismatch = errors.New("command echo mismatch")

	// ErrCommandRejected indicates the amp answered "Command Error.".
	ErrCommandRejected = errors.New("command rejected by amp")

	// ErrBaudNegotiationFailed indicates no candidate baud rate
	// produced a decodable response. Fatal at startup.
	ErrBaudNegotiationFailed = errors.New("baud negotiation failed")

	// ErrResyncFailed indicates the stream could not be returned to a
	// clean command prompt.
	ErrResyncFailed = errors.New("stream resync failed")

	// ErrWriteQueueFull indicates the scheduler's write queue is full;
	// the write is dropped and logged, never blocks the caller.
	ErrWriteQueueFull = errors.New("write queue full")

	// ErrSchedulerStopped indicates a write was submitted after
	// shutdown began.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)
