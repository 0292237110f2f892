package wire

import "errors"

// Decode errors. Every error returned by Decode wraps ErrDecode, so callers
// can match the whole class with errors.Is(err, ErrDecode) or a specific
// failure with the narrower sentinels.
var (
	// ErrDecode is the class of all malformed-input failures.
	ErrDecode = errors.New("wire: malformed message")

	// ErrTruncated is returned when the buffer ends before a field.
	ErrTruncated = errors.New("wire: truncated message")

	// ErrTrailingBytes is returned when bytes remain after the last field.
	ErrTrailingBytes = errors.New("wire: trailing bytes after message")

	// ErrUnknownMessageType is returned for an unrecognized message kind.
	ErrUnknownMessageType = errors.New("wire: unknown message type")

	// ErrInvalidSuite is returned for an out-of-range cipher suite value.
	ErrInvalidSuite = errors.New("wire: invalid cipher suite value")

	// ErrFieldTooLarge is returned when a length field exceeds its bound.
	ErrFieldTooLarge = errors.New("wire: length field exceeds limit")

	// ErrFieldEmpty is returned when a required variable field is empty.
	ErrFieldEmpty = errors.New("wire: required field is empty")

	// ErrMessageTooLarge is returned when the input exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("wire: message exceeds size limit")
)

// Encode errors.
var (
	// ErrInvalidMessage is returned by Encode when a message violates the
	// wire format's field bounds.
	ErrInvalidMessage = errors.New("wire: message fails validation")
)
