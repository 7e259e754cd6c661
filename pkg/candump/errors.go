package candump

import (
	"github.com/cockroachdb/errors"
)

// Parse errors form a closed taxonomy. Every error returned by
// Reader.ReadRecord matches exactly one of these sentinels under errors.Is;
// wrapped causes (the platform I/O error, the frame constructor's rejection)
// stay reachable through the chain.
var (
	// ErrIO marks a failed read from the underlying byte source.
	ErrIO = errors.New("i/o error")
	// ErrUnexpectedEndOfLine means the line held fewer than three fields.
	ErrUnexpectedEndOfLine = errors.New("unexpected end of line")
	// ErrInvalidTimestamp covers bad parenthesization, dot-splitting or
	// numeric parsing of the timestamp field.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrInvalidDeviceName means the device field is not valid UTF-8.
	ErrInvalidDeviceName = errors.New("invalid device name")
	// ErrInvalidFrame covers a missing '#' separator, a bad hex ID and
	// undecodable frame data.
	ErrInvalidFrame = errors.New("invalid can frame")
	// ErrConstruction marks a rejection by the frame constructor on
	// otherwise well-formed fields.
	ErrConstruction = errors.New("frame construction failed")
)
