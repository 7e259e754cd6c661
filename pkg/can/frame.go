// Package can carries the CAN frame value type shared by the capture
// readers and sinks in this repository.
package can

import (
	ecan "go.einride.tech/can"

	"github.com/cockroachdb/errors"
)

const (
	// MaxDataLength is the classic CAN payload limit.
	MaxDataLength = 8
	// MaxStandardID is the largest 11-bit (standard) frame identifier.
	MaxStandardID = 0x7ff
	// MaxExtendedID is the largest 29-bit (extended) frame identifier.
	MaxExtendedID = 0x1fffffff
)

// Frame wraps einride can.Frame to add the bus-error flag, which SocketCAN
// captures carry but einride frames do not model. Embedding keeps field
// access (ID, Length, Data, IsRemote, IsExtended, ...) identical.
type Frame struct {
	ecan.Frame
	// IsError reports a bus error frame. Textual candump logs cannot
	// express it; pcapng captures can.
	IsError bool
}

// NewFrame validates and builds a frame. Identifiers above the standard
// 11-bit range are marked extended; identifiers above the extended range,
// and payloads over 8 bytes, are rejected.
func NewFrame(id uint32, data []byte, isRemote, isError bool) (Frame, error) {
	if len(data) > MaxDataLength {
		return Frame{}, errors.Newf("frame data too long: %d bytes", len(data))
	}
	if id > MaxExtendedID {
		return Frame{}, errors.Newf("frame id out of range: 0x%X", id)
	}

	f := Frame{
		Frame: ecan.Frame{
			ID:         id,
			Length:     uint8(len(data)),
			IsRemote:   isRemote,
			IsExtended: id > MaxStandardID,
		},
		IsError: isError,
	}
	copy(f.Data[:], data)

	if err := f.Validate(); err != nil {
		return Frame{}, errors.Wrap(err, "validate frame")
	}
	return f, nil
}

// Payload returns the Length-bounded view of the frame data.
func (f Frame) Payload() []byte {
	return f.Data[:f.Length]
}
