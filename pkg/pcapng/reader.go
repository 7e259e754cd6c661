// Package pcapng reads SocketCAN traffic out of pcapng capture files,
// normalizing it to the same frame type the candump log reader produces.
package pcapng

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/BIwashi/candump/pkg/can"
)

// SocketCAN id word flags and masks.
const (
	idFlagExtended = 0x80000000
	idFlagRemote   = 0x40000000
	idFlagError    = 0x20000000
	idMaskExtended = 0x1fffffff
	idMaskStandard = 0x7ff
)

// linkTypeCAN is raw CAN without an SLL header.
// ref: https://www.tcpdump.org/linktypes.html
const linkTypeCAN layers.LinkType = 227

// Reader pulls CAN frames from a pcapng capture.
type Reader struct {
	reader      *pcapgo.NgReader
	linkType    layers.LinkType
	packetCount uint64
}

// NewReader creates a pcapng capture reader over r.
func NewReader(r io.Reader) (*Reader, error) {
	ngReader, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, errors.Wrap(err, "create pcapng reader")
	}
	return &Reader{
		reader:   ngReader,
		linkType: ngReader.LinkType(),
	}, nil
}

// ReadFrame returns the next CAN frame and its capture time. Packets that
// are not CAN traffic, and bus error frames, are skipped. io.EOF signals a
// clean end of the capture.
func (r *Reader) ReadFrame() (can.Frame, time.Time, error) {
	for {
		data, ci, err := r.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return can.Frame{}, time.Time{}, io.EOF
			}
			return can.Frame{}, time.Time{}, errors.Wrap(err, "read packet data")
		}

		r.packetCount++

		payload, ok := r.canPayload(data)
		if !ok {
			continue
		}

		frame, err := decodeSocketCAN(payload)
		if err != nil {
			// Not a decodable CAN frame; move on.
			continue
		}
		if frame.IsError {
			continue
		}
		return frame, ci.Timestamp, nil
	}
}

// canPayload strips the link-layer encapsulation down to the raw SocketCAN
// frame bytes.
func (r *Reader) canPayload(data []byte) ([]byte, bool) {
	switch r.linkType {
	case layers.LinkTypeLinuxSLL:
		packet := gopacket.NewPacket(data, r.linkType, gopacket.Default)
		if sllLayer := packet.Layer(layers.LayerTypeLinuxSLL); sllLayer != nil {
			return sllLayer.(*layers.LinuxSLL).Payload, true
		}
		return data, true
	case linkTypeCAN:
		return data, true
	default:
		return nil, false
	}
}

// decodeSocketCAN decodes the kernel's 16-byte CAN frame layout: a
// little-endian id word carrying the extended/remote/error flags, a length
// byte, padding, then up to 8 data bytes.
func decodeSocketCAN(data []byte) (can.Frame, error) {
	if len(data) < 8 {
		return can.Frame{}, errors.Newf("data too short for CAN frame: %d", len(data))
	}

	var (
		idWord     = binary.LittleEndian.Uint32(data[0:4])
		isExtended = idWord&idFlagExtended != 0
		isRemote   = idWord&idFlagRemote != 0
		isError    = idWord&idFlagError != 0
	)

	id := idWord & idMaskExtended
	if !isExtended {
		id = idWord & idMaskStandard
	}

	length := data[4]
	if length > can.MaxDataLength {
		length = can.MaxDataLength
	}
	var payload []byte
	if len(data) >= 8+int(length) {
		payload = data[8 : 8+length]
	}

	frame, err := can.NewFrame(id, payload, isRemote, isError)
	if err != nil {
		return can.Frame{}, errors.Wrap(err, "construct frame")
	}
	// The capture may flag a frame as extended even when its id fits in
	// 11 bits; the flag on the wire wins.
	frame.IsExtended = frame.IsExtended || isExtended
	return frame, nil
}

// PacketCount returns the number of packets read so far.
func (r *Reader) PacketCount() uint64 {
	return r.packetCount
}
