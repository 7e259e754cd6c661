// Package mcap writes candump records into an MCAP file.
package mcap

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/foxglove/mcap/go/mcap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/BIwashi/candump/pkg/candump"
)

// Writer writes candump.v1.RawFrame proto messages into an MCAP file.
//
// Design decisions:
//   - Single protobuf schema (candump.v1.RawFrame) reused by all channels,
//     built at runtime from a FileDescriptorProto so no generated bindings
//     are needed.
//   - Channel granularity = capturing device, topic /can/<device>.
//   - Log/publish time = capture timestamp converted to nanoseconds.
//
// A new channel is created lazily on first occurrence of a device.
type Writer struct {
	mu         sync.Mutex
	writer     *mcap.Writer
	message    *messageType
	schemaID   uint16
	nextChanID uint16
	channels   map[string]uint16 // key: device name
}

// NewWriter initializes an MCAP writer with the RawFrame schema registered.
// The provided io.Writer should be an opened file (will not be closed here).
func NewWriter(out io.Writer) (*Writer, error) {
	w, err := mcap.NewWriter(out, &mcap.WriterOptions{
		Chunked:     true,
		ChunkSize:   2 * 1024 * 1024, // 2MB chunks
		Compression: mcap.CompressionZSTD,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create MCAP writer")
	}

	if err := w.WriteHeader(&mcap.Header{
		Profile: "",
		Library: "candump",
	}); err != nil {
		return nil, errors.Wrap(err, "write header")
	}

	mt, err := newRawFrameType()
	if err != nil {
		return nil, err
	}

	schemaID := uint16(1)
	if err := w.WriteSchema(&mcap.Schema{
		ID:       schemaID,
		Name:     rawFramePackage + "." + rawFrameName,
		Encoding: "protobuf",
		Data:     mt.schemaBytes,
	}); err != nil {
		return nil, errors.Wrap(err, "write schema")
	}

	return &Writer{
		writer:     w,
		message:    mt,
		schemaID:   schemaID,
		nextChanID: 1,
		channels:   make(map[string]uint16),
	}, nil
}

// ensureChannel ensures a channel exists for a device; returns channel ID.
// Callers must hold w.mu.
func (w *Writer) ensureChannel(device string) (uint16, error) {
	if id, ok := w.channels[device]; ok {
		return id, nil
	}

	w.nextChanID++
	chID := w.nextChanID

	topic := "/can/" + device
	if err := w.writer.WriteChannel(&mcap.Channel{
		ID:              chID,
		SchemaID:        w.schemaID,
		Topic:           topic,
		MessageEncoding: "protobuf",
		Metadata: map[string]string{
			"device": device,
		},
	}); err != nil {
		return 0, errors.Wrapf(err, "write channel (topic=%s)", topic)
	}

	w.channels[device] = chID
	return chID, nil
}

// WriteRecord writes one decoded capture record as an MCAP message on the
// record's device channel.
func (w *Writer) WriteRecord(rec candump.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	channelID, err := w.ensureChannel(rec.Device)
	if err != nil {
		return err
	}

	data, err := w.message.marshalRecord(rec)
	if err != nil {
		return err
	}

	logTime := rec.TimestampUS * 1_000 // ns
	if err := w.writer.WriteMessage(&mcap.Message{
		ChannelID:   channelID,
		Sequence:    0,
		LogTime:     logTime,
		PublishTime: logTime,
		Data:        data,
	}); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close finalizes the MCAP file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writer.Close()
}

const (
	rawFramePackage = "candump.v1"
	rawFrameName    = "RawFrame"
)

// messageType carries the runtime-built RawFrame message descriptor plus the
// marshalled FileDescriptorProto registered as the MCAP schema.
type messageType struct {
	descriptor  protoreflect.MessageDescriptor
	schemaBytes []byte
}

// newRawFrameType builds the candump.v1.RawFrame descriptor:
//
//	message RawFrame {
//	  uint64 timestamp_us = 1;
//	  string device      = 2;
//	  uint32 id          = 3;
//	  bytes  data        = 4;
//	  bool   is_remote   = 5;
//	  bool   is_extended = 6;
//	  bool   is_error    = 7;
//	}
func newRawFrameType() (*messageType, error) {
	field := func(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(number),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:   typ.Enum(),
		}
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("candump/v1/raw_frame.proto"),
		Package: proto.String(rawFramePackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String(rawFrameName),
			Field: []*descriptorpb.FieldDescriptorProto{
				field("timestamp_us", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
				field("device", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("id", 3, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
				field("data", 4, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
				field("is_remote", 5, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
				field("is_extended", 6, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
				field("is_error", 7, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
			},
		}},
	}

	fd, err := protodesc.NewFile(fdp, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build RawFrame descriptor")
	}

	schemaBytes, err := proto.Marshal(fdp)
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema descriptor")
	}

	return &messageType{
		descriptor:  fd.Messages().ByName(rawFrameName),
		schemaBytes: schemaBytes,
	}, nil
}

func (mt *messageType) marshalRecord(rec candump.Record) ([]byte, error) {
	msg := dynamicpb.NewMessage(mt.descriptor)
	fields := mt.descriptor.Fields()

	msg.Set(fields.ByName("timestamp_us"), protoreflect.ValueOfUint64(rec.TimestampUS))
	msg.Set(fields.ByName("device"), protoreflect.ValueOfString(rec.Device))
	msg.Set(fields.ByName("id"), protoreflect.ValueOfUint32(rec.Frame.ID))
	msg.Set(fields.ByName("data"), protoreflect.ValueOfBytes(rec.Frame.Payload()))
	msg.Set(fields.ByName("is_remote"), protoreflect.ValueOfBool(rec.Frame.IsRemote))
	msg.Set(fields.ByName("is_extended"), protoreflect.ValueOfBool(rec.Frame.IsExtended))
	msg.Set(fields.ByName("is_error"), protoreflect.ValueOfBool(rec.Frame.IsError))

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal RawFrame")
	}
	return data, nil
}
