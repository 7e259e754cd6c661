package candump

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestReader_ReadRecord(t *testing.T) {
	cases := []struct {
		name         string
		line         string
		wantTS       uint64
		wantDevice   string
		wantID       uint32
		wantData     []byte
		wantRemote   bool
		wantExtended bool
	}{
		{
			name:       "classic frame with full payload",
			line:       "(1610000000.123456) can0 7E8#0102030405060708\n",
			wantTS:     1610000000123456,
			wantDevice: "can0",
			wantID:     0x7E8,
			wantData:   []byte{1, 2, 3, 4, 5, 6, 7, 8},
		},
		{
			name:       "remote request frame",
			line:       "(0.0) can0 123#R\n",
			wantTS:     0,
			wantDevice: "can0",
			wantID:     0x123,
			wantData:   []byte{},
			wantRemote: true,
		},
		{
			name:       "empty payload",
			line:       "(12.000001) vcan0 1FF#\n",
			wantTS:     12000001,
			wantDevice: "vcan0",
			wantID:     0x1FF,
			wantData:   []byte{},
		},
		{
			name:         "extended id",
			line:         "(42.5) slcan0 1ABCDEFF#DEAD\n",
			wantTS:       42000005,
			wantDevice:   "slcan0",
			wantID:       0x1ABCDEFF,
			wantData:     []byte{0xDE, 0xAD},
			wantExtended: true,
		},
		{
			name:       "last line without terminator",
			line:       "(1.2) can1 042#BEEF",
			wantTS:     1000002,
			wantDevice: "can1",
			wantID:     0x42,
			wantData:   []byte{0xBE, 0xEF},
		},
		{
			name:       "crlf terminator",
			line:       "(3.4) can0 100#00\r\n",
			wantTS:     3000004,
			wantDevice: "can0",
			wantID:     0x100,
			wantData:   []byte{0},
		},
		{
			name:       "lowercase hex data",
			line:       "(7.8) can0 7ff#aabb\n",
			wantTS:     7000008,
			wantDevice: "can0",
			wantID:     0x7FF,
			wantData:   []byte{0xAA, 0xBB},
		},
	}

	for _, tc := range cases {
		r := NewReader(strings.NewReader(tc.line))
		rec, err := r.ReadRecord()
		if err != nil {
			t.Fatalf("%s: ReadRecord() error = %v", tc.name, err)
		}
		if rec.TimestampUS != tc.wantTS {
			t.Fatalf("%s: timestamp = %d, want %d", tc.name, rec.TimestampUS, tc.wantTS)
		}
		if rec.Device != tc.wantDevice {
			t.Fatalf("%s: device = %q, want %q", tc.name, rec.Device, tc.wantDevice)
		}
		if rec.Frame.ID != tc.wantID {
			t.Fatalf("%s: id = 0x%X, want 0x%X", tc.name, rec.Frame.ID, tc.wantID)
		}
		if !bytes.Equal(rec.Frame.Payload(), tc.wantData) {
			t.Fatalf("%s: data = % X, want % X", tc.name, rec.Frame.Payload(), tc.wantData)
		}
		if rec.Frame.IsRemote != tc.wantRemote {
			t.Fatalf("%s: remote = %t, want %t", tc.name, rec.Frame.IsRemote, tc.wantRemote)
		}
		if rec.Frame.IsExtended != tc.wantExtended {
			t.Fatalf("%s: extended = %t, want %t", tc.name, rec.Frame.IsExtended, tc.wantExtended)
		}
		if rec.Frame.IsError {
			t.Fatalf("%s: error flag set; not expressible in this format", tc.name)
		}
		if _, err := r.ReadRecord(); !errors.Is(err, io.EOF) {
			t.Fatalf("%s: second read error = %v, want io.EOF", tc.name, err)
		}
	}
}

func TestReader_ReadRecordErrors(t *testing.T) {
	cases := []struct {
		name string
		line string
		want error
	}{
		{"only two fields", "(1.0) can0\n", ErrUnexpectedEndOfLine},
		{"only one field", "(1.0)\n", ErrUnexpectedEndOfLine},
		{"timestamp without dot", "(123) can0 123#00\n", ErrInvalidTimestamp},
		{"timestamp without parentheses", "1.0 can0 123#00\n", ErrInvalidTimestamp},
		{"timestamp with two dots", "(1.2.3) can0 123#00\n", ErrInvalidTimestamp},
		{"timestamp with sign", "(+1.0) can0 123#00\n", ErrInvalidTimestamp},
		{"timestamp with empty seconds", "(.5) can0 123#00\n", ErrInvalidTimestamp},
		{"timestamp with empty fraction", "(5.) can0 123#00\n", ErrInvalidTimestamp},
		{"timestamp non-numeric", "(a.b) can0 123#00\n", ErrInvalidTimestamp},
		{"seconds out of range", "(99999999999999999999.0) can0 123#00\n", ErrInvalidTimestamp},
		{"device not utf-8", "(1.0) \xff\xfe 123#00\n", ErrInvalidDeviceName},
		{"payload without separator", "(1.0) can0 12300\n", ErrInvalidFrame},
		{"odd-length hex data", "(1.0) can0 123#ABC\n", ErrInvalidFrame},
		{"non-hex data", "(1.0) can0 123#ZZ\n", ErrInvalidFrame},
		{"doubled remote marker", "(1.0) can0 123#RR\n", ErrInvalidFrame},
		{"lowercase remote marker", "(1.0) can0 123#r\n", ErrInvalidFrame},
		{"non-hex id", "(1.0) can0 G23#00\n", ErrInvalidFrame},
		{"empty id", "(1.0) can0 #00\n", ErrInvalidFrame},
		{"id wider than 32 bits", "(1.0) can0 123456789#00\n", ErrInvalidFrame},
		{"id above extended range", "(1.0) can0 FFFFFFFF#00\n", ErrConstruction},
		{"payload longer than 8 bytes", "(1.0) can0 123#010203040506070809\n", ErrConstruction},
		{"empty line", "\n", ErrInvalidTimestamp},
	}

	for _, tc := range cases {
		r := NewReader(strings.NewReader(tc.line))
		rec, err := r.ReadRecord()
		if rec != nil {
			t.Fatalf("%s: got record %+v, want nil", tc.name, rec)
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: error = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestReader_EmptySource(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	rec, err := r.ReadRecord()
	if rec != nil || !errors.Is(err, io.EOF) {
		t.Fatalf("ReadRecord() = (%v, %v), want (nil, io.EOF)", rec, err)
	}
	// EOF must be sticky, not an ErrIO.
	if _, err := r.ReadRecord(); !errors.Is(err, io.EOF) {
		t.Fatalf("second read error = %v, want io.EOF", err)
	}
}

func TestReader_UsableAfterParseError(t *testing.T) {
	input := "(bogus) can0 123#00\n(2.000003) can1 456#CAFE\n"
	r := NewReader(strings.NewReader(input))

	if _, err := r.ReadRecord(); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("first read error = %v, want %v", err, ErrInvalidTimestamp)
	}

	rec, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("second read error = %v", err)
	}
	if rec.TimestampUS != 2000003 || rec.Device != "can1" || rec.Frame.ID != 0x456 {
		t.Fatalf("second record = %+v", rec)
	}
	if _, err := r.ReadRecord(); !errors.Is(err, io.EOF) {
		t.Fatalf("third read error = %v, want io.EOF", err)
	}
}

func TestReader_IOError(t *testing.T) {
	r := NewReader(&failingReader{})
	_, err := r.ReadRecord()
	if !errors.Is(err, ErrIO) {
		t.Fatalf("error = %v, want %v", err, ErrIO)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("socket gone")
}

func TestReader_TimestampSaturation(t *testing.T) {
	cases := []struct {
		name string
		ts   string
		want uint64
	}{
		{"largest exact value", "(18446744073709.551615)", math.MaxUint64},
		{"addition saturates", "(18446744073709.551616)", math.MaxUint64},
		{"multiplication saturates", "(18446744073710.0)", math.MaxUint64},
	}
	for _, tc := range cases {
		r := NewReader(strings.NewReader(tc.ts + " can0 123#00\n"))
		rec, err := r.ReadRecord()
		if err != nil {
			t.Fatalf("%s: ReadRecord() error = %v", tc.name, err)
		}
		if rec.TimestampUS != tc.want {
			t.Fatalf("%s: timestamp = %d, want %d", tc.name, rec.TimestampUS, tc.want)
		}
	}
}

func TestReader_HexRoundTrip(t *testing.T) {
	for n := 0; n <= 8; n++ {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(0xA0 + i)
		}
		line := fmt.Sprintf("(1.0) can0 1F#%s\n", strings.ToUpper(hex.EncodeToString(data)))
		r := NewReader(strings.NewReader(line))
		rec, err := r.ReadRecord()
		if err != nil {
			t.Fatalf("n=%d: ReadRecord() error = %v", n, err)
		}
		if !bytes.Equal(rec.Frame.Payload(), data) {
			t.Fatalf("n=%d: data = % X, want % X", n, rec.Frame.Payload(), data)
		}
		if int(rec.Frame.Length) != n {
			t.Fatalf("n=%d: length = %d", n, rec.Frame.Length)
		}
	}
}

func TestReader_LineLongerThanBufferedChunk(t *testing.T) {
	// Device names have no length limit in the format; a line longer than
	// bufio's default buffer exercises the refill path of the reused
	// line buffer.
	device := strings.Repeat("d", 8192)
	line := "(9.000009) " + device + " 10#FF\n"
	r := NewReader(strings.NewReader(line))

	rec, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("ReadRecord() error = %v", err)
	}
	if rec.Device != device {
		t.Fatalf("device length = %d, want %d", len(rec.Device), len(device))
	}
	if rec.Frame.ID != 0x10 || !bytes.Equal(rec.Frame.Payload(), []byte{0xFF}) {
		t.Fatalf("frame = %+v", rec.Frame)
	}
}

func TestReader_DeviceOwnedAcrossReads(t *testing.T) {
	input := "(1.0) first 123#01\n(2.0) second 456#02\n"
	r := NewReader(strings.NewReader(input))

	rec1, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("first read error = %v", err)
	}
	if _, err := r.ReadRecord(); err != nil {
		t.Fatalf("second read error = %v", err)
	}
	// The line buffer was reused; the first record must be unaffected.
	if rec1.Device != "first" {
		t.Fatalf("first device = %q after buffer reuse", rec1.Device)
	}
}
