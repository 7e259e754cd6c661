// Package candump parses textual CAN capture logs in the candump line
// format into timed frame records.
//
// Each input line encodes one captured frame as
//
//	(SECONDS.MICROS) DEVICE ID#DATA
//
// e.g. "(1610000000.123456) can0 7E8#0102030405060708". The reader is
// streaming and line-oriented: one reusable buffer is cleared and refilled
// per line, and malformed lines are reported without poisoning the reader,
// so resumption policy stays with the caller.
package candump

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/candump/pkg/can"
)

// Record is one decoded capture log line.
type Record struct {
	// TimestampUS is the capture time in microseconds.
	TimestampUS uint64
	// Device is the capturing interface name (e.g. "can0"). It is an
	// owned copy; records stay valid across subsequent reads.
	Device string
	// Frame is the captured frame. The candump format cannot represent
	// bus error frames, so Frame.IsError is always false here.
	Frame can.Frame
}

// Reader decodes candump records from a byte source.
//
// A Reader owns its source's read cursor and a single reusable line buffer;
// it must not be used concurrently.
type Reader struct {
	src  *bufio.Reader
	line []byte
}

// NewReader returns a Reader decoding from r. Opening the file or socket
// behind r is the caller's business.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: bufio.NewReader(r)}
}

// ReadRecord reads and decodes the next log line.
//
// It returns io.EOF once the source is exhausted. Any other error matches
// one of the package sentinels under errors.Is; after a parse error the
// Reader remains usable and the next call moves on to the following line.
func (r *Reader) ReadRecord() (*Record, error) {
	n, err := r.readLine()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read line"), ErrIO)
	}
	if n == 0 {
		return nil, io.EOF
	}

	fields := fieldScanner{rest: trimLineEnding(r.line)}

	f, ok := fields.next()
	if !ok {
		return nil, errors.Wrap(ErrUnexpectedEndOfLine, "missing timestamp field")
	}
	ts, err := parseTimestamp(f)
	if err != nil {
		return nil, err
	}

	f, ok = fields.next()
	if !ok {
		return nil, errors.Wrap(ErrUnexpectedEndOfLine, "missing device field")
	}
	if !utf8.Valid(f) {
		return nil, errors.Wrapf(ErrInvalidDeviceName, "device %q", f)
	}
	device := string(f)

	f, ok = fields.next()
	if !ok {
		return nil, errors.Wrap(ErrUnexpectedEndOfLine, "missing frame field")
	}
	id, data, remote, err := parsePayload(f)
	if err != nil {
		return nil, err
	}

	// Error frames are not representable in this format, so the error
	// flag is always false.
	frame, err := can.NewFrame(id, data, remote, false)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "construct frame"), ErrConstruction)
	}

	return &Record{
		TimestampUS: ts,
		Device:      device,
		Frame:       frame,
	}, nil
}

// readLine refills the reused line buffer with the next line, including its
// terminator if present, and reports how many bytes were read. End of input
// is not an error: it shows up as zero bytes read.
func (r *Reader) readLine() (int, error) {
	r.line = r.line[:0]
	for {
		chunk, err := r.src.ReadSlice('\n')
		r.line = append(r.line, chunk...)
		switch {
		case err == nil:
			return len(r.line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return len(r.line), nil
		default:
			return 0, err
		}
	}
}

func trimLineEnding(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// fieldScanner yields the single-space-separated fields of a line as
// sub-slices of the line buffer, without copying. Like the format itself it
// has no tolerance for runs of spaces: two adjacent separators produce an
// empty field.
type fieldScanner struct {
	rest []byte
	done bool
}

func (s *fieldScanner) next() ([]byte, bool) {
	if s.done {
		return nil, false
	}
	if i := bytes.IndexByte(s.rest, ' '); i >= 0 {
		f := s.rest[:i]
		s.rest = s.rest[i+1:]
		return f, true
	}
	f := s.rest
	s.rest = nil
	s.done = true
	return f, true
}
