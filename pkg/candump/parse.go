package candump

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
)

const microsPerSecond = 1_000_000

// parseUint parses an unsigned integer from raw field bytes. strconv is
// already strict about what we need rejected: empty input, signs, spaces
// and out-of-range values all fail.
func parseUint(b []byte, base int, bitSize int) (uint64, error) {
	return strconv.ParseUint(string(b), base, bitSize)
}

// parseTimestamp converts a "(SECONDS.MICROS)" field into a single
// microsecond count. The combination saturates instead of wrapping, so a
// numerically huge capture session caps at math.MaxUint64.
func parseTimestamp(field []byte) (uint64, error) {
	if len(field) < 3 || field[0] != '(' || field[len(field)-1] != ')' {
		return 0, errors.Wrapf(ErrInvalidTimestamp, "field %q", field)
	}
	inner := field[1 : len(field)-1]

	dot := bytes.IndexByte(inner, '.')
	if dot < 0 || bytes.IndexByte(inner[dot+1:], '.') >= 0 {
		return 0, errors.Wrapf(ErrInvalidTimestamp, "field %q", field)
	}

	secs, err := parseUint(inner[:dot], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidTimestamp, "seconds %q", inner[:dot])
	}
	micros, err := parseUint(inner[dot+1:], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidTimestamp, "microseconds %q", inner[dot+1:])
	}

	if secs > math.MaxUint64/microsPerSecond {
		return math.MaxUint64, nil
	}
	t := secs * microsPerSecond
	if t > math.MaxUint64-micros {
		return math.MaxUint64, nil
	}
	return t + micros, nil
}

// parsePayload splits an "ID#DATA" field into the numeric frame ID, the
// decoded data bytes and the remote-request flag. The ID is unprefixed hex.
// DATA is either the exact single byte 'R' (remote request, empty payload)
// or an even-length hex string.
func parsePayload(field []byte) (id uint32, data []byte, remote bool, err error) {
	sep := bytes.IndexByte(field, '#')
	if sep < 0 {
		return 0, nil, false, errors.Wrapf(ErrInvalidFrame, "no '#' separator in %q", field)
	}
	idText, dataText := field[:sep], field[sep+1:]

	id64, err := parseUint(idText, 16, 32)
	if err != nil {
		return 0, nil, false, errors.Wrapf(ErrInvalidFrame, "frame id %q", idText)
	}

	if len(dataText) == 1 && dataText[0] == 'R' {
		return uint32(id64), nil, true, nil
	}

	data = make([]byte, hex.DecodedLen(len(dataText)))
	if _, err := hex.Decode(data, dataText); err != nil {
		return 0, nil, false, errors.Wrapf(ErrInvalidFrame, "frame data %q", dataText)
	}
	return uint32(id64), data, false, nil
}
