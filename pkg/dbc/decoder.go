package dbc

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	ecan "go.einride.tech/can"
	"go.einride.tech/can/pkg/descriptor"

	"github.com/BIwashi/candump/pkg/can"
)

// DecodedSignal is one signal extracted from a frame.
type DecodedSignal struct {
	// Raw is the on-wire value: bool, float64, int64 or uint64 depending
	// on the signal definition.
	Raw any
	// Physical is the scaled/offset engineering value, when applicable.
	Physical *float64
	// Description is the value description matching Raw, if one exists.
	Description string
	// Signal is the descriptor the value was decoded against.
	Signal *descriptor.Signal
}

// Decoder decodes frames against a compiled DBC database.
type Decoder struct {
	compiler *Compiler
}

func NewDecoder(compiler *Compiler) *Decoder {
	return &Decoder{
		compiler: compiler,
	}
}

// Decode extracts all signals defined for the frame's message, honoring
// multiplexing. Remote frames carry no payload and cannot be decoded.
func (d *Decoder) Decode(f can.Frame) (map[string]DecodedSignal, error) {
	message, ok := d.compiler.db.Message(f.ID)
	if !ok {
		return nil, errors.Newf("unknown message id: 0x%X", f.ID)
	}
	if f.Length != message.Length || f.IsExtended != message.IsExtended || f.IsRemote {
		return nil, errors.New("frame shape mismatch")
	}

	var (
		signalsMap = make(map[string]DecodedSignal)
		mux        *descriptor.Signal
		muxVal     uint64
	)

	// decode non-multiplexed signals
	for _, s := range message.Signals {
		if s.IsMultiplexed {
			continue
		}
		if s.IsMultiplexer {
			mux = s
			muxVal = s.UnmarshalUnsigned(f.Data)
		}
		signalsMap[s.Name] = decodeSignal(s, f.Data)
	}

	// decode multiplexed signals
	if mux != nil {
		for _, s := range message.Signals {
			if !s.IsMultiplexed {
				continue
			}
			if muxVal == uint64(s.MultiplexerValue) {
				signalsMap[s.Name] = decodeSignal(s, f.Data)
			}
		}
	}

	return signalsMap, nil
}

func decodeSignal(s *descriptor.Signal, data ecan.Data) DecodedSignal {
	var (
		raw         any
		physical    *float64
		description string
	)
	switch {
	case s.Length == 1:
		raw = s.UnmarshalBool(data)
	case s.IsFloat:
		raw = s.UnmarshalFloat(data)
	case s.IsSigned:
		raw = s.UnmarshalSigned(data)
	default:
		raw = s.UnmarshalUnsigned(data)
	}

	if !s.IsFloat && (s.Scale != 0 || s.Offset != 0 || s.Min != 0 || s.Max != 0) {
		switch v := raw.(type) {
		case int64:
			pv := s.ToPhysical(float64(v))
			physical = &pv
		case uint64:
			pv := s.ToPhysical(float64(v))
			physical = &pv
		}
	}
	if vd, ok := s.UnmarshalValueDescription(data); ok {
		description = vd
	}

	return DecodedSignal{
		Raw:         raw,
		Physical:    physical,
		Description: description,
		Signal:      s,
	}
}

// FormatValue renders the signal's most meaningful value for display: the
// value description when present, the physical value with its unit when
// scaling applies, otherwise the raw value.
func (ds DecodedSignal) FormatValue() string {
	if ds.Description != "" {
		return ds.Description
	}
	if ds.Physical != nil {
		return formatPhysical(*ds.Physical, ds.Signal.Unit)
	}
	return fmt.Sprintf("%v", ds.Raw)
}

// formatPhysical picks a precision suited to the value's magnitude.
func formatPhysical(value float64, unit string) string {
	var formatted string
	abs := math.Abs(value)
	switch {
	case abs == 0:
		formatted = "0"
	case abs >= 1000 || abs < 0.01:
		formatted = fmt.Sprintf("%.3e", value)
	case abs >= 100:
		formatted = fmt.Sprintf("%.1f", value)
	case abs >= 10:
		formatted = fmt.Sprintf("%.2f", value)
	default:
		formatted = fmt.Sprintf("%.3f", value)
	}
	if unit != "" {
		return formatted + " " + unit
	}
	return formatted
}
