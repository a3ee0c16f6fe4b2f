// Package protocol decodes the body composition notifications sent by the
// Mi Body Composition Scale 2 and decides which of them are worth reporting.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FrameLen is the number of leading notification bytes the decoder reads.
// Longer payloads are accepted; the trailing bytes are ignored.
const FrameLen = 13

// Byte layout of a body composition frame.
const (
	flagsOffset     = 1
	impedanceOffset = 9
	weightOffset    = 11

	stabilizedBit = 0x20

	// weightDivisor converts the raw weight field to kilograms.
	weightDivisor = 200.0
	// heightDivisor feeds the scale-derived height proxy, sqrt(weight / 21).
	heightDivisor = 21.0
)

// ErrMalformedPayload is returned when a notification is shorter than FrameLen.
var ErrMalformedPayload = errors.New("protocol: malformed payload")

// Measurement is a single reading taken by the scale.
//
// Height is not measured: it is a dimensionless proxy derived from Weight
// and is kept because downstream consumers rely on the exact value.
type Measurement struct {
	Weight    float64 `json:"weight"`    // kilograms
	Impedance int     `json:"impedance"` // ohms
	Height    float64 `json:"height"`
}

// Message is one decoded notification.
type Message struct {
	Stabilized  bool
	Measurement Measurement
}

// String renders the message for log output.
func (m Message) String() string {
	return fmt.Sprintf("stabilized=%t weight=%.2fkg impedance=%dΩ height=%.4f",
		m.Stabilized, m.Measurement.Weight, m.Measurement.Impedance, m.Measurement.Height)
}

// Decode parses a body composition notification.
//
//	byte  1      flags, bit 5 = weight has settled
//	bytes 9-10   impedance, uint16 little-endian, ohms
//	bytes 11-12  weight, uint16 little-endian, 1/200 kg
func Decode(buf []byte) (Message, error) {
	if len(buf) < FrameLen {
		return Message{}, fmt.Errorf("%w: got %d bytes, need %d", ErrMalformedPayload, len(buf), FrameLen)
	}

	impedance := binary.LittleEndian.Uint16(buf[impedanceOffset : impedanceOffset+2])
	weightRaw := binary.LittleEndian.Uint16(buf[weightOffset : weightOffset+2])
	weight := float64(weightRaw) / weightDivisor

	return Message{
		Stabilized: buf[flagsOffset]&stabilizedBit != 0,
		Measurement: Measurement{
			Weight:    weight,
			Impedance: int(impedance),
			Height:    math.Sqrt(weight / heightDivisor),
		},
	}, nil
}
