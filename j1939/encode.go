package j1939

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"go.einride.tech/can"
)

const (
	// All generated frames transmit at priority 6 regardless of the catalog's
	// declared per-PGN priority.
	FRAME_PRIORITY = 6
	SOURCE_ADDRESS = 0
)

// EncodedFrame is the full result of encoding one physical value. Produced
// fresh per call and owned by the caller.
type EncodedFrame struct {
	PhysicalValue float64  `json:"physical_value"`
	RawValue      uint64   `json:"raw_value"`
	RawHex        string   `json:"raw_hex"`
	RawBinary     string   `json:"raw_binary"`
	DataBytes     string   `json:"data_bytes"`
	DataArray     [8]uint8 `json:"data_array"`
	CANID         uint32   `json:"can_id"`
	CANIDHex      string   `json:"can_id_hex"`
	PGN           uint32   `json:"pgn"`
	PGNHex        string   `json:"pgn_hex"`
	SPN           uint32   `json:"spn"`
	Resolution    float64  `json:"resolution"`
	Offset        float64  `json:"offset"`
	Unit          string   `json:"unit"`
}

// Frame returns the encoded result as a bus-ready extended CAN frame.
func (f *EncodedFrame) Frame() can.Frame {
	return can.Frame{
		ID:         f.CANID,
		Length:     8,
		Data:       can.Data(f.DataArray),
		IsExtended: true,
	}
}

// PhysicalToRaw converts a physical value to the raw integer transmitted on
// the wire. Negative results saturate at 0 rather than erroring; fields are
// unsigned on the bus.
func PhysicalToRaw(value, resolution, offset float64) (raw uint64, err error) {
	if resolution == 0 {
		return 0, ErrZeroResolution
	}

	scaled := math.Round((value - offset) / resolution)
	if scaled < 0 {
		return 0, nil
	}
	return uint64(scaled), nil
}

// MaxRaw returns the largest raw value representable in lengthBits.
func MaxRaw(lengthBits uint8) uint64 {
	if lengthBits >= 64 {
		return math.MaxUint64
	}
	return uint64(1)<<lengthBits - 1
}

// PackBits places raw into an otherwise zeroed 8 byte data field, least
// significant bit first, starting at bit (startByte-1)*8 + (startBit-1).
// Raw values wider than the field silently clamp to the field maximum.
func PackBits(raw uint64, startByte, startBit, lengthBits uint8) (data [8]uint8) {
	if max := MaxRaw(lengthBits); raw > max {
		raw = max
	}

	pos := uint(startByte-1)*8 + uint(startBit-1)
	var payload uint64
	if pos < 64 {
		payload = raw << pos
	}
	binary.LittleEndian.PutUint64(data[:], payload)
	return
}

// ComputeCANID builds the 29 bit extended identifier for a PGN.
//
// The PDU Specific rule here matches the generator's documented behaviour:
// the PDU2 test is on the whole PGN (>= 0xF000) and PDU Specific collapses to
// 0xFF instead of carrying the group extension. This is a known divergence
// from SAE J1939-21 and is kept so that published identifiers stay stable.
func ComputeCANID(pgn uint32, sourceAddress uint8) (id uint32) {
	pduFormat := (pgn >> 8) & 0xFF
	pduSpecific := pgn & 0xFF
	if pgn >= 0xF000 {
		pduSpecific = 0xFF
	}

	id = uint32(FRAME_PRIORITY&0x7) << 26
	// bits 24-25: reserved and data page, always 0 here
	id |= pduFormat << 16
	id |= pduSpecific << 8
	id |= uint32(sourceAddress)
	return
}

// EncodeSignal scales, packs and addresses one physical value according to a
// signal definition. The only error case is a zero resolution; out of range
// values saturate silently at the field limits.
func EncodeSignal(value float64, def *SignalDefinition) (frame *EncodedFrame, err error) {
	raw, err := PhysicalToRaw(value, def.Resolution, def.Offset)
	if err != nil {
		return nil, err
	}
	if max := MaxRaw(def.LengthBits); raw > max {
		raw = max
	}

	data := PackBits(raw, def.StartByte, def.StartBit, def.LengthBits)
	id := ComputeCANID(def.PGN, SOURCE_ADDRESS)

	frame = &EncodedFrame{
		PhysicalValue: value,
		RawValue:      raw,
		RawHex:        fmt.Sprintf("0x%X", raw),
		RawBinary:     fmt.Sprintf("%0*b", int(def.LengthBits), raw),
		DataBytes:     strings.ToUpper(hex.EncodeToString(data[:])),
		DataArray:     data,
		CANID:         id,
		CANIDHex:      fmt.Sprintf("0x%08X", id),
		PGN:           def.PGN,
		PGNHex:        fmt.Sprintf("0x%04X", def.PGN),
		SPN:           def.SPN,
		Resolution:    def.Resolution,
		Offset:        def.Offset,
		Unit:          def.Unit,
	}
	return
}
