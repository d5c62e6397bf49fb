package j1939

import (
	"encoding/binary"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// read lengthBits back out of the data field, LSB first from the same offset
func unpackBits(data [8]uint8, startByte, startBit, lengthBits uint8) uint64 {
	payload := binary.LittleEndian.Uint64(data[:])
	pos := uint(startByte-1)*8 + uint(startBit-1)
	out := payload >> pos
	if lengthBits < 64 {
		out &= uint64(1)<<lengthBits - 1
	}
	return out
}

func TestPhysicalToRaw(t *testing.T) {
	Convey("Linear scaling matches the signal tables", t, func() {
		Convey("engine speed at 1000 rpm", func() {
			raw, err := PhysicalToRaw(1000, 0.125, 0)
			So(err, ShouldBeNil)
			So(raw, ShouldEqual, 8000)
		})

		Convey("offset signals shift before scaling", func() {
			// driver demand torque: resolution 1, offset -125
			raw, err := PhysicalToRaw(0, 1.0, -125)
			So(err, ShouldBeNil)
			So(raw, ShouldEqual, 125)
		})

		Convey("results round to the nearest raw step", func() {
			raw, err := PhysicalToRaw(1000.06, 0.125, 0)
			So(err, ShouldBeNil)
			So(raw, ShouldEqual, 8000)
		})

		Convey("negative raw values floor at zero, not an error", func() {
			raw, err := PhysicalToRaw(-500, 0.125, 0)
			So(err, ShouldBeNil)
			So(raw, ShouldEqual, 0)
		})

		Convey("zero resolution is a configuration error", func() {
			_, err := PhysicalToRaw(1000, 0, 0)
			So(err, ShouldEqual, ErrZeroResolution)
		})
	})

	Convey("Raw values reconstruct the physical value within half a step", t, func() {
		signals := DefaultCatalog().LiveSignals()
		for _, def := range signals {
			span := def.MaxPhysical - def.MinPhysical
			for i := 0; i <= 10; i++ {
				v := def.MinPhysical + span*float64(i)/10
				raw, err := PhysicalToRaw(v, def.Resolution, def.Offset)
				So(err, ShouldBeNil)
				back := float64(raw)*def.Resolution + def.Offset
				So(math.Abs(back-v), ShouldBeLessThanOrEqualTo, def.Resolution/2)
			}
		}
	})
}

func TestPackBits(t *testing.T) {
	Convey("Packing is little-endian and LSB first", t, func() {
		Convey("16 bit field at byte 4", func() {
			data := PackBits(0x1F40, 4, 1, 16)
			So(data, ShouldResemble, [8]uint8{0x00, 0x00, 0x00, 0x40, 0x1F, 0x00, 0x00, 0x00})
		})

		Convey("fields can start mid-byte and span byte boundaries", func() {
			// 12 bits starting at bit 5 of byte 1
			data := PackBits(0xABC, 1, 5, 12)
			So(data[0], ShouldEqual, 0xC0) // low nibble of 0xC shifted up
			So(data[1], ShouldEqual, 0xAB)
			So(unpackBits(data, 1, 5, 12), ShouldEqual, 0xABC)
		})

		Convey("oversized raw values clamp to the field maximum", func() {
			data := PackBits(0xFFFF, 1, 1, 8)
			So(data[0], ShouldEqual, 0xFF)
			So(data[1], ShouldEqual, 0x00)
		})
	})

	Convey("Pack then unpack round-trips every width", t, func() {
		for lengthBits := uint8(1); lengthBits <= 64; lengthBits++ {
			raw := uint64(0xA5A5A5A5A5A5A5A5) & MaxRaw(lengthBits)
			for startByte := uint8(1); startByte <= 8; startByte++ {
				for startBit := uint8(1); startBit <= 8; startBit++ {
					span := uint(startByte-1)*8 + uint(startBit-1) + uint(lengthBits)
					if span > 64 {
						continue
					}
					data := PackBits(raw, startByte, startBit, lengthBits)
					So(unpackBits(data, startByte, startBit, lengthBits), ShouldEqual, raw)
				}
			}
		}
	})
}

func TestComputeCANID(t *testing.T) {
	Convey("Identifiers follow the documented addressing rule", t, func() {
		Convey("PGN 61444 with source address 0", func() {
			So(ComputeCANID(61444, 0), ShouldEqual, 0x18F0FF00)
		})

		Convey("PDU Specific collapses to 0xFF for PGNs at or above 0xF000", func() {
			So(ComputeCANID(0xF004, 0)>>8&0xFF, ShouldEqual, 0xFF)
			So(ComputeCANID(0xFEF1, 0)>>8&0xFF, ShouldEqual, 0xFF)
		})

		Convey("PGNs below 0xF000 keep their low byte as PDU Specific", func() {
			So(ComputeCANID(0xEF12, 0)>>8&0xFF, ShouldEqual, 0x12)
		})

		Convey("source address occupies the low byte", func() {
			So(ComputeCANID(61444, 0x42)&0xFF, ShouldEqual, 0x42)
		})

		Convey("top three bits are always priority 6", func() {
			pgns := []uint32{0, 0x1234, 0xEF12, 0xF004, 0xFEF1, 0xFFFF}
			for _, pgn := range pgns {
				for _, sa := range []uint8{0, 1, 0x80, 0xFF} {
					So(ComputeCANID(pgn, sa)>>26, ShouldEqual, 0b110)
				}
			}
		})
	})
}

func TestEncodeSignal(t *testing.T) {
	catalog := DefaultCatalog()

	Convey("Engine speed at 1000 rpm produces the reference frame", t, func() {
		def, err := catalog.LiveSignal("engine_speed")
		So(err, ShouldBeNil)

		frame, err := EncodeSignal(1000, def)
		So(err, ShouldBeNil)

		So(frame.RawValue, ShouldEqual, 8000)
		So(frame.RawHex, ShouldEqual, "0x1F40")
		So(frame.RawBinary, ShouldEqual, "0001111101000000")
		So(frame.DataBytes, ShouldEqual, "000000401F000000")
		So(frame.DataArray, ShouldResemble, [8]uint8{0x00, 0x00, 0x00, 0x40, 0x1F, 0x00, 0x00, 0x00})
		So(frame.CANID, ShouldEqual, 0x18F0FF00)
		So(frame.CANIDHex, ShouldEqual, "0x18F0FF00")
		So(frame.PGNHex, ShouldEqual, "0xF004")
		So(frame.Unit, ShouldEqual, "rpm")
	})

	Convey("Raw values never leave the representable range", t, func() {
		def, _ := catalog.LiveSignal("driver_torque")

		Convey("below range floors at zero", func() {
			frame, err := EncodeSignal(-4000, def)
			So(err, ShouldBeNil)
			So(frame.RawValue, ShouldEqual, 0)
		})

		Convey("above range clamps to the field maximum", func() {
			frame, err := EncodeSignal(4000, def)
			So(err, ShouldBeNil)
			So(frame.RawValue, ShouldEqual, MaxRaw(def.LengthBits))
		})
	})

	Convey("Encoder failures propagate unchanged", t, func() {
		def := &SignalDefinition{ID: "broken", PGN: 61444, SPN: 190, LengthBits: 16, StartByte: 1, StartBit: 1}
		_, err := EncodeSignal(1000, def)
		So(err, ShouldEqual, ErrZeroResolution)
	})

	Convey("Frame converts to a bus-ready extended frame", t, func() {
		def, _ := catalog.LiveSignal("engine_speed")
		frame, _ := EncodeSignal(1000, def)

		f := frame.Frame()
		So(f.ID, ShouldEqual, 0x18F0FF00)
		So(f.Length, ShouldEqual, 8)
		So(f.IsExtended, ShouldBeTrue)
		So(f.Data[3], ShouldEqual, 0x40)
		So(f.Data[4], ShouldEqual, 0x1F)
	})
}

func BenchmarkEncodeSignal(b *testing.B) {
	def, _ := DefaultCatalog().LiveSignal("engine_speed")
	for n := 0; n < b.N; n++ {
		EncodeSignal(1000, def)
	}
}
