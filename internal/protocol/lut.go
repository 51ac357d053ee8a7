// Package protocol serializes pixels into the WS2812 single-wire bit stream
// as seen by a 16-bit word serial peripheral.
package protocol

const (
	// Each source bit becomes three line bits: 100 for a zero, 110 for a one.
	Zero = 0b100
	One  = 0b110

	BytesPerColor = 3

	// BitRate is the line rate the patterns are timed for, ~385ns per bit.
	BitRate = 2_600_000

	// ResetBits holds the line low for at least 50µs.
	ResetBits = 50*BitRate/1_000_000 + 1

	// ResetBytes is ResetBits in bytes, rounded up to a whole 16-bit word so
	// the trailing byte displaced by the word swap never eats into the latch.
	ResetBytes = ((ResetBits+7)/8 + 1) &^ 1
)

var lut = buildLUT()

// Build LUT: for each input byte, expand each bit MSB->LSB to 3 line bits and
// pack the resulting 24 bits big-endian into 3 bytes.
func buildLUT() [256][BytesPerColor]byte {
	var t [256][BytesPerColor]byte
	for v := 0; v < 256; v++ {
		out := uint32(0)
		for i := 7; i >= 0; i-- {
			tri := uint32(Zero)
			if (v>>i)&1 == 1 {
				tri = One
			}
			out = (out << 3) | tri
		}
		t[v][0] = byte(out >> 16)
		t[v][1] = byte(out >> 8)
		t[v][2] = byte(out)
	}
	return t
}

// Lookup returns the three encoded bytes for one color component.
func Lookup(v uint8) [BytesPerColor]byte { return lut[v] }

// Decode reverses Lookup. ok is false if any 3-bit group is not a valid pattern.
func Decode(b [BytesPerColor]byte) (v uint8, ok bool) {
	bits := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	for i := 7; i >= 0; i-- {
		switch (bits >> (uint(i) * 3)) & 0b111 {
		case One:
			v |= 1 << uint(i)
		case Zero:
		default:
			return 0, false
		}
	}
	return v, true
}
