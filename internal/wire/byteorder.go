// Package wire implements the DMSS outer-packet framing: fixed-width
// integer codecs for unaligned buffers and the 32-byte prologue plus
// length-prefixed body carrier used by both the control and stream
// sockets.
package wire

// ReadU16LE reads a little-endian uint16 from b[0:2]. Callers must
// ensure len(b) >= 2.
func ReadU16LE(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// ReadU32LE reads a little-endian uint32 from b[0:4]. Callers must
// ensure len(b) >= 4.
func ReadU32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ReadU16BE reads a big-endian uint16 from b[0:2]. Callers must ensure
// len(b) >= 2.
func ReadU16BE(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// ReadU32BE reads a big-endian uint32 from b[0:4]. Callers must ensure
// len(b) >= 4.
func ReadU32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// PutU16LE writes v to b[0:2] little-endian. Callers must ensure
// len(b) >= 2.
func PutU16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// PutU32LE writes v to b[0:4] little-endian. Callers must ensure
// len(b) >= 4.
func PutU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
