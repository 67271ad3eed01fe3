package modbus

import "encoding/binary"

// asBytes encodes a single uint16 as big-endian bytes.
func asBytes(in uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, in)
	return out
}

// registersToBytes encodes a slice of 16-bit register values as
// big-endian bytes, two bytes per register.
func registersToBytes(in []uint16) (out []byte) {
	out = make([]byte, 0, 2*len(in))
	for _, v := range in {
		out = append(out, asBytes(v)...)
	}
	return
}

// bytesToRegisters decodes a slice of big-endian bytes into 16-bit
// register values, two bytes per register. Callers must ensure len(in)
// is even.
func bytesToRegisters(in []byte) (out []uint16) {
	out = make([]uint16, 0, len(in)/2)
	for i := 0; i < len(in); i += 2 {
		out = append(out, binary.BigEndian.Uint16(in[i:i+2]))
	}
	return
}

// encodeBools packs a slice of booleans into bytes, LSB-first, with the
// last byte zero-padded (spec §4.2).
func encodeBools(in []bool) []byte {
	byteCount := len(in) / 8
	if len(in)%8 != 0 {
		byteCount++
	}

	out := make([]byte, byteCount)
	for i, v := range in {
		if v {
			out[i/8] |= 0x01 << (uint(i) % 8)
		}
	}

	return out
}

// decodeBools unpacks quantity booleans from LSB-first packed bytes.
// Callers must ensure in has enough bytes to cover quantity bits.
func decodeBools(quantity uint16, in []byte) []bool {
	out := make([]bool, quantity)
	for i := uint(0); i < uint(quantity); i++ {
		out[i] = (in[i/8]>>(i%8))&0x01 == 0x01
	}
	return out
}
