// Package enc provides fixed-width little-endian scalar encoding used by
// the compound record codec. All storage types this module writes are
// little-endian, matching the H5T_STD_*LE and H5T_IEEE_F*LE types.
package enc

import (
	"encoding/binary"
	"math"

	"golang.org/x/exp/constraints"
)

// PutBits writes the low len(b) bytes of bits into b, little-endian.
// len(b) must be 1, 2, 4 or 8.
func PutBits(b []byte, bits uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(bits)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(bits))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(bits))
	case 8:
		binary.LittleEndian.PutUint64(b, bits)
	default:
		panic("enc: invalid scalar width")
	}
}

// Bits reads len(b) bytes as an unsigned little-endian integer.
func Bits(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		panic("enc: invalid scalar width")
	}
}

// SignExtend interprets the low size bytes of bits as a signed integer.
func SignExtend(bits uint64, size int) int64 {
	shift := uint(64 - 8*size)
	return int64(bits<<shift) >> shift
}

// PutFloat writes v into b as IEEE 754, len(b) selects the width.
func PutFloat(b []byte, v float64) {
	switch len(b) {
	case 4:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case 8:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	default:
		panic("enc: invalid float width")
	}
}

// Float reads an IEEE 754 value from b, len(b) selects the width.
func Float(b []byte) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		panic("enc: invalid float width")
	}
}

// PutInts encodes src element-wise into dst using size bytes per element.
// dst must hold len(src)*size bytes.
func PutInts[T constraints.Integer](dst []byte, src []T, size int) {
	for i, v := range src {
		PutBits(dst[i*size:(i+1)*size], uint64(int64(v)))
	}
}

// Ints decodes n size-byte integers from src.
func Ints[T constraints.Integer](src []byte, n, size int, signed bool) []T {
	out := make([]T, n)
	for i := range out {
		bits := Bits(src[i*size : (i+1)*size])
		if signed {
			out[i] = T(SignExtend(bits, size))
		} else {
			out[i] = T(bits)
		}
	}
	return out
}

// PutFloats encodes src element-wise into dst using size bytes per element.
func PutFloats[T constraints.Float](dst []byte, src []T, size int) {
	for i, v := range src {
		PutFloat(dst[i*size:(i+1)*size], float64(v))
	}
}

// Floats decodes n size-byte floats from src.
func Floats[T constraints.Float](src []byte, n, size int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = T(Float(src[i*size : (i+1)*size]))
	}
	return out
}
