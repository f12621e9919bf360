package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding blob encodings. int8 scalar quantization cuts the at-rest size
// roughly 4x; the dequantized vector differs from the original by at most
// one quantization step per component, which costs a little recall when the
// graph is rebuilt from persisted copies.
const (
	encodingFloat32 byte = 1
	encodingInt8    byte = 2
)

// EncodeEmbedding serializes a vector. quantize selects int8 mode.
func EncodeEmbedding(vec []float32, quantize bool) []byte {
	if !quantize {
		out := make([]byte, 1+4*len(vec))
		out[0] = encodingFloat32
		for i, v := range vec {
			binary.LittleEndian.PutUint32(out[1+4*i:], math.Float32bits(v))
		}
		return out
	}

	var maxAbs float32
	for _, v := range vec {
		if a := float32(math.Abs(float64(v))); a > maxAbs {
			maxAbs = a
		}
	}
	scale := maxAbs / 127
	if scale == 0 {
		scale = 1
	}

	out := make([]byte, 1+4+len(vec))
	out[0] = encodingInt8
	binary.LittleEndian.PutUint32(out[1:], math.Float32bits(scale))
	for i, v := range vec {
		q := int8(math.Round(float64(v / scale)))
		out[5+i] = byte(q)
	}
	return out
}

// DecodeEmbedding deserializes a vector blob.
func DecodeEmbedding(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] {
	case encodingFloat32:
		if (len(data)-1)%4 != 0 {
			return nil, fmt.Errorf("malformed float32 embedding blob")
		}
		vec := make([]float32, (len(data)-1)/4)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[1+4*i:]))
		}
		return vec, nil
	case encodingInt8:
		if len(data) < 5 {
			return nil, fmt.Errorf("malformed int8 embedding blob")
		}
		scale := math.Float32frombits(binary.LittleEndian.Uint32(data[1:]))
		vec := make([]float32, len(data)-5)
		for i := range vec {
			vec[i] = float32(int8(data[5+i])) * scale
		}
		return vec, nil
	default:
		return nil, fmt.Errorf("unknown embedding encoding %d", data[0])
	}
}
