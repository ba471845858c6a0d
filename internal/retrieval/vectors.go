package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CosineSimilarity returns (u·v)/(|u||v|). It is 0 when either vector has
// zero norm or the lengths differ.
func CosineSimilarity(u, v []float32) float64 {
	if len(u) != len(v) || len(u) == 0 {
		return 0
	}
	var dot, uu, vv float64
	for i := range u {
		a, b := float64(u[i]), float64(v[i])
		dot += a * b
		uu += a * a
		vv += b * b
	}
	if uu == 0 || vv == 0 {
		return 0
	}
	return dot / (math.Sqrt(uu) * math.Sqrt(vv))
}

// Norm returns the L2 norm of a vector.
func Norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// A length that is not a multiple of 4 means the blob is corrupt.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
