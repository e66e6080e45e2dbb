// Package embedding persists fixed-length float vectors attached to documents
// and ranks them by cosine similarity.
package embedding

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// Encode packs vec as little-endian float32 values and base64-encodes the
// result so it can live in a TEXT column.
func Encode(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Decode reverses Encode. It always returns dim values: corrupt input,
// legacy JSON arrays and length mismatches yield a zero vector with ok false.
func Decode(s string, dim int) (vec []float32, ok bool) {
	if dim < 0 {
		dim = 0
	}
	zero := make([]float32, dim)
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 4*dim {
		return zero, false
	}
	vec = make([]float32, dim)
	for i := range vec {
		v := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return zero, false
		}
		vec[i] = v
	}
	return vec, true
}

// Cosine returns the cosine similarity of a and b, or 0 when their lengths
// differ or either is a zero vector.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
