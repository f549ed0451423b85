package audio

import (
	"encoding/binary"
	"math"
)

// Float32sToBytes serializes samples as little-endian float32 PCM
// (PCMFormatFloat32LE), the interchange format of every backend here.
func Float32sToBytes(samples []float32) []byte {
	b := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return b
}

// BytesToFloat32s parses little-endian float32 PCM. A trailing partial
// sample is ignored.
func BytesToFloat32s(b []byte) []float32 {
	n := len(b) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return samples
}
