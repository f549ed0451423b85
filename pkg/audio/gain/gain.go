// Package gain levels PCM buffers to a target loudness before they are
// handed to a speech model.
package gain

import (
	"math"
)

const (
	// TargetRMS is the loudness we aim for. Chosen empirically: loud
	// enough for ASR, quiet enough to keep headroom.
	TargetRMS = 0.1
	// MaxGain caps amplification so that near-silent noise floors are not
	// blown up into full-scale garbage.
	MaxGain = 0.99
	// ClipLevel is the hard limit applied after gain.
	ClipLevel = 0.99
)

// RMS returns the root-mean-square amplitude of the buffer.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Normalize scales the buffer towards TargetRMS and hard-clips the result
// to [-ClipLevel, ClipLevel]. All-zero input is returned unchanged.
func Normalize(samples []float32) []float32 {
	rms := RMS(samples)
	g := 1.0
	if rms > 0 {
		g = TargetRMS / rms
	}
	if g > MaxGain {
		g = MaxGain
	}

	out := make([]float32, len(samples))
	for i, s := range samples {
		v := float64(s) * g
		if v > ClipLevel {
			v = ClipLevel
		}
		if v < -ClipLevel {
			v = -ClipLevel
		}
		out[i] = float32(v)
	}
	return out
}
