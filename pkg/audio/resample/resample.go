// Package resample converts mono PCM buffers between sample rates using
// linear interpolation. No anti-aliasing filter is applied; the output is
// meant for speech recognition models, not for listening.
package resample

import (
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
)

// TargetRate is the rate every acoustic model in this project expects.
const TargetRate = types.SampleRate(16000)

// Resample converts samples from inRate to outRate.
//
// When inRate == outRate the input slice is returned as-is. Otherwise the
// output length is floor(len(samples) * outRate / inRate) and each output
// sample is linearly interpolated between its two nearest source samples.
// Stateless: every call is a pure function of its arguments.
func Resample(
	samples []float32,
	inRate types.SampleRate,
	outRate types.SampleRate,
) []float32 {
	if inRate == outRate {
		return samples
	}
	if len(samples) == 0 {
		return nil
	}

	// Integer math for the length so that floor(len*out/in) is exact.
	outLen := int(uint64(len(samples)) * uint64(outRate) / uint64(inRate))
	ratio := float64(outRate) / float64(inRate)
	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) / ratio
		i0 := int(pos)
		if i0 > len(samples)-1 {
			i0 = len(samples) - 1
		}
		i1 := i0 + 1
		if i1 >= len(samples) {
			i1 = len(samples) - 1
		}
		t := float32(pos - float64(i0))
		out[i] = (1-t)*samples[i0] + t*samples[i1]
	}
	return out
}

// To16k resamples to TargetRate.
func To16k(
	samples []float32,
	inRate types.SampleRate,
) []float32 {
	return Resample(samples, inRate, TargetRate)
}
