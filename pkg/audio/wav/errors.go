package wav

import (
	"fmt"
)

// FormatError means the payload is not a RIFF/WAVE container at all.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("not a WAV container: %s", e.Reason)
}

// UnsupportedFormatError means the container is WAV, but carries content
// this decoder does not handle (non-PCM, not 16-bit, or >2 channels).
type UnsupportedFormatError struct {
	AudioFormat   uint16
	BitsPerSample uint16
	Channels      uint16
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf(
		"unsupported WAV content: audio_format=%d bits_per_sample=%d channels=%d (want PCM16, mono or stereo)",
		e.AudioFormat, e.BitsPerSample, e.Channels,
	)
}

// MissingChunkError means a required sub-chunk was not found before the
// buffer was exhausted.
type MissingChunkError struct {
	ChunkID string
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("no %q chunk found in the WAV container", e.ChunkID)
}
