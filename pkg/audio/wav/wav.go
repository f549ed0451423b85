// Package wav serializes mono float32 PCM into RIFF/WAVE PCM16 containers
// and parses such containers back. The encoder always emits the canonical
// 44-byte header; the decoder walks sub-chunks, so containers with extra
// chunks (LIST, fact, ...) are accepted too.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/voicetrainer/speechpipe/pkg/audio/types"
)

const headerSize = 44

// header is the canonical PCM WAV header layout.
type header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// Encode serializes mono samples as a 16-bit PCM WAV container.
// Samples are clamped to [-1, 1] before quantization.
func Encode(samples []float32, sampleRate types.SampleRate) []byte {
	dataSize := uint32(len(samples) * 2)
	h := header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		// Writing to a bytes.Buffer cannot fail.
		panic(fmt.Errorf("unable to serialize the WAV header: %w", err))
	}

	var sb [2]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint16(sb[:], uint16(quantize(s)))
		buf.Write(sb[:])
	}
	return buf.Bytes()
}

// quantize converts a [-1, 1] float sample to int16. The asymmetric scale
// maps -1.0 to -32768 and +1.0 to +32767 without overflow.
func quantize(s float32) int16 {
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// Audio is a decoded PCM buffer. Stereo sources are downmixed to mono by
// averaging, so Samples is always single-channel.
type Audio struct {
	Samples    []float32
	SampleRate types.SampleRate
}

// Decode parses a RIFF/WAVE PCM16 container.
//
// Returned errors: *FormatError when the outer container is not RIFF/WAVE,
// *UnsupportedFormatError for non-PCM16 or >2 channel content and
// *MissingChunkError when a required sub-chunk is absent.
func Decode(b []byte) (*Audio, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, &FormatError{Reason: "missing RIFF/WAVE magic"}
	}

	var (
		fmtFound    bool
		audioFormat uint16
		numChannels uint16
		sampleRate  uint32
		bitsPerSamp uint16

		dataFound  bool
		dataOffset int
		dataSize   int
	)

	// Walk sub-chunks: 4-byte id, 4-byte little-endian size, payload.
	off := 12
	for off+8 <= len(b) && !(fmtFound && dataFound) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if body+16 > len(b) {
				return nil, &FormatError{Reason: "truncated fmt chunk"}
			}
			audioFormat = binary.LittleEndian.Uint16(b[body:])
			numChannels = binary.LittleEndian.Uint16(b[body+2:])
			sampleRate = binary.LittleEndian.Uint32(b[body+4:])
			bitsPerSamp = binary.LittleEndian.Uint16(b[body+14:])
			fmtFound = true
		case "data":
			dataOffset = body
			dataSize = size
			if dataOffset+dataSize > len(b) {
				dataSize = len(b) - dataOffset
			}
			dataFound = true
		}

		off = body + size
	}

	if !fmtFound {
		return nil, &MissingChunkError{ChunkID: "fmt "}
	}
	if !dataFound {
		return nil, &MissingChunkError{ChunkID: "data"}
	}
	if audioFormat != 1 || bitsPerSamp != 16 {
		return nil, &UnsupportedFormatError{
			AudioFormat:   audioFormat,
			BitsPerSample: bitsPerSamp,
			Channels:      numChannels,
		}
	}
	if numChannels != 1 && numChannels != 2 {
		return nil, &UnsupportedFormatError{
			AudioFormat:   audioFormat,
			BitsPerSample: bitsPerSamp,
			Channels:      numChannels,
		}
	}

	frames := dataSize / (2 * int(numChannels))
	samples := make([]float32, frames)
	data := b[dataOffset:]
	if numChannels == 1 {
		for i := 0; i < frames; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2:]))
			samples[i] = float32(v) / 32768
		}
	} else {
		for i := 0; i < frames; i++ {
			l := int16(binary.LittleEndian.Uint16(data[i*4:]))
			r := int16(binary.LittleEndian.Uint16(data[i*4+2:]))
			samples[i] = (float32(l) + float32(r)) / 2 / 32768
		}
	}

	return &Audio{
		Samples:    samples,
		SampleRate: types.SampleRate(sampleRate),
	}, nil
}

// Duration returns the playback length of the buffer.
func (a *Audio) Duration() time.Duration {
	if a.SampleRate == 0 {
		return 0
	}
	return time.Duration(uint64(time.Second) * uint64(len(a.Samples)) / uint64(a.SampleRate))
}

// Looks reports whether the payload looks like a RIFF/WAVE container,
// without parsing it.
func Looks(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}
