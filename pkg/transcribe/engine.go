package transcribe

import (
	"context"
	"io"

	"github.com/voicetrainer/speechpipe/pkg/audio/types"
)

// Shape selects how decoded PCM is labeled when handed to a model
// runtime. Different runtimes disagree about the field name, so the
// service probes them in order (see Service.Transcribe).
type Shape int

const (
	// ShapeAudio: {"audio": samples, "sampling_rate": rate}.
	ShapeAudio = Shape(iota)
	// ShapeWaveform: {"waveform": samples, "sampling_rate": rate}.
	ShapeWaveform
	// ShapeBareSamples: the sample array alone.
	ShapeBareSamples
)

func (s Shape) String() string {
	switch s {
	case ShapeAudio:
		return "audio"
	case ShapeWaveform:
		return "waveform"
	case ShapeBareSamples:
		return "bare_samples"
	default:
		return "unknown"
	}
}

// Shapes is the probing order: most runtimes take "audio", older ones
// take "waveform", the rest accept a bare array.
var Shapes = []Shape{ShapeAudio, ShapeWaveform, ShapeBareSamples}

// Request is one inference call. Either Samples is set (decoded PCM,
// Shape selects its labeling) or only Raw is (opaque bytes passed
// through to the runtime).
type Request struct {
	Raw         []byte
	ContentType string

	Samples    []float32
	SampleRate types.SampleRate
	Shape      Shape
}

// Engine is a loaded speech-recognition model.
type Engine interface {
	io.Closer

	ModelID() string
	Infer(ctx context.Context, req Request) (string, error)
}

// Loader constructs an Engine on demand. Loading may be expensive
// (model download, auth handshake); the service calls it at most once
// at a time and caches the result for the process lifetime.
type Loader struct {
	ModelID string
	Load    func(ctx context.Context) (Engine, error)
}
