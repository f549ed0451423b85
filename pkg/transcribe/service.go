// Package transcribe orchestrates speech-to-text model runtimes: lazy
// exactly-once model loading with a fallback model, payload decoding and
// input-shape probing. The model runtime itself is a black box behind
// the Engine interface.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
	"github.com/voicetrainer/speechpipe/pkg/audio/wav"
)

// Payload is what arrives over the wire: opaque bytes plus the declared
// content type.
type Payload struct {
	Raw         []byte
	ContentType string
}

// Debug carries diagnostics for empty transcripts, so that silent
// failures (wrong rate, empty buffer) can be told apart from silence.
type Debug struct {
	WAV        bool
	Bytes      int
	SampleRate types.SampleRate
	Samples    int
}

// Result is produced exactly once per submitted payload. An empty Text
// is a valid outcome, not an error.
type Result struct {
	Text    string
	ModelID string
	Debug   Debug
}

// Service holds the process-wide model state. Use one Service per
// process; concurrent first calls share a single in-flight load.
type Service struct {
	primary  Loader
	fallback Loader

	locker      sync.Mutex
	engine      Engine
	loadingCh   chan struct{}
	lastLoadErr error
}

func New(primary, fallback Loader) *Service {
	return &Service{
		primary:  primary,
		fallback: fallback,
	}
}

// getEngine returns the loaded engine, loading it on first use. The load
// is gated: whoever arrives first performs it, everyone else waits for
// that same attempt. A failed load leaves the state unloaded, so the
// next request after the failure retries from scratch.
func (s *Service) getEngine(
	ctx context.Context,
) (Engine, error) {
	s.locker.Lock()
	if s.engine != nil {
		defer s.locker.Unlock()
		return s.engine, nil
	}

	if ch := s.loadingCh; ch != nil {
		s.locker.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.locker.Lock()
		defer s.locker.Unlock()
		if s.engine != nil {
			return s.engine, nil
		}
		return nil, s.lastLoadErr
	}

	ch := make(chan struct{})
	s.loadingCh = ch
	s.locker.Unlock()

	// The load is shared by every waiter, so it must not die with the
	// caller that happened to initiate it. No cancellation once loading
	// starts; only the waiters react to their own contexts.
	engine, err := s.load(context.WithoutCancel(ctx))

	s.locker.Lock()
	defer s.locker.Unlock()
	if err == nil {
		s.engine = engine
	}
	s.lastLoadErr = err
	s.loadingCh = nil
	close(ch)
	return s.engine, err
}

func (s *Service) load(
	ctx context.Context,
) (Engine, error) {
	logger.Debugf(ctx, "loading the primary model %q", s.primary.ModelID)
	engine, primaryErr := s.primary.Load(ctx)
	if primaryErr == nil {
		return engine, nil
	}
	logger.Warnf(ctx, "unable to load the primary model %q: %v; falling back to %q", s.primary.ModelID, primaryErr, s.fallback.ModelID)

	engine, fallbackErr := s.fallback.Load(ctx)
	if fallbackErr == nil {
		return engine, nil
	}

	return nil, &ModelLoadError{
		PrimaryModelID:  s.primary.ModelID,
		PrimaryErr:      primaryErr,
		FallbackModelID: s.fallback.ModelID,
		FallbackErr:     fallbackErr,
	}
}

// Transcribe converts one audio payload to text.
//
// WAV payloads are decoded first and the decoded PCM is probed through
// the known input shapes; anything else is passed to the model raw. A
// WAV that fails to decode degrades to the raw path rather than failing
// the request.
func (s *Service) Transcribe(
	ctx context.Context,
	payload Payload,
) (_ *Result, _err error) {
	logger.Debugf(ctx, "Transcribe: %d bytes of %q", len(payload.Raw), payload.ContentType)
	defer func() { logger.Debugf(ctx, "/Transcribe: %v", _err) }()

	engine, err := s.getEngine(ctx)
	if err != nil {
		return nil, err
	}

	debug := Debug{
		Bytes: len(payload.Raw),
	}

	var decoded *wav.Audio
	if wav.Looks(payload.Raw) {
		decoded, err = wav.Decode(payload.Raw)
		if err != nil {
			decodeErr := &DecodeError{Err: err}
			logger.Warnf(ctx, "%v; passing the raw bytes to the model instead", decodeErr)
			decoded = nil
		} else {
			debug.WAV = true
			debug.SampleRate = decoded.SampleRate
			debug.Samples = len(decoded.Samples)
		}
	}

	var text string
	if decoded != nil {
		text, err = s.inferDecoded(ctx, engine, payload, decoded)
	} else {
		text, err = engine.Infer(ctx, Request{
			Raw:         payload.Raw,
			ContentType: payload.ContentType,
		})
		if err != nil {
			err = &InferenceError{ModelID: engine.ModelID(), Err: err}
		}
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		Text:    text,
		ModelID: engine.ModelID(),
		Debug:   debug,
	}, nil
}

// inferDecoded probes the known input shapes in order until one works.
func (s *Service) inferDecoded(
	ctx context.Context,
	engine Engine,
	payload Payload,
	decoded *wav.Audio,
) (string, error) {
	var lastErr error
	for _, shape := range Shapes {
		text, err := engine.Infer(ctx, Request{
			Raw:         payload.Raw,
			ContentType: payload.ContentType,
			Samples:     decoded.Samples,
			SampleRate:  decoded.SampleRate,
			Shape:       shape,
		})
		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", &InferenceError{ModelID: engine.ModelID(), Err: err}
		}
		logger.Debugf(ctx, "the model rejected the %q input shape: %v", shape, err)
		lastErr = err
	}
	return "", &InferenceError{
		ModelID: engine.ModelID(),
		Err:     fmt.Errorf("every input shape was rejected, the last error: %w", lastErr),
	}
}

// Close releases the loaded engine, if any.
func (s *Service) Close() error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.engine == nil {
		return nil
	}
	err := s.engine.Close()
	s.engine = nil
	return err
}
