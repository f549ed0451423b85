// Package capture records one utterance from a microphone and turns it
// into an upload-ready WAV container.
//
// A Session is single-use: idle, then capturing, then stopped. To record again,
// create a new Session. While capturing, the session exclusively owns the
// backend's hardware handle; Stop (or a failed Start) always releases it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/iamcalledrob/circular"
	"github.com/voicetrainer/speechpipe/pkg/audio"
	"github.com/voicetrainer/speechpipe/pkg/audio/gain"
	"github.com/voicetrainer/speechpipe/pkg/audio/resample"
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
	"github.com/voicetrainer/speechpipe/pkg/audio/wav"
)

// DefaultNativeRate is the rate we ask the hardware for. Most capture
// stacks deliver it without resampling on their side.
const DefaultNativeRate = types.SampleRate(48000)

var (
	// ErrUnsupported: no capture backend could be initialized at all.
	ErrUnsupported = errors.New("audio capture is not supported on this platform")
	// ErrNotCapturing: Start was never called, or failed.
	ErrNotCapturing = errors.New("the session is not capturing")
	// ErrAlreadyStarted: Start on a session that left the idle state.
	ErrAlreadyStarted = errors.New("the session was already started")
)

type State int

const (
	StateIdle = State(iota)
	StateCapturing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown_state_%d", int(s))
	}
}

type Option func(*config)

type config struct {
	recorderPCM types.RecorderPCM
	nativeRate  types.SampleRate
	maxDuration time.Duration
}

// WithRecorderPCM makes the session use the given backend instead of
// auto-selecting one. The session still closes it on Stop.
func WithRecorderPCM(r types.RecorderPCM) Option {
	return func(cfg *config) {
		cfg.recorderPCM = r
	}
}

// WithNativeRate overrides the rate requested from the hardware.
func WithNativeRate(rate types.SampleRate) Option {
	return func(cfg *config) {
		cfg.nativeRate = rate
	}
}

// WithMaxDuration bounds memory by keeping only the most recent d of
// audio in a ring buffer. By default accumulation is unbounded, which is
// fine for short recordings but a real risk for long ones.
func WithMaxDuration(d time.Duration) Option {
	return func(cfg *config) {
		cfg.maxDuration = d
	}
}

// Session accumulates PCM frames from the audio callback. The callback
// path (Write) performs exactly one allocation per frame: the clone of
// the frame bytes, which the backend is free to reuse afterwards.
type Session struct {
	cfg config

	locker        sync.Mutex
	state         State
	recorder      *audio.Recorder
	stream        types.RecordStream
	chunks        [][]byte
	ring          *circular.Buffer
	ringSize      int
	ringUsed      int
	droppedFrames uint64
	result        []float32
}

func NewSession(opts ...Option) *Session {
	cfg := config{
		nativeRate: DefaultNativeRate,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{
		cfg: cfg,
	}
}

func (s *Session) State() State {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.state
}

// Start acquires the microphone (mono, float32, the configured native
// rate) and begins accumulating frames.
func (s *Session) Start(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start: %v", _err) }()

	s.locker.Lock()
	defer s.locker.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w (state: %s)", ErrAlreadyStarted, s.state)
	}

	if s.cfg.maxDuration > 0 {
		s.ringSize = int(s.cfg.maxDuration.Seconds()*float64(s.cfg.nativeRate)) * 4
		s.ring = circular.NewBuffer(s.ringSize)
	}

	if s.cfg.recorderPCM != nil {
		s.recorder = audio.NewRecorder(s.cfg.recorderPCM)
	} else {
		recorder, err := audio.NewRecorderAuto(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		s.recorder = recorder
	}

	stream, err := s.recorder.RecordPCM(ctx, s.cfg.nativeRate, 1, audio.PCMFormatFloat32LE, s)
	if err != nil {
		s.recorder.Close()
		s.recorder = nil
		return fmt.Errorf("unable to open a capture stream: %w", err)
	}
	s.stream = stream
	s.state = StateCapturing
	return nil
}

var _ io.Writer = (*Session)(nil)

// Write receives one frame from the backend's callback path. Must stay
// non-blocking: it either appends a clone of the frame or rotates the
// ring, nothing else.
func (s *Session) Write(frame []byte) (int, error) {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.state != StateCapturing {
		// The backend may deliver a frame that was already in flight
		// when Stop closed the stream. Drop it silently.
		return len(frame), nil
	}

	if s.ring != nil {
		s.writeRing(frame)
		return len(frame), nil
	}

	chunk := make([]byte, len(frame))
	copy(chunk, frame)
	s.chunks = append(s.chunks, chunk)
	return len(frame), nil
}

// writeRing keeps the most recent maxDuration of audio: when the ring is
// full, the oldest bytes are discarded to make room.
func (s *Session) writeRing(frame []byte) {
	if len(frame) > s.ringSize {
		frame = frame[len(frame)-s.ringSize:]
	}
	for {
		_, err := s.ring.Write(frame)
		if err == nil {
			s.ringUsed += len(frame)
			return
		}
		if !errors.Is(err, circular.ErrNoSpace) {
			return
		}
		discard := len(frame)
		if discard > s.ringUsed {
			discard = s.ringUsed
		}
		if discard == 0 {
			return
		}
		n, err := s.ring.Read(make([]byte, discard))
		s.ringUsed -= n
		if err != nil {
			return
		}
		s.droppedFrames++
	}
}

// Stop finalizes the recording: closes the stream, releases the backend
// and concatenates the accumulated frames in arrival order.
//
// Stop is idempotent. Calling it on an already-stopped (or never-started)
// session is a no-op that returns the previously finalized buffer, so an
// error path may race a normal completion without double-releasing the
// hardware handle.
func (s *Session) Stop(
	ctx context.Context,
) (_ []float32, _err error) {
	logger.Debugf(ctx, "Stop")
	defer func() { logger.Debugf(ctx, "/Stop: %v", _err) }()

	s.locker.Lock()
	defer s.locker.Unlock()

	switch s.state {
	case StateIdle:
		s.state = StateStopped
		return nil, nil
	case StateStopped:
		return s.result, nil
	}
	s.state = StateStopped

	if err := s.stream.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the capture stream: %v", err)
	}
	s.stream = nil
	if err := s.recorder.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the recorder: %v", err)
	}
	s.recorder = nil

	if s.droppedFrames > 0 {
		logger.Warnf(ctx, "the recording exceeded the configured bound, dropped %d oldest frames", s.droppedFrames)
	}

	s.result = audio.BytesToFloat32s(s.concatenate())
	s.chunks = nil
	s.ring = nil
	return s.result, nil
}

func (s *Session) concatenate() []byte {
	if s.ring != nil {
		b := make([]byte, s.ringUsed)
		n, _ := s.ring.Read(b)
		return b[:n]
	}

	total := 0
	for _, chunk := range s.chunks {
		total += len(chunk)
	}
	buf := make([]byte, 0, total)
	for _, chunk := range s.chunks {
		buf = append(buf, chunk...)
	}
	return buf
}

// NativeRate returns the rate the hardware was asked for.
func (s *Session) NativeRate() types.SampleRate {
	return s.cfg.nativeRate
}

// Finalize stops the session (if it still captures) and runs the
// processing pipeline: resample to 16 kHz, normalize loudness, encode as
// WAV. The returned bytes are ready for upload.
func (s *Session) Finalize(
	ctx context.Context,
) ([]byte, error) {
	samples, err := s.Stop(ctx)
	if err != nil {
		return nil, err
	}

	samples = resample.To16k(samples, s.cfg.nativeRate)
	samples = gain.Normalize(samples)
	return wav.Encode(samples, resample.TargetRate), nil
}
