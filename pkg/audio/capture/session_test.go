package capture

import (
	"context"
	"io"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicetrainer/speechpipe/pkg/audio"
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
	"github.com/voicetrainer/speechpipe/pkg/audio/wav"
)

type fakeRecorderPCM struct {
	writer        io.Writer
	streamCloses  atomic.Int64
	recorderClose atomic.Int64
}

var _ types.RecorderPCM = (*fakeRecorderPCM)(nil)

func (r *fakeRecorderPCM) Close() error {
	r.recorderClose.Add(1)
	return nil
}

func (r *fakeRecorderPCM) Ping(context.Context) error {
	return nil
}

func (r *fakeRecorderPCM) RecordPCM(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	writer io.Writer,
) (types.RecordStream, error) {
	r.writer = writer
	return &fakeRecordStream{recorder: r}, nil
}

type fakeRecordStream struct {
	recorder *fakeRecorderPCM
}

func (s *fakeRecordStream) Close() error {
	s.recorder.streamCloses.Add(1)
	return nil
}

// push delivers samples the way a backend callback would: in small frames.
func (r *fakeRecorderPCM) push(t *testing.T, samples []float32, frameLen int) {
	t.Helper()
	b := audio.Float32sToBytes(samples)
	frameBytes := frameLen * 4
	for off := 0; off < len(b); off += frameBytes {
		end := off + frameBytes
		if end > len(b) {
			end = len(b)
		}
		_, err := r.writer.Write(b[off:end])
		require.NoError(t, err)
	}
}

func TestSessionStates(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorderPCM{}
	s := NewSession(WithRecorderPCM(rec))
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StateCapturing, s.State())

	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)

	_, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, s.State())

	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)
}

func TestSessionAccumulatesInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorderPCM{}
	s := NewSession(WithRecorderPCM(rec))
	require.NoError(t, s.Start(ctx))

	in := make([]float32, 1000)
	for i := range in {
		in[i] = float32(i) / 1000
	}
	rec.push(t, in, 128)

	out, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSessionIdempotentStop(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorderPCM{}
	s := NewSession(WithRecorderPCM(rec))
	require.NoError(t, s.Start(ctx))
	rec.push(t, []float32{0.25, -0.25}, 128)

	first, err := s.Stop(ctx)
	require.NoError(t, err)
	second, err := s.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), rec.streamCloses.Load(), "hardware released exactly once")
	assert.Equal(t, int64(1), rec.recorderClose.Load())
}

func TestSessionStopBeforeStart(t *testing.T) {
	s := NewSession(WithRecorderPCM(&fakeRecorderPCM{}))
	out, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, StateStopped, s.State())
}

func TestSessionDropsLateFrames(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorderPCM{}
	s := NewSession(WithRecorderPCM(rec))
	require.NoError(t, s.Start(ctx))
	rec.push(t, []float32{0.5}, 128)

	out, err := s.Stop(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)

	// A frame still in flight when Stop closed the stream.
	rec.push(t, []float32{0.75}, 128)
	again, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestSessionBoundedKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorderPCM{}
	// 1000 samples at 8 kHz = 125 ms; bound at 50 ms = 400 samples.
	s := NewSession(
		WithRecorderPCM(rec),
		WithNativeRate(8000),
		WithMaxDuration(50*time.Millisecond),
	)
	require.NoError(t, s.Start(ctx))

	in := make([]float32, 1000)
	for i := range in {
		in[i] = float32(i)
	}
	rec.push(t, in, 100)

	out, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.LessOrEqual(t, len(out), 400)
	// Whatever survived is the tail of the recording, in order.
	offset := in[len(in)-len(out)]
	for i, v := range out {
		assert.Equal(t, offset+float32(i), v, "index %d", i)
	}
}

func TestFinalizeEndToEnd(t *testing.T) {
	// 2 seconds of a 440 Hz sine at 48 kHz mono, per the happy path the
	// whole pipeline exists for.
	ctx := context.Background()
	rec := &fakeRecorderPCM{}
	s := NewSession(WithRecorderPCM(rec))
	require.NoError(t, s.Start(ctx))

	in := make([]float32, 96000)
	for i := range in {
		in[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	rec.push(t, in, 128)

	container, err := s.Finalize(ctx)
	require.NoError(t, err)

	decoded, err := wav.Decode(container)
	require.NoError(t, err)
	assert.Equal(t, types.SampleRate(16000), decoded.SampleRate)
	assert.InDelta(t, 32000, len(decoded.Samples), 1)

	for _, sample := range decoded.Samples {
		assert.LessOrEqual(t, sample, float32(0.99))
		assert.GreaterOrEqual(t, sample, float32(-0.99))
	}
}

func TestFinalizeIdempotentAfterStop(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorderPCM{}
	s := NewSession(WithRecorderPCM(rec))
	require.NoError(t, s.Start(ctx))
	rec.push(t, make([]float32, 4800), 128)

	_, err := s.Stop(ctx)
	require.NoError(t, err)

	container, err := s.Finalize(ctx)
	require.NoError(t, err)
	assert.True(t, wav.Looks(container))
	assert.Equal(t, int64(1), rec.streamCloses.Load())
}
