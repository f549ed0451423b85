package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicetrainer/speechpipe/pkg/audio/wav"
)

type fakeEngine struct {
	modelID        string
	acceptedShapes map[Shape]bool
	acceptRaw      bool
	text           string
	calls          atomic.Int64
	lastRequest    Request
}

var _ Engine = (*fakeEngine)(nil)

func (e *fakeEngine) Close() error {
	return nil
}

func (e *fakeEngine) ModelID() string {
	return e.modelID
}

func (e *fakeEngine) Infer(ctx context.Context, req Request) (string, error) {
	e.calls.Add(1)
	e.lastRequest = req
	if req.Samples == nil {
		if !e.acceptRaw {
			return "", errors.New("raw bytes are not accepted")
		}
		return e.text, nil
	}
	if !e.acceptedShapes[req.Shape] {
		return "", fmt.Errorf("input shape %q is not accepted", req.Shape)
	}
	return e.text, nil
}

func loaderOf(engine *fakeEngine, err error) Loader {
	return Loader{
		ModelID: engine.modelID,
		Load: func(context.Context) (Engine, error) {
			if err != nil {
				return nil, err
			}
			return engine, nil
		},
	}
}

func wavPayload(t *testing.T) Payload {
	t.Helper()
	return Payload{
		Raw:         wav.Encode(make([]float32, 1600), 16000),
		ContentType: "audio/wav",
	}
}

func TestTranscribeHappyPath(t *testing.T) {
	engine := &fakeEngine{
		modelID:        "acme/asr-large",
		acceptedShapes: map[Shape]bool{ShapeAudio: true},
		text:           "hello there",
	}
	s := New(loaderOf(engine, nil), loaderOf(&fakeEngine{modelID: "acme/asr-small"}, nil))

	res, err := s.Transcribe(context.Background(), wavPayload(t))
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, "acme/asr-large", res.ModelID)
	assert.True(t, res.Debug.WAV)
	assert.Equal(t, 1600, res.Debug.Samples)
	assert.EqualValues(t, 16000, res.Debug.SampleRate)
}

func TestTranscribeFallbackModel(t *testing.T) {
	fallback := &fakeEngine{
		modelID:        "acme/asr-small",
		acceptedShapes: map[Shape]bool{ShapeAudio: true},
		text:           "from the fallback",
	}
	s := New(
		Loader{ModelID: "acme/asr-large", Load: func(context.Context) (Engine, error) {
			return nil, errors.New("401 unauthorized")
		}},
		loaderOf(fallback, nil),
	)

	res, err := s.Transcribe(context.Background(), wavPayload(t))
	require.NoError(t, err)
	assert.Equal(t, "from the fallback", res.Text)
	assert.Equal(t, "acme/asr-small", res.ModelID)
}

func TestTranscribeBothModelsFailThenRecover(t *testing.T) {
	var primaryHealthy atomic.Bool
	engine := &fakeEngine{
		modelID:        "acme/asr-large",
		acceptedShapes: map[Shape]bool{ShapeAudio: true},
		text:           "recovered",
	}
	var loads atomic.Int64
	primary := Loader{ModelID: "acme/asr-large", Load: func(context.Context) (Engine, error) {
		loads.Add(1)
		if !primaryHealthy.Load() {
			return nil, errors.New("connection refused")
		}
		return engine, nil
	}}
	fallbackLoader := Loader{ModelID: "acme/asr-small", Load: func(context.Context) (Engine, error) {
		return nil, errors.New("model files are missing")
	}}
	s := New(primary, fallbackLoader)

	_, err := s.Transcribe(context.Background(), wavPayload(t))
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, loadErr.Error(), "connection refused")
	assert.Contains(t, loadErr.Error(), "model files are missing")

	// No poisoned state: the next request retries loading and succeeds.
	primaryHealthy.Store(true)
	res, err := s.Transcribe(context.Background(), wavPayload(t))
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, int64(2), loads.Load())
}

func TestTranscribeShapeProbing(t *testing.T) {
	engine := &fakeEngine{
		modelID:        "acme/asr-large",
		acceptedShapes: map[Shape]bool{ShapeBareSamples: true},
		text:           "third shape worked",
	}
	s := New(loaderOf(engine, nil), loaderOf(&fakeEngine{modelID: "acme/asr-small"}, nil))

	res, err := s.Transcribe(context.Background(), wavPayload(t))
	require.NoError(t, err)
	assert.Equal(t, "third shape worked", res.Text)
	assert.Equal(t, int64(3), engine.calls.Load())
	assert.Equal(t, ShapeBareSamples, engine.lastRequest.Shape)
}

func TestTranscribeAllShapesRejected(t *testing.T) {
	engine := &fakeEngine{
		modelID:        "acme/asr-large",
		acceptedShapes: map[Shape]bool{},
	}
	s := New(loaderOf(engine, nil), loaderOf(&fakeEngine{modelID: "acme/asr-small"}, nil))

	_, err := s.Transcribe(context.Background(), wavPayload(t))
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, "acme/asr-large", infErr.ModelID)
	assert.Equal(t, int64(3), engine.calls.Load())
}

func TestTranscribeRawPayload(t *testing.T) {
	engine := &fakeEngine{
		modelID:   "acme/asr-large",
		acceptRaw: true,
		text:      "from raw bytes",
	}
	s := New(loaderOf(engine, nil), loaderOf(&fakeEngine{modelID: "acme/asr-small"}, nil))

	res, err := s.Transcribe(context.Background(), Payload{
		Raw:         []byte("compressed opus data, certainly not wav"),
		ContentType: "audio/ogg",
	})
	require.NoError(t, err)
	assert.Equal(t, "from raw bytes", res.Text)
	assert.False(t, res.Debug.WAV)
	assert.Equal(t, int64(1), engine.calls.Load())
	assert.Nil(t, engine.lastRequest.Samples)
}

func TestTranscribeCorruptWAVFallsBackToRaw(t *testing.T) {
	engine := &fakeEngine{
		modelID:   "acme/asr-large",
		acceptRaw: true,
		text:      "still transcribed",
	}
	s := New(loaderOf(engine, nil), loaderOf(&fakeEngine{modelID: "acme/asr-small"}, nil))

	// Valid magic, truncated before the data chunk.
	raw := wav.Encode(make([]float32, 100), 16000)[:36]
	res, err := s.Transcribe(context.Background(), Payload{Raw: raw, ContentType: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "still transcribed", res.Text)
	assert.Nil(t, engine.lastRequest.Samples)
}

func TestTranscribeEmptyTextIsValid(t *testing.T) {
	engine := &fakeEngine{
		modelID:        "acme/asr-large",
		acceptedShapes: map[Shape]bool{ShapeAudio: true},
		text:           "",
	}
	s := New(loaderOf(engine, nil), loaderOf(&fakeEngine{modelID: "acme/asr-small"}, nil))

	res, err := s.Transcribe(context.Background(), wavPayload(t))
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Equal(t, 1600, res.Debug.Samples)
}

func TestLoadSurvivesInitiatorCancel(t *testing.T) {
	engine := &fakeEngine{
		modelID:        "acme/asr-large",
		acceptedShapes: map[Shape]bool{ShapeAudio: true},
		text:           "ok",
	}
	var loads atomic.Int64
	started := make(chan struct{})
	blockCh := make(chan struct{})
	primary := Loader{ModelID: "acme/asr-large", Load: func(ctx context.Context) (Engine, error) {
		loads.Add(1)
		close(started)
		<-blockCh
		// Once loading started it must not be cancelled, not even when
		// the caller that initiated it went away.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return engine, nil
	}}
	s := New(primary, loaderOf(&fakeEngine{modelID: "acme/asr-small"}, nil))

	initiatorCtx, cancelInitiator := context.WithCancel(context.Background())
	initiatorDone := make(chan error, 1)
	go func() {
		_, err := s.Transcribe(initiatorCtx, wavPayload(t))
		initiatorDone <- err
	}()

	<-started
	cancelInitiator()
	close(blockCh)
	<-initiatorDone

	res, err := s.Transcribe(context.Background(), wavPayload(t))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, "acme/asr-large", res.ModelID)
	assert.Equal(t, int64(1), loads.Load(), "the load survives, no retry happens")
}

func TestConcurrentFirstCallsShareOneLoad(t *testing.T) {
	var loads atomic.Int64
	engine := &fakeEngine{
		modelID:        "acme/asr-large",
		acceptedShapes: map[Shape]bool{ShapeAudio: true},
		text:           "ok",
	}
	blockCh := make(chan struct{})
	s := New(
		Loader{ModelID: "acme/asr-large", Load: func(context.Context) (Engine, error) {
			loads.Add(1)
			<-blockCh
			return engine, nil
		}},
		loaderOf(&fakeEngine{modelID: "acme/asr-small"}, nil),
	)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Transcribe(context.Background(), wavPayload(t))
		}(i)
	}
	close(blockCh)
	wg.Wait()

	assert.Equal(t, int64(1), loads.Load(), "exactly one load for all concurrent first callers")
	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
	}
}
