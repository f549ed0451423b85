package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicetrainer/speechpipe/pkg/config"
	"github.com/voicetrainer/speechpipe/pkg/metrics"
	"github.com/voicetrainer/speechpipe/pkg/transcribe"
)

type fakeTranscriber struct {
	result *transcribe.Result
	err    error

	gotPayload transcribe.Payload
}

func (f *fakeTranscriber) Transcribe(
	ctx context.Context,
	payload transcribe.Payload,
) (*transcribe.Result, error) {
	f.gotPayload = payload
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestServer(t *testing.T, transcriber Transcriber) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(
		context.Background(),
		config.Default().Server,
		transcriber,
		metrics.New(reg),
		reg,
	)
}

func multipartBody(t *testing.T, fieldName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fw, err := writer.CreateFormFile(fieldName, "recording.wav")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func postAudio(t *testing.T, s *Server, fieldName string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fieldName, data)
	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestTranscriptionSuccess(t *testing.T) {
	f := &fakeTranscriber{result: &transcribe.Result{
		Text:    "hello world",
		ModelID: "acme/asr-large",
	}}
	s := newTestServer(t, f)

	rec := postAudio(t, s, "audio", []byte("fake-wav-bytes"))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "hello world", resp["transcript"])
	assert.Equal(t, "acme/asr-large", resp["model"])
	assert.NotContains(t, resp, "debug")
	assert.Equal(t, []byte("fake-wav-bytes"), f.gotPayload.Raw)
}

func TestTranscriptionEmptyTextIncludesDebug(t *testing.T) {
	f := &fakeTranscriber{result: &transcribe.Result{
		Text:    "",
		ModelID: "acme/asr-large",
		Debug: transcribe.Debug{
			WAV:        true,
			Bytes:      3244,
			SampleRate: 16000,
			Samples:    1600,
		},
	}}
	s := newTestServer(t, f)

	rec := postAudio(t, s, "audio", []byte("fake-wav-bytes"))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[transcriptionResponse](t, rec)
	assert.Empty(t, resp.Transcript)
	require.NotNil(t, resp.Debug)
	assert.True(t, resp.Debug.WAV)
	assert.Equal(t, 3244, resp.Debug.Bytes)
	assert.EqualValues(t, 16000, resp.Debug.SamplingRate)
	assert.Equal(t, 1600, resp.Debug.Samples)
}

func TestTranscriptionMissingField(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	rec := postAudio(t, s, "not_audio", []byte("whatever"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "invalid request", resp.Error)
	assert.Contains(t, resp.Message, `"audio"`)
}

func TestTranscriptionNotMultipart(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", bytes.NewReader([]byte("raw body")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "invalid request", resp.Error)
}

func TestTranscriptionMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	req := httptest.NewRequest(http.MethodGet, "/v1/transcriptions", nil)
	rec := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTranscriptionFailure(t *testing.T) {
	f := &fakeTranscriber{err: &transcribe.InferenceError{
		ModelID: "acme/asr-large",
		Err:     errors.New("the backend exploded"),
	}}
	s := newTestServer(t, f)

	rec := postAudio(t, s, "audio", []byte("fake-wav-bytes"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "STT failed", resp.Error)
	assert.Contains(t, resp.Details, "the backend exploded")
	assert.Empty(t, resp.Hint)
}

func TestTranscriptionFailureHints(t *testing.T) {
	for _, tc := range []struct {
		name    string
		err     error
		hintSub string
	}{
		{
			name: "auth",
			err: &transcribe.ModelLoadError{
				PrimaryModelID:  "acme/asr-large",
				PrimaryErr:      errors.New("HTTP 401 Unauthorized"),
				FallbackModelID: "acme/asr-small",
				FallbackErr:     errors.New("HTTP 401 Unauthorized"),
			},
			hintSub: "access token",
		},
		{
			name: "model not found",
			err: &transcribe.InferenceError{
				ModelID: "acme/asr-typo",
				Err:     errors.New("model acme/asr-typo does not exist"),
			},
			hintSub: "model id",
		},
		{
			name:    "unreachable",
			err:     errors.New("dial tcp 127.0.0.1:9000: connection refused"),
			hintSub: "unreachable",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &fakeTranscriber{err: tc.err})
			rec := postAudio(t, s, "audio", []byte("bytes"))
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			resp := decodeBody[errorResponse](t, rec)
			assert.Equal(t, "STT failed", resp.Error)
			assert.Contains(t, resp.Hint, tc.hintSub)
		})
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", resp["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := &fakeTranscriber{result: &transcribe.Result{Text: "hi", ModelID: "m"}}
	s := newTestServer(t, f)
	postAudio(t, s, "audio", []byte("bytes"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "speechpipe_transcription_requests_total 1")
}
