// Package whisperhttp talks to a whisper-server compatible inference
// endpoint over HTTP.
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/voicetrainer/speechpipe/pkg/transcribe"
)

// Config is the endpoint description. Token may be empty for local
// deployments that skip auth.
type Config struct {
	Endpoint string
	ModelID  string
	Token    string
	Timeout  time.Duration
}

type Engine struct {
	Config     Config
	HTTPClient *http.Client
}

var _ transcribe.Engine = (*Engine)(nil)

// New verifies the endpoint is reachable and returns the engine. The
// health probe is what makes a bad endpoint or token fail at load time
// instead of at the first transcription.
func New(
	ctx context.Context,
	cfg Config,
) (_ *Engine, _err error) {
	logger.Debugf(ctx, "whisperhttp.New: %q", cfg.Endpoint)
	defer func() { logger.Debugf(ctx, "/whisperhttp.New: %v", _err) }()

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("the endpoint is not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	e := &Engine{
		Config: cfg,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}

	if err := e.ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to reach the endpoint %q: %w", cfg.Endpoint, err)
	}
	return e, nil
}

func (e *Engine) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.Config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("unable to construct the request: %w", err)
	}
	e.authorize(req)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("the endpoint rejected the token: HTTP %d", resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("model %q is not served here: HTTP %d", e.Config.ModelID, resp.StatusCode)
	}
	// Any other status means the server is alive; whisper-server
	// answers GET / with 405.
	return nil
}

func (e *Engine) ModelID() string {
	return e.Config.ModelID
}

// Infer sends one inference request. Decoded PCM goes as JSON labeled
// per req.Shape; raw bytes go as a multipart file upload.
func (e *Engine) Infer(
	ctx context.Context,
	req transcribe.Request,
) (_ string, _err error) {
	logger.Debugf(ctx, "Infer: shape:%v samples:%d raw:%d", req.Shape, len(req.Samples), len(req.Raw))
	defer func() { logger.Debugf(ctx, "/Infer: %v", _err) }()

	var httpReq *http.Request
	var err error
	if req.Samples != nil {
		httpReq, err = e.jsonRequest(ctx, req)
	} else {
		httpReq, err = e.multipartRequest(ctx, req)
	}
	if err != nil {
		return "", err
	}
	e.authorize(httpReq)

	resp, err := e.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("unable to perform the request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("unable to read the response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 512))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unable to parse the response: %w", err)
	}
	return parsed.Text, nil
}

// jsonRequest labels the decoded PCM the way req.Shape dictates. The
// three layouts cover the field-name disagreements between inference
// server generations.
func (e *Engine) jsonRequest(
	ctx context.Context,
	req transcribe.Request,
) (*http.Request, error) {
	var payload any
	switch req.Shape {
	case transcribe.ShapeAudio:
		payload = map[string]any{
			"audio":         req.Samples,
			"sampling_rate": req.SampleRate,
		}
	case transcribe.ShapeWaveform:
		payload = map[string]any{
			"waveform":      req.Samples,
			"sampling_rate": req.SampleRate,
		}
	case transcribe.ShapeBareSamples:
		payload = req.Samples
	default:
		return nil, fmt.Errorf("unknown input shape: %v", req.Shape)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("unable to serialize the samples: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unable to construct the request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (e *Engine) multipartRequest(
	ctx context.Context,
	req transcribe.Request,
) (*http.Request, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio.bin")
	if err != nil {
		return nil, fmt.Errorf("unable to create the form file: %w", err)
	}
	if _, err := fileWriter.Write(req.Raw); err != nil {
		return nil, fmt.Errorf("unable to write the audio data: %w", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, fmt.Errorf("unable to write the form field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("unable to finalize the form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Config.Endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("unable to construct the request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	return httpReq, nil
}

func (e *Engine) authorize(req *http.Request) {
	if e.Config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.Config.Token)
	}
	req.Header.Set("Accept", "application/json")
}

func (e *Engine) Close() error {
	e.HTTPClient.CloseIdleConnections()
	return nil
}

// Loader wraps the engine constructor into the form the transcription
// service expects.
func Loader(cfg Config) transcribe.Loader {
	return transcribe.Loader{
		ModelID: cfg.ModelID,
		Load: func(ctx context.Context) (transcribe.Engine, error) {
			return New(ctx, cfg)
		},
	}
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
