// Package openai adapts the OpenAI-compatible transcription API (the
// hosted one, or anything that speaks its protocol) to the Engine
// interface. Unlike self-hosted inference servers it accepts audio
// files only, so decoded PCM is re-encoded to WAV before upload.
package openai

import (
	"bytes"
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	openai "github.com/sashabaranov/go-openai"
	"github.com/voicetrainer/speechpipe/pkg/audio/wav"
	"github.com/voicetrainer/speechpipe/pkg/transcribe"
)

type Config struct {
	APIKey  string
	BaseURL string
	ModelID string
}

type Engine struct {
	Config Config
	Client *openai.Client
}

var _ transcribe.Engine = (*Engine)(nil)

func New(
	ctx context.Context,
	cfg Config,
) (_ *Engine, _err error) {
	logger.Debugf(ctx, "openai.New: %q", cfg.ModelID)
	defer func() { logger.Debugf(ctx, "/openai.New: %v", _err) }()

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("the API key is not set")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = openai.Whisper1
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	e := &Engine{
		Config: cfg,
		Client: openai.NewClientWithConfig(clientCfg),
	}

	// A cheap authenticated call to catch a bad key at load time.
	if _, err := e.Client.ListModels(ctx); err != nil {
		return nil, fmt.Errorf("unable to authenticate: %w", err)
	}
	return e, nil
}

func (e *Engine) ModelID() string {
	return e.Config.ModelID
}

func (e *Engine) Infer(
	ctx context.Context,
	req transcribe.Request,
) (_ string, _err error) {
	logger.Debugf(ctx, "Infer: samples:%d raw:%d", len(req.Samples), len(req.Raw))
	defer func() { logger.Debugf(ctx, "/Infer: %v", _err) }()

	payload := req.Raw
	filename := "audio.bin"
	if req.Samples != nil {
		payload = wav.Encode(req.Samples, req.SampleRate)
		filename = "audio.wav"
	}

	resp, err := e.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.Config.ModelID,
		FilePath: filename,
		Reader:   bytes.NewReader(payload),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("unable to transcribe: %w", err)
	}
	return resp.Text, nil
}

func (e *Engine) Close() error {
	return nil
}

func Loader(cfg Config) transcribe.Loader {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = openai.Whisper1
	}
	return transcribe.Loader{
		ModelID: modelID,
		Load: func(ctx context.Context) (transcribe.Engine, error) {
			return New(ctx, cfg)
		},
	}
}
