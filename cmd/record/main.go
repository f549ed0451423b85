package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	_ "github.com/voicetrainer/speechpipe/pkg/audio/backends/portaudio"
	_ "github.com/voicetrainer/speechpipe/pkg/audio/backends/pulseaudio"
	"github.com/voicetrainer/speechpipe/pkg/audio/capture"
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
	"github.com/voicetrainer/speechpipe/pkg/config"
	"github.com/xaionaro-go/datacounter"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	configPath := pflag.String("config", "", "Path to the YAML config file (optional)")
	duration := pflag.Duration("duration", 0, "Stop recording after this long (0 means record until SIGINT)")
	nativeRate := pflag.Uint32("native-rate", 48000, "Sample rate to request from the hardware")
	maxBuffer := pflag.Duration("max-buffer", 0, "Keep only the most recent audio of this length (0 means unbounded)")
	output := pflag.String("output", "recording.wav", "Where to write the WAV file ('-' for stdout)")
	uploadURL := pflag.String("upload", "", "Also POST the WAV to this transcription endpoint")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	cfg, err := config.Load(*configPath)
	assertNoError(err)
	rate, maxDuration := resolveCapture(cfg.Capture, pflag.CommandLine, *nativeRate, *maxBuffer)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session := capture.NewSession(
		capture.WithNativeRate(rate),
		capture.WithMaxDuration(maxDuration),
	)

	logger.Infof(ctx, "starting to record...")
	assertNoError(session.Start(ctx))

	if *duration > 0 {
		select {
		case <-time.After(*duration):
		case <-ctx.Done():
		}
	} else {
		logger.Infof(ctx, "recording, press Ctrl+C to stop")
		<-ctx.Done()
	}

	// The signal context is done by now when the user hit Ctrl+C, so
	// finalize with a fresh one.
	finalizeCtx := logger.CtxWithLogger(context.Background(), l)
	wavBytes, err := session.Finalize(finalizeCtx)
	assertNoError(err)

	var out io.Writer
	switch *output {
	case "-":
		out = os.Stdout
	default:
		f, err := os.Create(*output)
		assertNoError(err)
		defer f.Close()
		out = f
	}
	wc := datacounter.NewWriterCounter(out)
	_, err = wc.Write(wavBytes)
	assertNoError(err)
	logger.Infof(ctx, "written %d bytes to %s", wc.Count(), *output)

	if *uploadURL != "" {
		transcript, err := upload(finalizeCtx, *uploadURL, wavBytes)
		assertNoError(err)
		fmt.Println(transcript)
	}
}

// resolveCapture merges the capture settings: the config file supplies
// the values, an explicitly set flag wins over it.
func resolveCapture(
	cfg config.CaptureConfig,
	fs *pflag.FlagSet,
	flagRate uint32,
	flagMaxBuffer time.Duration,
) (types.SampleRate, time.Duration) {
	rate := types.SampleRate(cfg.NativeRate)
	if fs.Changed("native-rate") {
		rate = types.SampleRate(flagRate)
	}
	maxDuration := cfg.GetMaxDuration()
	if fs.Changed("max-buffer") {
		maxDuration = flagMaxBuffer
	}
	return rate, maxDuration
}

func upload(
	ctx context.Context,
	url string,
	wavBytes []byte,
) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fw, err := writer.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return "", fmt.Errorf("unable to create the form file: %w", err)
	}
	if _, err := fw.Write(wavBytes); err != nil {
		return "", fmt.Errorf("unable to write the audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("unable to finalize the form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("unable to construct the request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("unable to upload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("unable to read the response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		Transcript string `json:"transcript"`
		Model      string `json:"model"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unable to parse the response: %w", err)
	}
	logger.Infof(ctx, "transcribed by %q", parsed.Model)
	return parsed.Transcript, nil
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
