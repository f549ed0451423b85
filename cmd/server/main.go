package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/voicetrainer/speechpipe/pkg/config"
	"github.com/voicetrainer/speechpipe/pkg/metrics"
	"github.com/voicetrainer/speechpipe/pkg/server"
	"github.com/voicetrainer/speechpipe/pkg/transcribe"
	openaiengine "github.com/voicetrainer/speechpipe/pkg/transcribe/openai"
	"github.com/voicetrainer/speechpipe/pkg/transcribe/whisperhttp"
	"github.com/xaionaro-go/observability"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	configPath := pflag.String("config", "", "Path to the YAML config file (optional)")
	pflag.Parse()

	// Missing .env is fine, the environment may be set by the shell.
	godotenv.Load()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	cfg, err := config.Load(*configPath)
	assertNoError(err)

	primary, fallback, err := loaders(cfg.Models)
	assertNoError(err)

	service := transcribe.New(primary, fallback)
	defer service.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	srv := server.New(ctx, cfg.Server, service, m, registry)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	observability.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		logger.Infof(ctx, "shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf(ctx, "unable to shut down gracefully: %v", err)
		}
	})

	logger.Infof(ctx, "models: %q (fallback %q) via %s", cfg.Models.Primary, cfg.Models.Fallback, cfg.Models.Engine)
	assertNoError(srv.ListenAndServe(ctx))
}

func loaders(cfg config.ModelsConfig) (transcribe.Loader, transcribe.Loader, error) {
	switch cfg.Engine {
	case "whisper_http":
		primary := whisperhttp.Loader(whisperhttp.Config{
			Endpoint: cfg.Endpoint,
			ModelID:  cfg.Primary,
			Token:    cfg.Token,
			Timeout:  cfg.GetTimeout(),
		})
		fallback := whisperhttp.Loader(whisperhttp.Config{
			Endpoint: cfg.Endpoint,
			ModelID:  cfg.Fallback,
			Token:    cfg.Token,
			Timeout:  cfg.GetTimeout(),
		})
		return primary, fallback, nil
	case "openai":
		primary := openaiengine.Loader(openaiengine.Config{
			APIKey:  cfg.Token,
			BaseURL: cfg.Endpoint,
			ModelID: cfg.Primary,
		})
		fallback := openaiengine.Loader(openaiengine.Config{
			APIKey:  cfg.Token,
			BaseURL: cfg.Endpoint,
			ModelID: cfg.Fallback,
		})
		return primary, fallback, nil
	default:
		return transcribe.Loader{}, transcribe.Loader{}, fmt.Errorf("unknown engine: %q", cfg.Engine)
	}
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
