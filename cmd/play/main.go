package main

import (
	"context"
	"os"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/voicetrainer/speechpipe/pkg/audio"
	_ "github.com/voicetrainer/speechpipe/pkg/audio/backends/oto"
	_ "github.com/voicetrainer/speechpipe/pkg/audio/backends/portaudio"
	_ "github.com/voicetrainer/speechpipe/pkg/audio/backends/pulseaudio"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	pflag.Parse()

	if pflag.NArg() != 1 {
		panic("expected exactly one positional argument: path to the WAV file")
	}
	filePath := pflag.Arg(0)

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	file, err := os.Open(filePath)
	assertNoError(err)
	defer file.Close()

	player := audio.NewPlayerAuto(ctx)
	defer player.Close()
	logger.Infof(ctx, "playing %s via %T", filePath, player.PlayerPCM)

	stream, err := player.PlayWAV(ctx, file)
	assertNoError(err)
	defer stream.Close()
	assertNoError(stream.Drain())
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
