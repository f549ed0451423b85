package main

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicetrainer/speechpipe/pkg/config"
)

func parseCaptureFlags(t *testing.T, args []string) (*pflag.FlagSet, *uint32, *time.Duration) {
	t.Helper()
	fs := pflag.NewFlagSet("record", pflag.ContinueOnError)
	nativeRate := fs.Uint32("native-rate", 48000, "")
	maxBuffer := fs.Duration("max-buffer", 0, "")
	require.NoError(t, fs.Parse(args))
	return fs, nativeRate, maxBuffer
}

func TestResolveCaptureConfigSuppliesValues(t *testing.T) {
	fs, nativeRate, maxBuffer := parseCaptureFlags(t, nil)
	cfg := config.CaptureConfig{
		NativeRate:     44100,
		MaxDurationSec: 30,
	}

	rate, maxDuration := resolveCapture(cfg, fs, *nativeRate, *maxBuffer)
	assert.EqualValues(t, 44100, rate)
	assert.Equal(t, 30*time.Second, maxDuration)
}

func TestResolveCaptureFlagsWinOverConfig(t *testing.T) {
	fs, nativeRate, maxBuffer := parseCaptureFlags(t, []string{
		"--native-rate=8000",
		"--max-buffer=5s",
	})
	cfg := config.CaptureConfig{
		NativeRate:     44100,
		MaxDurationSec: 30,
	}

	rate, maxDuration := resolveCapture(cfg, fs, *nativeRate, *maxBuffer)
	assert.EqualValues(t, 8000, rate)
	assert.Equal(t, 5*time.Second, maxDuration)
}

func TestResolveCaptureDefaultFlagValueDoesNotOverride(t *testing.T) {
	// Passing the flag's default explicitly still counts as set.
	fs, nativeRate, maxBuffer := parseCaptureFlags(t, []string{"--native-rate=48000"})
	cfg := config.CaptureConfig{
		NativeRate:     44100,
		MaxDurationSec: 30,
	}

	rate, maxDuration := resolveCapture(cfg, fs, *nativeRate, *maxBuffer)
	assert.EqualValues(t, 48000, rate)
	assert.Equal(t, 30*time.Second, maxDuration, "untouched flag falls back to the config")
}
