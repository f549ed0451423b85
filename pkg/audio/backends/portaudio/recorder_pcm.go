package portaudio

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
)

// FrameSize is the amount of samples requested per hardware callback.
// Small frames keep the capture path low-latency; the consumer clones
// each frame, so the buffer is reused between callbacks.
const FrameSize = 128

type RecorderPCM struct {
}

var _ types.RecorderPCM = (*RecorderPCM)(nil)

func NewRecorderPCM() (*RecorderPCM, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return &RecorderPCM{}, nil
}

func (*RecorderPCM) Close() error {
	return portaudio.Terminate()
}

func (*RecorderPCM) Ping(
	ctx context.Context,
) error {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "device info: %#+v", info)
	return nil
}

func (*RecorderPCM) RecordPCM(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	writer io.Writer,
) (types.RecordStream, error) {
	if format != types.PCMFormatFloat32LE {
		return nil, fmt.Errorf("the PortAudio capture path speaks %s only, got a request for %s", types.PCMFormatFloat32LE, format)
	}

	s, err := newRecordStream(ctx, sampleRate, channels)
	if err != nil {
		return nil, err
	}

	if err := s.start(ctx, writer); err != nil {
		s.Close()
		return nil, fmt.Errorf("unable to start the stream: %w", err)
	}
	return s, nil
}
