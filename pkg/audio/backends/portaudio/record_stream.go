package portaudio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
	"github.com/xaionaro-go/observability"
)

type RecordStream struct {
	PortAudioStream *portaudio.Stream
	FrameBuffer     []float32
	FrameBytes      []byte
	Writer          io.Writer
	CancelFunc      context.CancelFunc
	WaitGroup       sync.WaitGroup
	CloseOnce       sync.Once
}

func newRecordStream(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
) (*RecordStream, error) {
	buf := make([]float32, FrameSize*int(channels))
	logger.Debugf(ctx, "newRecordStream: %d Hz, %d channel(s), frame of %d samples", sampleRate, channels, len(buf))
	stream, err := portaudio.OpenDefaultStream(int(channels), 0, float64(sampleRate), FrameSize, buf)
	if err != nil {
		return nil, err
	}

	ptr := unsafe.SliceData(buf)
	bytesBuf := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(buf)*4)

	return &RecordStream{
		PortAudioStream: stream,
		FrameBuffer:     buf,
		FrameBytes:      bytesBuf,
	}, nil
}

func (s *RecordStream) start(
	ctx context.Context,
	writer io.Writer,
) error {
	s.Writer = writer
	ctx, s.CancelFunc = context.WithCancel(ctx)

	if err := s.PortAudioStream.Start(); err != nil {
		return fmt.Errorf("unable to start the stream: %w", err)
	}

	s.WaitGroup.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer s.WaitGroup.Done()
		<-ctx.Done()
		s.Close()
	})
	s.WaitGroup.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer s.WaitGroup.Done()
		defer s.CancelFunc()
		s.readerLoop(ctx)
	})
	return nil
}

func (s *RecordStream) readerLoop(
	ctx context.Context,
) (_ret error) {
	logger.Debugf(ctx, "readerLoop")
	defer func() { logger.Debugf(ctx, "/readerLoop: %v", _ret) }()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.PortAudioStream.Read()
		if err != nil {
			return fmt.Errorf("unable to read: %w", err)
		}
		// The writer clones the frame, so handing over the hardware
		// buffer directly is fine.
		n, err := s.Writer.Write(s.FrameBytes)
		if err != nil {
			return fmt.Errorf("unable to hand over a frame: %w", err)
		}
		if n != len(s.FrameBytes) {
			return fmt.Errorf("invalid write length: %d != %d", n, len(s.FrameBytes))
		}
	}
}

func (s *RecordStream) Close() error {
	var err error
	s.CloseOnce.Do(func() {
		s.CancelFunc()
		err = s.PortAudioStream.Abort()
	})
	return err
}

func (s *RecordStream) Drain() error {
	s.WaitGroup.Wait()
	return nil
}
