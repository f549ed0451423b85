package portaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unsafe"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
	"github.com/xaionaro-go/observability"
)

type PlayStream struct {
	PortAudioStream *portaudio.Stream
	FrameBuffer     []float32
	FrameBytes      []byte
	Reader          io.Reader
	CancelFunc      context.CancelFunc
	WaitGroup       sync.WaitGroup
	CloseOnce       sync.Once
}

func newPlayStream(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	bufferSize time.Duration,
) (*PlayStream, error) {
	bufferItemsCount := int(bufferSize.Seconds()*float64(sampleRate)) * int(channels)
	buf := make([]float32, bufferItemsCount)
	logger.Debugf(ctx, "newPlayStream: %d Hz, %d channel(s), buffer of %d samples", sampleRate, channels, len(buf))
	stream, err := portaudio.OpenDefaultStream(0, int(channels), float64(sampleRate), bufferItemsCount/int(channels), &buf)
	if err != nil {
		return nil, err
	}

	ptr := unsafe.SliceData(buf)
	bytesBuf := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(buf)*4)

	return &PlayStream{
		PortAudioStream: stream,
		FrameBuffer:     buf,
		FrameBytes:      bytesBuf,
	}, nil
}

func (s *PlayStream) start(
	ctx context.Context,
	reader io.Reader,
) error {
	s.Reader = reader
	ctx, s.CancelFunc = context.WithCancel(ctx)

	if err := s.PortAudioStream.Start(); err != nil {
		return fmt.Errorf("unable to start the stream: %w", err)
	}

	s.WaitGroup.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer s.WaitGroup.Done()
		defer s.CancelFunc()
		s.writerLoop(ctx)
	})
	return nil
}

func (s *PlayStream) writerLoop(
	ctx context.Context,
) (_ret error) {
	logger.Debugf(ctx, "writerLoop")
	defer func() { logger.Debugf(ctx, "/writerLoop: %v", _ret) }()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := io.ReadFull(s.Reader, s.FrameBytes)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				// Final partial buffer: pad with silence and flush.
				for i := n; i < len(s.FrameBytes); i++ {
					s.FrameBytes[i] = 0
				}
				if n > 0 {
					_ = s.PortAudioStream.Write()
				}
				return nil
			}
			return fmt.Errorf("unable to read: %w", err)
		}
		if err := s.PortAudioStream.Write(); err != nil {
			return fmt.Errorf("unable to write: %w", err)
		}
	}
}

func (s *PlayStream) Close() error {
	var err error
	s.CloseOnce.Do(func() {
		s.CancelFunc()
		err = s.PortAudioStream.Abort()
	})
	return err
}

func (s *PlayStream) Drain() error {
	s.WaitGroup.Wait()
	return nil
}
