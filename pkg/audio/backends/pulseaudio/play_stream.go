package pulseaudio

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

type PlayStream struct {
	*pulse.PlaybackStream
	closeOnce sync.Once
}

func newPlayStream(
	pulseStream *pulse.PlaybackStream,
) *PlayStream {
	return &PlayStream{
		PlaybackStream: pulseStream,
	}
}

func (stream *PlayStream) Drain() error {
	stream.PlaybackStream.Drain()
	if stream.Error() != nil {
		return fmt.Errorf("an error occurred during playback: %w", stream.Error())
	}
	if stream.Underflow() {
		return fmt.Errorf("underflow")
	}
	return nil
}

func (stream *PlayStream) Close() (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	stream.closeOnce.Do(func() {
		stream.PlaybackStream.Stop()
		stream.PlaybackStream.Close()
	})
	return
}
