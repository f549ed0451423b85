package pulseaudio

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// RecordStream wraps a Pulse record stream. Unlike the player, it does
// not own the client: the recorder keeps it, so that repeated capture
// sessions reuse one connection.
type RecordStream struct {
	*pulse.RecordStream
	closeOnce sync.Once
}

func newRecordStream(
	pulseStream *pulse.RecordStream,
) *RecordStream {
	return &RecordStream{
		RecordStream: pulseStream,
	}
}

func (stream *RecordStream) Drain() error {
	if stream.Error() != nil {
		return fmt.Errorf("an error occurred during recording: %w", stream.Error())
	}
	return nil
}

func (stream *RecordStream) Close() (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	stream.closeOnce.Do(func() {
		stream.RecordStream.Stop()
		stream.RecordStream.Close()
	})
	return
}
