package types

import (
	"io"
)

// Stream is a live connection to an audio device. Closing it releases the
// underlying hardware handle.
type Stream interface {
	io.Closer
}

type PlayStream interface {
	Stream
	Drain() error
}

type RecordStream interface {
	Stream
}
