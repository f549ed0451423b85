package oto

import (
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
)

type Stream struct {
	OtoPlayer *oto.Player
}

var _ types.PlayStream = (*Stream)(nil)

func newStream(player *oto.Player) *Stream {
	return &Stream{
		OtoPlayer: player,
	}
}

func (s *Stream) Drain() error {
	for s.OtoPlayer.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (s *Stream) Close() error {
	return s.OtoPlayer.Close()
}
