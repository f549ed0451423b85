package pulseaudio

import (
	"github.com/voicetrainer/speechpipe/pkg/audio/registry"
	"github.com/voicetrainer/speechpipe/pkg/audio/types"
)

const (
	Priority = 100
)

func init() {
	registry.RegisterRecorderFactory(Priority, RecorderPCMFactory{})
	registry.RegisterPlayerFactory(Priority, PlayerPCMFactory{})
}

type RecorderPCMFactory struct{}

func (RecorderPCMFactory) NewRecorderPCM() (types.RecorderPCM, error) {
	return NewRecorderPCM()
}

type PlayerPCMFactory struct{}

func (PlayerPCMFactory) NewPlayerPCM() (types.PlayerPCM, error) {
	return NewPlayerPCM()
}
