// Package registry keeps track of the available audio backend factories.
// Backends register themselves from their init() and are returned ordered
// by priority (higher first).
package registry

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/voicetrainer/speechpipe/pkg/audio/types"
)

type RecorderPCMFactory interface {
	NewRecorderPCM() (types.RecorderPCM, error)
}

type PlayerPCMFactory interface {
	NewPlayerPCM() (types.PlayerPCM, error)
}

type factoryWithPriority[F any] struct {
	Priority int
	Factory  F
}

var (
	recorderFactoryRegistry = map[reflect.Type]factoryWithPriority[RecorderPCMFactory]{}
	playerFactoryRegistry   = map[reflect.Type]factoryWithPriority[PlayerPCMFactory]{}
)

func register[F any](
	m map[reflect.Type]factoryWithPriority[F],
	priority int,
	factory F,
) {
	t := reflect.ValueOf(factory).Type()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if _, ok := m[t]; ok {
		panic(fmt.Errorf("there is already a registered factory of type %v", t))
	}
	m[t] = factoryWithPriority[F]{
		Priority: priority,
		Factory:  factory,
	}
}

func list[F any](
	m map[reflect.Type]factoryWithPriority[F],
) []F {
	var withPriorities []factoryWithPriority[F]
	for _, factory := range m {
		withPriorities = append(withPriorities, factory)
	}
	sort.Slice(withPriorities, func(i, j int) bool {
		return withPriorities[i].Priority > withPriorities[j].Priority
	})

	var factories []F
	for _, factory := range withPriorities {
		factories = append(factories, factory.Factory)
	}

	return factories
}

func RegisterRecorderFactory(
	priority int,
	recorderPCMFactory RecorderPCMFactory,
) {
	register(recorderFactoryRegistry, priority, recorderPCMFactory)
}

func RecorderFactories() []RecorderPCMFactory {
	return list(recorderFactoryRegistry)
}

func RegisterPlayerFactory(
	priority int,
	playerPCMFactory PlayerPCMFactory,
) {
	register(playerFactoryRegistry, priority, playerPCMFactory)
}

func PlayerFactories() []PlayerPCMFactory {
	return list(playerFactoryRegistry)
}
