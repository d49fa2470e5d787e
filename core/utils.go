package core

import (
	"reflect"

	"github.com/encodeous/pimsm/state"
)

func Get[T state.PimModule](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}

func TryGet[T state.PimModule](s *state.State) (T, bool) {
	t := reflect.TypeFor[T]()
	m, ok := s.Modules[t.String()].(T)
	return m, ok
}
