package core

import (
	"errors"

	"github.com/encodeous/pimsm/state"
)

// Protocol engine errors. Each aborts only the event that raised it.
var (
	ErrProtocolDesync     = errors.New("protocol state desynchronized")
	ErrNoRendezvousPoint  = errors.New("no rendezvous point configured")
	ErrNotRendezvousPoint = errors.New("router is not the rendezvous point")
	ErrNoRoute            = state.ErrNoRoute
)
