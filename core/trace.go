package core

import (
	"fmt"
	"strings"

	"github.com/dustin/go-broadcast"
	"github.com/encodeous/pimsm/state"
)

// TraceEvent is a route table change published to control clients
type TraceEvent struct {
	Event PimEvent
	Desc  string
	Args  []any
}

func (t TraceEvent) String() string {
	var sb strings.Builder
	sb.WriteString(t.Event.String())
	sb.WriteString(" ")
	sb.WriteString(t.Desc)
	for i := 0; i+1 < len(t.Args); i += 2 {
		sb.WriteString(fmt.Sprintf(" %v=%v", t.Args[i], t.Args[i+1]))
	}
	return sb.String()
}

type PimTrace struct {
	broadcast.Broadcaster
}

func (n *PimTrace) Init(s *state.State) error {
	n.Broadcaster = broadcast.NewBroadcaster(1024)
	return nil
}

func (n *PimTrace) Cleanup(s *state.State) error {
	return n.Broadcaster.Close()
}

// Publish submits a trace event without blocking the caller. Events are
// dropped if the listeners fall behind.
func (n *PimTrace) Publish(event PimEvent, desc string, args ...any) {
	if n.Broadcaster == nil {
		return
	}
	n.TrySubmit(TraceEvent{
		Event: event,
		Desc:  desc,
		Args:  args,
	})
}
