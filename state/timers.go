package state

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

type TimerKind int

const (
	KeepAliveTimer TimerKind = iota
	RegisterStopTimer
	ExpiryTimer
	JoinTimer
	PrunePendingTimer
	NumTimerKinds
)

func (k TimerKind) String() string {
	switch k {
	case KeepAliveTimer:
		return "KAT"
	case RegisterStopTimer:
		return "RST"
	case ExpiryTimer:
		return "ET"
	case JoinTimer:
		return "JT"
	case PrunePendingTimer:
		return "PPT"
	default:
		return fmt.Sprintf("TimerKind(%d)", int(k))
	}
}

// EntryKind distinguishes the shape of the route a timer or join/prune operand refers to
type EntryKind int

const (
	EntryG EntryKind = iota
	EntrySG
)

func (e EntryKind) String() string {
	if e == EntryG {
		return "G"
	}
	return "SG"
}

// Timer is a single armed instance of a route timer. A firing timer is
// resolved through Key at dispatch time; the route must still hold the same
// instance (by Id) for the firing to take effect.
type Timer struct {
	Id       uuid.UUID
	Kind     TimerKind
	Key      RouteKey
	Entry    EntryKind
	Target   netip.Addr // join/prune target, the RP or the source
	Upstream netip.Addr // upstream neighbour the join/prune is addressed to
	IfId     IfId       // interface an expiry timer guards
	Interval time.Duration
	Deadline time.Time
	cancel   func() bool
}

func NewTimer(kind TimerKind, key RouteKey, interval time.Duration) *Timer {
	entry := EntrySG
	if key.IsWildcard() {
		entry = EntryG
	}
	return &Timer{
		Id:       uuid.New(),
		Kind:     kind,
		Key:      key,
		Entry:    entry,
		Interval: interval,
		Deadline: time.Now().Add(interval),
	}
}

// Bind attaches the function that cancels the underlying scheduled task
func (t *Timer) Bind(cancel func() bool) {
	t.cancel = cancel
}

// Stop cancels the scheduled task, if any. It is safe to call more than once.
func (t *Timer) Stop() {
	if t == nil || t.cancel == nil {
		return
	}
	t.cancel()
	t.cancel = nil
}

func (t *Timer) Remaining() time.Duration {
	return max(time.Until(t.Deadline), 0)
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s%s %s", t.Kind, t.Key, t.Id.String()[:8])
}
