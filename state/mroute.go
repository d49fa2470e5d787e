package state

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// RouteKey identifies a multicast route. A wildcard source denotes a (*,G) entry.
type RouteKey struct {
	Source netip.Addr
	Group  netip.Addr
}

func StarG(group netip.Addr) RouteKey {
	return RouteKey{Source: Wildcard, Group: group}
}

func SG(source, group netip.Addr) RouteKey {
	return RouteKey{Source: source, Group: group}
}

func (k RouteKey) IsWildcard() bool {
	return !k.Source.IsValid() || k.Source.IsUnspecified()
}

func (k RouteKey) String() string {
	if k.IsWildcard() {
		return fmt.Sprintf("(*, %s)", k.Group)
	}
	return fmt.Sprintf("(%s, %s)", k.Source, k.Group)
}

type Flag uint8

const (
	FlagConnected Flag = 1 << iota
	FlagSptPending
	FlagPruned
	FlagRegister
	FlagSptBuilt
)

var flagNames = []Pair[Flag, string]{
	{FlagSptPending, "S"},
	{FlagConnected, "C"},
	{FlagPruned, "P"},
	{FlagRegister, "F"},
	{FlagSptBuilt, "T"},
}

func (f Flag) String() string {
	var sb strings.Builder
	for _, fl := range flagNames {
		if f&fl.V1 != 0 {
			sb.WriteString(fl.V2)
		}
	}
	return sb.String()
}

type ForwardState int

const (
	Forward ForwardState = iota
	Pruned
)

func (f ForwardState) String() string {
	if f == Forward {
		return "Forward"
	}
	return "Pruned"
}

type IfMode int

const (
	Sparse IfMode = iota
)

func (m IfMode) String() string {
	return "Sparse"
}

type AssertState int

const (
	AssertNoInfo AssertState = iota
	AssertWinner
	AssertLoser
)

func (a AssertState) String() string {
	switch a {
	case AssertWinner:
		return "Winner"
	case AssertLoser:
		return "Loser"
	default:
		return "NoInfo"
	}
}

// RegisterState is the state of the register tunnel from a source's DR to the RP
type RegisterState int

const (
	RegNoInfo RegisterState = iota
	RegJoin
	RegPrune
	RegNoInfoRS
	RegJoinPending
)

func (r RegisterState) String() string {
	switch r {
	case RegJoin:
		return "Join"
	case RegPrune:
		return "Prune"
	case RegNoInfoRS:
		return "NoInfoRS"
	case RegJoinPending:
		return "JoinPending"
	default:
		return "NoInfo"
	}
}

type OutgoingInterface struct {
	IfId       IfId
	Forwarding ForwardState
	Mode       IfMode
	Assert     AssertState
	Register   RegisterState
}

func (o OutgoingInterface) String() string {
	s := fmt.Sprintf("if%d %s/%s", o.IfId, o.Mode, o.Forwarding)
	if o.Register != RegNoInfo {
		s += " reg:" + o.Register.String()
	}
	return s
}

// MulticastRoute is a (*,G) or (S,G) entry of the multicast routing table
type MulticastRoute struct {
	RouteKey
	RP       netip.Addr
	InIf     IfId       // 0 if there is no incoming interface (e.g. the RP's own (*,G))
	Upstream netip.Addr // RPF neighbour on InIf, invalid if unknown or directly connected
	Outgoing []OutgoingInterface
	Flags    Flag
	Timers   [NumTimerKinds]*Timer
}

func NewRoute(key RouteKey, rp netip.Addr) *MulticastRoute {
	return &MulticastRoute{
		RouteKey: key,
		RP:       rp,
	}
}

// AddOutgoing appends oif unless an entry for the same interface exists.
// Returns true if the list changed.
func (r *MulticastRoute) AddOutgoing(oif OutgoingInterface) bool {
	if r.HasOutgoing(oif.IfId) {
		return false
	}
	if r.IsWildcard() {
		oif.Register = RegNoInfo
	}
	r.Outgoing = append(r.Outgoing, oif)
	return true
}

// RemoveOutgoing removes the entry for id. Returns true if an entry was removed.
func (r *MulticastRoute) RemoveOutgoing(id IfId) bool {
	idx := slices.IndexFunc(r.Outgoing, func(o OutgoingInterface) bool {
		return o.IfId == id
	})
	if idx < 0 {
		return false
	}
	r.Outgoing = slices.Delete(r.Outgoing, idx, idx+1)
	return true
}

// LeaveOutgoing stops forwarding on id. An entry that carries register state
// stays in the list as Pruned so the tunnel toward the RP survives, any other
// entry is removed. Returns true if id was forwarding or was removed.
func (r *MulticastRoute) LeaveOutgoing(id IfId) bool {
	o := r.GetOutgoing(id)
	if o == nil {
		return false
	}
	if o.Register == RegNoInfo {
		return r.RemoveOutgoing(id)
	}
	if o.Forwarding == Pruned {
		return false
	}
	o.Forwarding = Pruned
	return true
}

func (r *MulticastRoute) HasOutgoing(id IfId) bool {
	return r.GetOutgoing(id) != nil
}

func (r *MulticastRoute) GetOutgoing(id IfId) *OutgoingInterface {
	for i := range r.Outgoing {
		if r.Outgoing[i].IfId == id {
			return &r.Outgoing[i]
		}
	}
	return nil
}

// IsOilistNull reports whether no outgoing interface is in Forward state
func (r *MulticastRoute) IsOilistNull() bool {
	for _, o := range r.Outgoing {
		if o.Forwarding == Forward {
			return false
		}
	}
	return true
}

func (r *MulticastRoute) ForwardingInterfaces() []IfId {
	ids := make([]IfId, 0, len(r.Outgoing))
	for _, o := range r.Outgoing {
		if o.Forwarding == Forward {
			ids = append(ids, o.IfId)
		}
	}
	return ids
}

func (r *MulticastRoute) SetAllForward() {
	for i := range r.Outgoing {
		r.Outgoing[i].Forwarding = Forward
	}
}

// RegisterState returns the register tunnel state of the outgoing interface id
func (r *MulticastRoute) RegisterState(id IfId) RegisterState {
	if o := r.GetOutgoing(id); o != nil {
		return o.Register
	}
	return RegNoInfo
}

// SetRegisterState updates the register tunnel state of interface id.
// (*,G) routes never carry register state.
func (r *MulticastRoute) SetRegisterState(id IfId, rs RegisterState) error {
	if r.IsWildcard() {
		return fmt.Errorf("%s cannot carry register state", r.RouteKey)
	}
	o := r.GetOutgoing(id)
	if o == nil {
		return fmt.Errorf("%s has no outgoing interface %d", r.RouteKey, id)
	}
	o.Register = rs
	return nil
}

func (r *MulticastRoute) Has(f Flag) bool {
	return r.Flags&f != 0
}

func (r *MulticastRoute) Set(f Flag) {
	r.Flags |= f
}

func (r *MulticastRoute) Clear(f Flag) {
	r.Flags &^= f
}

// SetTimer installs t in the slot for its kind, stopping any previous instance
func (r *MulticastRoute) SetTimer(t *Timer) {
	r.Timers[t.Kind].Stop()
	r.Timers[t.Kind] = t
}

func (r *MulticastRoute) ClearTimer(kind TimerKind) {
	r.Timers[kind].Stop()
	r.Timers[kind] = nil
}

func (r *MulticastRoute) Timer(kind TimerKind) *Timer {
	return r.Timers[kind]
}

// OwnsTimer reports whether t is the instance currently armed on this route
func (r *MulticastRoute) OwnsTimer(t *Timer) bool {
	cur := r.Timers[t.Kind]
	return cur != nil && cur.Id == t.Id
}

func (r *MulticastRoute) StopTimers() {
	for k := range r.Timers {
		r.ClearTimer(TimerKind(k))
	}
}

func (r *MulticastRoute) String() string {
	oifs := make([]string, 0, len(r.Outgoing))
	for _, o := range r.Outgoing {
		oifs = append(oifs, o.String())
	}
	return fmt.Sprintf("%s rp: %s, iif: %d, flags: %s, oil: [%s]", r.RouteKey, r.RP, r.InIf, r.Flags, strings.Join(oifs, ", "))
}
