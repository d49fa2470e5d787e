package core

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"testing"

	"github.com/encodeous/pimsm/protocol"
	"github.com/encodeous/pimsm/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

var (
	testGroup     = netip.MustParseAddr("239.1.1.1")
	testSource    = netip.MustParseAddr("192.168.10.5") // behind r1's eth1
	remoteSrc     = netip.MustParseAddr("172.16.0.5")   // behind the RP
	testRP        = netip.MustParseAddr("10.0.0.1")
	r1Upstream    = netip.MustParseAddr("10.0.1.2") // the RP, seen from r1
	rpToR1        = netip.MustParseAddr("10.0.1.1") // r1, seen from the RP
	r1Eth2        = netip.MustParseAddr("192.168.20.1")
	foreignRouter = netip.MustParseAddr("192.168.20.2")
	rpDownstream  = netip.MustParseAddr("10.0.2.1") // the RP's address toward its downstream router
	testPayload   = []byte("hello")
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

// PimHarness records every outbound operation of the protocol engine
type PimHarness struct {
	actions []HarnessEvent
}

func (h *PimHarness) SendJoinPrune(group, target, upstream netip.Addr, op protocol.JoinPruneOp, entry state.EntryKind) {
	h.actions = append(h.actions, MakeEvent("JOIN_PRUNE", op, group, target, upstream, entry))
}

func (h *PimHarness) SendRegister(src, group netip.Addr, payload []byte) {
	h.actions = append(h.actions, MakeEvent("REGISTER", src, group, payload))
}

func (h *PimHarness) SendRegisterNull(src, group netip.Addr) {
	h.actions = append(h.actions, MakeEvent("REGISTER_NULL", src, group))
}

func (h *PimHarness) SendRegisterStop(dr, group, src netip.Addr) {
	h.actions = append(h.actions, MakeEvent("REGISTER_STOP", dr, group, src))
}

func (h *PimHarness) ForwardData(src, group netip.Addr, oif state.IfId, payload []byte) {
	h.actions = append(h.actions, MakeEvent("FORWARD", src, group, oif, payload))
}

func (h *PimHarness) Schedule(t *state.Timer) {
	h.actions = append(h.actions, MakeEvent("SCHEDULE", t.Kind, t.Key))
}

func (h *PimHarness) Log(event PimEvent, desc string, args ...any) {
	x := make([]any, 0)
	x = append(x, event)
	x = append(x, desc)
	x = append(x, args...)
	h.actions = append(h.actions, MakeEvent("LOG", x...))
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

func (h *PimHarness) take() HarnessEvents {
	x := h.actions
	h.actions = make([]HarnessEvent, 0)
	return x
}

// GetActions returns and clears the recorded actions, without log entries
func (h *PimHarness) GetActions() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, action := range h.take() {
		if action.Message != "LOG" {
			x = append(x, action)
		}
	}
	return x
}

// GetAll returns and clears the recorded actions, including log entries
func (h *PimHarness) GetAll() HarnessEvents {
	return h.take()
}

// Messages returns only the events that put something on the wire
func (e HarnessEvents) Messages() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, event := range e {
		if event.Message != "LOG" && event.Message != "SCHEDULE" {
			x = append(x, event)
		}
	}
	return x
}

func (e HarnessEvents) matches(event HarnessEvent, msg string, args ...any) bool {
	if event.Message != msg || len(event.Args) < len(args) {
		return false
	}
	for i, arg := range args {
		if !cmp.Equal(event.Args[i], arg, cmpopts.EquateComparable(netip.Prefix{}, netip.Addr{})) {
			return false
		}
	}
	return true
}

func (e HarnessEvents) Count(msg string, args ...any) int {
	n := 0
	for _, event := range e {
		if e.matches(event, msg, args...) {
			n++
		}
	}
	return n
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	return e.Count(msg, args...) != 0
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

// r1Config is a first-hop/last-hop router one hop away from the RP:
//
//	RP(10.0.0.1) --- 10.0.1.2 | eth0 r1 eth1 | 192.168.10.0/24 (sources)
//	                          |        eth2  | 192.168.20.0/24 (receivers)
func r1Config() state.LocalCfg {
	cfg := state.SampleConfig()
	cfg.Interfaces = append(cfg.Interfaces, state.InterfaceCfg{
		Name:    "eth2",
		Address: netip.MustParsePrefix("192.168.20.1/24"),
		Pim:     true,
	})
	cfg.Routes = append(cfg.Routes, state.StaticRouteCfg{
		Prefix:    netip.MustParsePrefix("172.16.0.0/16"),
		Interface: "eth0",
		NextHop:   r1Upstream,
	})
	return cfg
}

// rpConfig is the rendezvous point. r1 hangs off eth1, a downstream router off eth2.
func rpConfig() state.LocalCfg {
	return state.LocalCfg{
		Id: "rp",
		Pim: state.PimCfg{
			RpAddress: testRP,
		},
		Interfaces: []state.InterfaceCfg{
			{Name: "eth0", Address: netip.MustParsePrefix("10.0.0.1/24"), Pim: true},
			{Name: "eth1", Address: netip.MustParsePrefix("10.0.1.2/24"), Pim: true},
			{Name: "eth2", Address: netip.MustParsePrefix("10.0.2.1/24"), Pim: true},
			{Name: "eth3", Address: netip.MustParsePrefix("172.16.0.1/16"), Pim: true},
		},
		Neighbours: []state.NeighbourCfg{
			{Interface: "eth1", Address: rpToR1},
			{Interface: "eth2", Address: netip.MustParseAddr("10.0.2.2")},
		},
		Routes: []state.StaticRouteCfg{
			{Prefix: netip.MustParsePrefix("192.168.0.0/16"), Interface: "eth1", NextHop: rpToR1},
		},
	}
}

func makePimState(t *testing.T, cfg state.LocalCfg) *state.PimState {
	t.Helper()
	state.ExpandLocalConfig(&cfg)
	require.NoError(t, state.LocalConfigValidator(&cfg))
	ps, err := state.NewPimState(&cfg)
	require.NoError(t, err)
	return ps
}

func joinMsg(upstream, group netip.Addr, operand protocol.EncodedAddress) *protocol.JoinPrune {
	return &protocol.JoinPrune{
		Upstream: upstream,
		HoldTime: 210,
		Groups: []protocol.GroupEntry{
			{Group: group, Joins: []protocol.EncodedAddress{operand}},
		},
	}
}

func pruneMsg(upstream, group netip.Addr, operand protocol.EncodedAddress) *protocol.JoinPrune {
	return &protocol.JoinPrune{
		Upstream: upstream,
		HoldTime: 210,
		Groups: []protocol.GroupEntry{
			{Group: group, Prunes: []protocol.EncodedAddress{operand}},
		},
	}
}

func registerMsg(t *testing.T, src, group netip.Addr, payload []byte) *protocol.Register {
	t.Helper()
	inner, err := protocol.Encapsulate(src, group, state.MaxTTL-1, payload)
	require.NoError(t, err)
	return &protocol.Register{Source: src, Group: group, Payload: inner}
}

// fire delivers the currently armed timer of kind on the route for key
func fire(t *testing.T, ps *state.PimState, h *PimHarness, key state.RouteKey, kind state.TimerKind) {
	t.Helper()
	route := ps.Routes.FindKey(key)
	require.NotNil(t, route, "route %s", key)
	tm := route.Timer(kind)
	require.NotNil(t, tm, "%s on %s", kind, key)
	require.NoError(t, HandleTimer(ps, h, tm))
}

// assertTimerIdentity checks that no two armed timers share an id and that
// every timer sits in the slot of its own kind
func assertTimerIdentity(t *testing.T, ps *state.PimState) {
	t.Helper()
	seen := make(map[string]struct{})
	for _, route := range ps.Routes.All() {
		for kind, tm := range route.Timers {
			if tm == nil {
				continue
			}
			require.Equal(t, state.TimerKind(kind), tm.Kind)
			require.Equal(t, route.RouteKey, tm.Key)
			_, dup := seen[tm.Id.String()]
			require.False(t, dup, "timer %s armed twice", tm)
			seen[tm.Id.String()] = struct{}{}
		}
	}
}
