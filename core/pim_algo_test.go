package core

import (
	"net/netip"
	"testing"

	"github.com/encodeous/pimsm/protocol"
	"github.com/encodeous/pimsm/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalReceiverCreatesSharedTree(t *testing.T) {
	// local receiver on eth1 joins G, nothing is known about G yet
	h := &PimHarness{}
	ps := makePimState(t, r1Config())

	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2}))

	require.Equal(t, 1, ps.Routes.Len())
	g := ps.Routes.Find(testGroup, state.Wildcard)
	require.NotNil(t, g)
	assert.Equal(t, []state.IfId{2}, g.ForwardingInterfaces())
	assert.Equal(t, state.IfId(1), g.InIf)
	assert.Equal(t, r1Upstream, g.Upstream)
	assert.True(t, g.Has(state.FlagConnected))
	assert.True(t, g.Has(state.FlagSptPending))
	assert.False(t, g.Has(state.FlagPruned))
	require.NotNil(t, g.Timer(state.ExpiryTimer))
	require.NotNil(t, g.Timer(state.JoinTimer))
	assert.Equal(t, state.IfId(2), g.Timer(state.ExpiryTimer).IfId)

	a := h.GetActions()
	assert.Equal(t, 1, a.Count("JOIN_PRUNE"))
	a.AssertContains(t, "JOIN_PRUNE", protocol.OpJoin, testGroup, testRP, r1Upstream, state.EntryG)
	a.AssertContains(t, "SCHEDULE", state.ExpiryTimer, state.StarG(testGroup))
	a.AssertContains(t, "SCHEDULE", state.JoinTimer, state.StarG(testGroup))
	assertTimerIdentity(t, ps)
}

func TestStarGJoinAtRP(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())

	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(rpDownstream, testGroup, protocol.RPOperand(testRP))))

	g := ps.Routes.Find(testGroup, state.Wildcard)
	require.NotNil(t, g)
	assert.Equal(t, state.IfId(0), g.InIf)
	assert.Equal(t, []state.IfId{3}, g.ForwardingInterfaces())
	assert.False(t, g.Has(state.FlagConnected))
	assert.NotNil(t, g.Timer(state.ExpiryTimer))
	assert.NotNil(t, g.Timer(state.JoinTimer))
	// the RP is the root of the shared tree
	assert.Empty(t, h.GetActions().Messages())
}

func TestSecondReceiverDoesNotJoinAgain(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2}))
	h.GetActions()

	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 3}))
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 3}))

	g := ps.Routes.Find(testGroup, state.Wildcard)
	assert.Equal(t, []state.IfId{2, 3}, g.ForwardingInterfaces())
	assert.Equal(t, 1, ps.Routes.Len())
	assert.Empty(t, h.GetActions().Messages())
	assertTimerIdentity(t, ps)
}

func TestLastReceiverLeavesPrunesOnce(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2}))
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 3}))
	h.GetActions()

	require.NoError(t, HandleEvent(ps, h, state.ReceiverRemoved{Group: testGroup, IfId: 2}))
	g := ps.Routes.Find(testGroup, state.Wildcard)
	assert.False(t, g.Has(state.FlagPruned))
	assert.Nil(t, g.Timer(state.PrunePendingTimer))

	require.NoError(t, HandleEvent(ps, h, state.ReceiverRemoved{Group: testGroup, IfId: 3}))
	// removing an interface that is already gone changes nothing
	require.NoError(t, HandleEvent(ps, h, state.ReceiverRemoved{Group: testGroup, IfId: 3}))

	assert.True(t, g.IsOilistNull())
	assert.True(t, g.Has(state.FlagPruned))
	assert.False(t, g.Has(state.FlagConnected))
	assert.Nil(t, g.Timer(state.JoinTimer))
	require.NotNil(t, g.Timer(state.PrunePendingTimer))
	a := h.GetActions()
	assert.Equal(t, 1, a.Count("SCHEDULE", state.PrunePendingTimer))
	assert.Empty(t, a.Messages())

	fire(t, ps, h, state.StarG(testGroup), state.PrunePendingTimer)
	a = h.GetActions()
	assert.Equal(t, 1, a.Count("JOIN_PRUNE"))
	a.AssertContains(t, "JOIN_PRUNE", protocol.OpPrune, testGroup, testRP, r1Upstream, state.EntryG)
	assert.Nil(t, g.Timer(state.PrunePendingTimer))

	// the shared tree state ages out with its expiry timer
	fire(t, ps, h, state.StarG(testGroup), state.ExpiryTimer)
	assert.Equal(t, 0, ps.Routes.Len())
}

func TestPruneFromDownstream(t *testing.T) {
	// Scenario: a Prune removes the only outgoing interface of a (*,G)
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 3}))
	h.GetActions()

	local := r1Eth2
	require.NoError(t, HandleJoinPrune(ps, h, 3, pruneMsg(local, testGroup, protocol.RPOperand(testRP))))

	g := ps.Routes.Find(testGroup, state.Wildcard)
	assert.True(t, g.Has(state.FlagPruned))
	assert.False(t, g.Has(state.FlagConnected))
	assert.NotNil(t, g.Timer(state.PrunePendingTimer))
	h.GetActions().AssertContains(t, "SCHEDULE", state.PrunePendingTimer, state.StarG(testGroup))
}

func TestPruneAtRPArmsNothing(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(rpDownstream, testGroup, protocol.RPOperand(testRP))))
	h.GetActions()

	require.NoError(t, HandleJoinPrune(ps, h, 3, pruneMsg(rpDownstream, testGroup, protocol.RPOperand(testRP))))

	g := ps.Routes.Find(testGroup, state.Wildcard)
	assert.True(t, g.Has(state.FlagPruned))
	assert.Nil(t, g.Timer(state.PrunePendingTimer))
	a := h.GetActions()
	assert.Equal(t, 0, a.Count("SCHEDULE", state.PrunePendingTimer))
	assert.Empty(t, a.Messages())
}

func TestJoinPruneRoundTrip(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2}))
	g := ps.Routes.Find(testGroup, state.Wildcard)
	before := g.ForwardingInterfaces()

	local := r1Eth2
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(local, testGroup, protocol.RPOperand(testRP))))
	assert.Equal(t, []state.IfId{2, 3}, g.ForwardingInterfaces())
	require.NoError(t, HandleJoinPrune(ps, h, 3, pruneMsg(local, testGroup, protocol.RPOperand(testRP))))
	assert.Equal(t, before, g.ForwardingInterfaces())
	assert.False(t, g.Has(state.FlagPruned))
}

func TestJoinForAnotherUpstreamIgnored(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())

	other := foreignRouter
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(other, testGroup, protocol.RPOperand(testRP))))
	assert.Equal(t, 0, ps.Routes.Len())
	h.GetAll().AssertContains(t, "LOG", MessageIgnored)
}

func TestPruneOverride(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 3}))
	require.NoError(t, HandleEvent(ps, h, state.ReceiverRemoved{Group: testGroup, IfId: 3}))
	g := ps.Routes.Find(testGroup, state.Wildcard)
	ppt := g.Timer(state.PrunePendingTimer)
	require.NotNil(t, ppt)
	h.GetActions()

	// a downstream router joins before the prune goes out
	local := r1Eth2
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(local, testGroup, protocol.RPOperand(testRP))))

	assert.Nil(t, g.Timer(state.PrunePendingTimer))
	assert.False(t, g.Has(state.FlagPruned))
	assert.Equal(t, []state.IfId{3}, g.ForwardingInterfaces())
	all := h.GetAll()
	all.AssertContains(t, "LOG", PruneOverride)
	// grafted back onto the shared tree
	all.AssertContains(t, "JOIN_PRUNE", protocol.OpJoin, testGroup, testRP, r1Upstream, state.EntryG)

	// the overridden prune never fires
	require.NoError(t, HandleTimer(ps, h, ppt))
	all = h.GetAll()
	all.AssertContains(t, "LOG", StaleTimer)
	all.AssertNotContains(t, "JOIN_PRUNE", protocol.OpPrune)
}

func TestReceiverRegraftsSharedTree(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2}))
	require.NoError(t, HandleEvent(ps, h, state.ReceiverRemoved{Group: testGroup, IfId: 2}))
	fire(t, ps, h, state.StarG(testGroup), state.PrunePendingTimer)
	h.GetActions()

	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2}))
	g := ps.Routes.Find(testGroup, state.Wildcard)
	assert.False(t, g.Has(state.FlagPruned))
	assert.True(t, g.Has(state.FlagConnected))
	assert.NotNil(t, g.Timer(state.JoinTimer))
	a := h.GetActions()
	assert.Equal(t, 1, a.Count("JOIN_PRUNE", protocol.OpJoin))
}

func TestSourceTreeJoinAtIntermediateRouter(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	local := r1Eth2

	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(local, testGroup, protocol.SourceOperand(remoteSrc))))

	sg := ps.Routes.Find(testGroup, remoteSrc)
	require.NotNil(t, sg)
	assert.Equal(t, state.IfId(1), sg.InIf)
	assert.Equal(t, r1Upstream, sg.Upstream)
	assert.Equal(t, []state.IfId{3}, sg.ForwardingInterfaces())
	assert.NotNil(t, sg.Timer(state.JoinTimer))
	assert.Equal(t, state.IfId(3), sg.Timer(state.ExpiryTimer).IfId)

	// a shared tree placeholder is kept for the group
	g := ps.Routes.Find(testGroup, state.Wildcard)
	require.NotNil(t, g)
	assert.True(t, g.Has(state.FlagSptPending))
	assert.True(t, g.Has(state.FlagPruned))
	assert.NotNil(t, g.Timer(state.ExpiryTimer))

	a := h.GetActions()
	assert.Equal(t, 1, a.Count("JOIN_PRUNE"))
	a.AssertContains(t, "JOIN_PRUNE", protocol.OpJoin, testGroup, remoteSrc, r1Upstream, state.EntrySG)
	assertTimerIdentity(t, ps)
}

func TestSourceTreeExpiryRemovesOnlyItsInterface(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleJoinPrune(ps, h, 2, joinMsg(netip.MustParseAddr("192.168.10.1"), testGroup, protocol.SourceOperand(remoteSrc))))
	sg := ps.Routes.Find(testGroup, remoteSrc)
	first := sg.Timer(state.ExpiryTimer)
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(r1Eth2, testGroup, protocol.SourceOperand(remoteSrc))))
	assert.Equal(t, []state.IfId{2, 3}, sg.ForwardingInterfaces())
	h.GetActions()

	// the timer armed by the first join was replaced
	require.NoError(t, HandleTimer(ps, h, first))
	h.GetAll().AssertContains(t, "LOG", StaleTimer)
	assert.Equal(t, []state.IfId{2, 3}, sg.ForwardingInterfaces())

	fire(t, ps, h, sg.RouteKey, state.ExpiryTimer)
	assert.Equal(t, []state.IfId{2}, sg.ForwardingInterfaces())
	assert.False(t, sg.Has(state.FlagPruned))
	assert.Nil(t, sg.Timer(state.PrunePendingTimer))
	assert.Empty(t, h.GetActions().Messages())
}

func TestSourceTreeNullOilPrunesOnce(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	local := r1Eth2
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(local, testGroup, protocol.SourceOperand(remoteSrc))))
	h.GetActions()

	require.NoError(t, HandleJoinPrune(ps, h, 3, pruneMsg(local, testGroup, protocol.SourceOperand(remoteSrc))))
	require.NoError(t, HandleJoinPrune(ps, h, 3, pruneMsg(local, testGroup, protocol.SourceOperand(remoteSrc))))
	sg := ps.Routes.Find(testGroup, remoteSrc)
	require.NotNil(t, sg.Timer(state.PrunePendingTimer))
	fire(t, ps, h, sg.RouteKey, state.PrunePendingTimer)

	a := h.GetActions()
	assert.Equal(t, 1, a.Count("JOIN_PRUNE", protocol.OpPrune))
	a.AssertContains(t, "JOIN_PRUNE", protocol.OpPrune, testGroup, remoteSrc, r1Upstream, state.EntrySG)
}

func TestSourceTreeNullOilAtRP(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(rpDownstream, testGroup, protocol.SourceOperand(testSource))))
	h.GetActions()

	require.NoError(t, HandleJoinPrune(ps, h, 3, pruneMsg(rpDownstream, testGroup, protocol.SourceOperand(testSource))))

	sg := ps.Routes.Find(testGroup, testSource)
	assert.True(t, sg.Has(state.FlagPruned))
	assert.Nil(t, sg.Timer(state.PrunePendingTimer))
	assert.Equal(t, 0, h.GetActions().Count("JOIN_PRUNE", protocol.OpPrune))
}

func TestSourceTreeJoinAtDR(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.NewSourceDetected{Source: testSource, Group: testGroup, IfId: 2}))
	h.GetActions()

	// the RP joins the source tree toward us
	require.NoError(t, HandleJoinPrune(ps, h, 1, joinMsg(netip.MustParseAddr("10.0.1.1"), testGroup, protocol.SourceOperand(testSource))))

	sg := ps.Routes.Find(testGroup, testSource)
	assert.False(t, sg.Has(state.FlagPruned))
	assert.Equal(t, []state.IfId{1}, sg.ForwardingInterfaces())
	assert.Nil(t, sg.Timer(state.JoinTimer))
	// the source is directly connected, there is no one upstream to join
	assert.Empty(t, h.GetActions().Messages())

	require.NoError(t, HandleEvent(ps, h, state.DataReady{Source: testSource, Group: testGroup, Payload: testPayload}))
	h.GetActions().AssertContains(t, "FORWARD", testSource, testGroup, state.IfId(1), testPayload)
}

// joinedAtDR sets up r1 as the DR of testSource with the RP joined on eth0
func joinedAtDR(t *testing.T) (*state.PimState, *PimHarness, *state.MulticastRoute) {
	t.Helper()
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.NewSourceDetected{Source: testSource, Group: testGroup, IfId: 2}))
	require.NoError(t, HandleJoinPrune(ps, h, 1, joinMsg(netip.MustParseAddr("10.0.1.1"), testGroup, protocol.SourceOperand(testSource))))
	sg := ps.Routes.Find(testGroup, testSource)
	require.Equal(t, []state.IfId{1}, sg.ForwardingInterfaces())
	require.Equal(t, state.RegJoin, sg.RegisterState(1))
	h.GetActions()
	return ps, h, sg
}

func assertTunnelKept(t *testing.T, ps *state.PimState, h *PimHarness, sg *state.MulticastRoute) {
	t.Helper()
	require.True(t, sg.HasOutgoing(1))
	assert.True(t, sg.IsOilistNull())
	assert.True(t, sg.Has(state.FlagPruned))
	assert.Equal(t, state.RegJoin, sg.RegisterState(1))
	assert.Nil(t, sg.Timer(state.PrunePendingTimer))
	// directly connected source, nothing to prune upstream
	assert.Empty(t, h.GetActions().Messages())

	require.NoError(t, HandleEvent(ps, h, state.DataReady{Source: testSource, Group: testGroup, Payload: testPayload}))
	a := h.GetActions()
	a.AssertContains(t, "REGISTER", testSource, testGroup, testPayload)
	a.AssertNotContains(t, "FORWARD")
}

func TestSourceTreeExpiryAtDRKeepsTunnel(t *testing.T) {
	ps, h, sg := joinedAtDR(t)

	fire(t, ps, h, sg.RouteKey, state.ExpiryTimer)
	assertTunnelKept(t, ps, h, sg)

	// the probe cycle still runs
	require.NoError(t, HandleRegisterStop(ps, h, &protocol.RegisterStop{Group: testGroup, Source: testSource}))
	assert.Equal(t, state.RegPrune, sg.RegisterState(1))
	h.GetActions()
	fire(t, ps, h, sg.RouteKey, state.RegisterStopTimer)
	h.GetActions().AssertContains(t, "REGISTER_NULL", testSource, testGroup)
	assert.Equal(t, state.RegJoinPending, sg.RegisterState(1))
}

func TestSourceTreePruneAtDRKeepsTunnel(t *testing.T) {
	ps, h, sg := joinedAtDR(t)

	require.NoError(t, HandleJoinPrune(ps, h, 1, pruneMsg(netip.MustParseAddr("10.0.1.1"), testGroup, protocol.SourceOperand(testSource))))
	assertTunnelKept(t, ps, h, sg)

	// a second prune changes nothing
	require.NoError(t, HandleJoinPrune(ps, h, 1, pruneMsg(netip.MustParseAddr("10.0.1.1"), testGroup, protocol.SourceOperand(testSource))))
	assert.Empty(t, h.GetActions().Messages())

	// the RP joins again
	require.NoError(t, HandleJoinPrune(ps, h, 1, joinMsg(netip.MustParseAddr("10.0.1.1"), testGroup, protocol.SourceOperand(testSource))))
	assert.Equal(t, []state.IfId{1}, sg.ForwardingInterfaces())
	assert.False(t, sg.Has(state.FlagPruned))
}

func TestKeepAliveExpiryRemovesRoute(t *testing.T) {
	// Scenario: KAT of an (S,G) fires with no refresh
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.NewSourceDetected{Source: testSource, Group: testGroup, IfId: 2}))
	h.GetActions()

	fire(t, ps, h, state.SG(testSource, testGroup), state.KeepAliveTimer)

	assert.Nil(t, ps.Routes.Find(testGroup, testSource))
	assert.NotNil(t, ps.Routes.Find(testGroup, state.Wildcard))
	assert.Empty(t, h.GetActions().Messages())
}

func TestRegisterStopPrunesTunnel(t *testing.T) {
	// Scenario: Register-Stop with register state Join toward the RP
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.NewSourceDetected{Source: testSource, Group: testGroup, IfId: 2}))
	sg := ps.Routes.Find(testGroup, testSource)
	require.Equal(t, state.RegJoin, sg.RegisterState(1))
	h.GetActions()

	require.NoError(t, HandleRegisterStop(ps, h, &protocol.RegisterStop{Group: testGroup, Source: testSource}))

	assert.Equal(t, state.RegPrune, sg.RegisterState(1))
	rst := sg.Timer(state.RegisterStopTimer)
	require.NotNil(t, rst)
	assert.Equal(t, state.RegisterSuppressionTime-state.RegisterProbeTime, rst.Interval)

	// registering is suppressed
	require.NoError(t, HandleEvent(ps, h, state.DataReady{Source: testSource, Group: testGroup, Payload: testPayload}))
	assert.Equal(t, 0, h.GetActions().Count("REGISTER"))
}

func TestRegisterStopForUnknownRoute(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	err := HandleRegisterStop(ps, h, &protocol.RegisterStop{Group: testGroup, Source: testSource})
	assert.ErrorIs(t, err, ErrProtocolDesync)
	assert.Equal(t, 0, ps.Routes.Len())
}

func TestRegisterProbeCycle(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.NewSourceDetected{Source: testSource, Group: testGroup, IfId: 2}))
	require.NoError(t, HandleRegisterStop(ps, h, &protocol.RegisterStop{Group: testGroup, Source: testSource}))
	sg := ps.Routes.Find(testGroup, testSource)
	h.GetActions()

	// suppression ends with a probe
	fire(t, ps, h, sg.RouteKey, state.RegisterStopTimer)
	a := h.GetActions()
	a.AssertContains(t, "REGISTER_NULL", testSource, testGroup)
	assert.Equal(t, state.RegJoinPending, sg.RegisterState(1))
	require.NotNil(t, sg.Timer(state.RegisterStopTimer))
	assert.Equal(t, state.RegisterProbeTime, sg.Timer(state.RegisterStopTimer).Interval)

	// the RP still does not want the data
	require.NoError(t, HandleRegisterStop(ps, h, &protocol.RegisterStop{Group: testGroup, Source: testSource}))
	assert.Equal(t, state.RegPrune, sg.RegisterState(1))

	fire(t, ps, h, sg.RouteKey, state.RegisterStopTimer)
	assert.Equal(t, state.RegJoinPending, sg.RegisterState(1))
	h.GetActions()

	// no answer to the probe, resume registering
	fire(t, ps, h, sg.RouteKey, state.RegisterStopTimer)
	assert.Equal(t, state.RegJoin, sg.RegisterState(1))
	assert.Nil(t, sg.Timer(state.RegisterStopTimer))

	require.NoError(t, HandleEvent(ps, h, state.DataReady{Source: testSource, Group: testGroup, Payload: testPayload}))
	h.GetActions().AssertContains(t, "REGISTER", testSource, testGroup, testPayload)
}

func TestRegisterWithoutReceivers(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())

	require.NoError(t, HandleRegister(ps, h, rpToR1, registerMsg(t, testSource, testGroup, testPayload)))

	g := ps.Routes.Find(testGroup, state.Wildcard)
	sg := ps.Routes.Find(testGroup, testSource)
	require.NotNil(t, g)
	require.NotNil(t, sg)
	assert.True(t, g.Has(state.FlagPruned))
	assert.True(t, sg.Has(state.FlagPruned))
	assert.Equal(t, state.IfId(2), sg.InIf)
	assert.Equal(t, rpToR1, sg.Upstream)
	assert.NotNil(t, g.Timer(state.KeepAliveTimer))
	assert.NotNil(t, sg.Timer(state.KeepAliveTimer))
	assert.Equal(t, 2*state.KeepAliveTime, g.Timer(state.KeepAliveTimer).Interval)

	a := h.GetActions()
	assert.Equal(t, 1, a.Count("REGISTER_STOP"))
	a.AssertContains(t, "REGISTER_STOP", rpToR1, testGroup, testSource)
	assert.Equal(t, 0, a.Count("FORWARD"))
	assert.Equal(t, 0, a.Count("JOIN_PRUNE"))
}

func TestRegisterWithReceivers(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(rpDownstream, testGroup, protocol.RPOperand(testRP))))
	h.GetActions()

	require.NoError(t, HandleRegister(ps, h, rpToR1, registerMsg(t, testSource, testGroup, testPayload)))

	a := h.GetActions()
	a.AssertContains(t, "FORWARD", testSource, testGroup, state.IfId(3), testPayload)
	a.AssertContains(t, "JOIN_PRUNE", protocol.OpJoin, testGroup, testSource, rpToR1, state.EntrySG)
	assert.Equal(t, 1, a.Count("REGISTER_STOP", rpToR1, testGroup, testSource))

	sg := ps.Routes.Find(testGroup, testSource)
	assert.False(t, sg.Has(state.FlagPruned))
	assert.Equal(t, []state.IfId{3}, sg.ForwardingInterfaces())
	assert.NotNil(t, sg.Timer(state.JoinTimer))
	assertTimerIdentity(t, ps)
}

func TestRegisterSptInfinity(t *testing.T) {
	h := &PimHarness{}
	cfg := rpConfig()
	cfg.Pim.SptThreshold = "infinity"
	ps := makePimState(t, cfg)
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(rpDownstream, testGroup, protocol.RPOperand(testRP))))
	h.GetActions()

	require.NoError(t, HandleRegister(ps, h, rpToR1, registerMsg(t, testSource, testGroup, testPayload)))

	a := h.GetActions()
	a.AssertContains(t, "FORWARD", testSource, testGroup, state.IfId(3), testPayload)
	assert.Equal(t, 0, a.Count("JOIN_PRUNE"))
	assert.Equal(t, 0, a.Count("REGISTER_STOP"))
	assert.True(t, ps.Routes.Find(testGroup, testSource).Has(state.FlagPruned))
}

func TestRegisterNullCreatesNothing(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())

	require.NoError(t, HandleRegister(ps, h, rpToR1, &protocol.Register{Null: true, Source: testSource, Group: testGroup}))

	assert.Equal(t, 0, ps.Routes.Len())
	a := h.GetActions()
	a.AssertContains(t, "REGISTER_STOP", rpToR1, testGroup, testSource)
	assert.Equal(t, 0, a.Count("SCHEDULE"))
}

func TestRegisterAtNonRP(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	err := HandleRegister(ps, h, netip.MustParseAddr("10.0.1.2"), registerMsg(t, testSource, testGroup, testPayload))
	assert.ErrorIs(t, err, ErrNotRendezvousPoint)
	assert.Equal(t, 0, ps.Routes.Len())
}

func TestRegisterPayloadMismatch(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(rpDownstream, testGroup, protocol.RPOperand(testRP))))

	reg := registerMsg(t, remoteSrc, testGroup, testPayload)
	reg.Source = testSource
	err := HandleRegister(ps, h, rpToR1, reg)
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestSharedTreeJoinAtRPPullsSource(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())
	// the source registered before anyone was interested
	require.NoError(t, HandleRegister(ps, h, rpToR1, registerMsg(t, testSource, testGroup, testPayload)))
	h.GetActions()

	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(rpDownstream, testGroup, protocol.RPOperand(testRP))))

	g := ps.Routes.Find(testGroup, state.Wildcard)
	sg := ps.Routes.Find(testGroup, testSource)
	assert.False(t, g.Has(state.FlagPruned))
	assert.False(t, sg.Has(state.FlagPruned))
	assert.True(t, sg.Has(state.FlagSptBuilt))
	assert.Equal(t, []state.IfId{3}, g.ForwardingInterfaces())
	assert.Equal(t, []state.IfId{3}, sg.ForwardingInterfaces())
	assert.NotNil(t, sg.Timer(state.JoinTimer))
	a := h.GetActions()
	assert.Equal(t, 1, a.Count("JOIN_PRUNE"))
	a.AssertContains(t, "JOIN_PRUNE", protocol.OpJoin, testGroup, testSource, rpToR1, state.EntrySG)
}

func TestStarGJoinAtRPClearsRegisterFlag(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())
	require.NoError(t, HandleRegister(ps, h, rpToR1, registerMsg(t, testSource, testGroup, testPayload)))
	g := ps.Routes.Find(testGroup, state.Wildcard)
	g.Set(state.FlagRegister)
	h.GetActions()

	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(rpDownstream, testGroup, protocol.RPOperand(testRP))))

	assert.False(t, g.Has(state.FlagPruned))
	assert.False(t, g.Has(state.FlagRegister))
	assert.Equal(t, []state.IfId{3}, g.ForwardingInterfaces())
}

func TestJoinTimerRefresh(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2}))
	g := ps.Routes.Find(testGroup, state.Wildcard)
	old := g.Timer(state.JoinTimer)
	h.GetActions()

	fire(t, ps, h, g.RouteKey, state.JoinTimer)

	a := h.GetActions()
	a.AssertContains(t, "JOIN_PRUNE", protocol.OpJoin, testGroup, testRP, r1Upstream, state.EntryG)
	a.AssertContains(t, "SCHEDULE", state.JoinTimer, g.RouteKey)
	require.NotNil(t, g.Timer(state.JoinTimer))
	assert.NotEqual(t, old.Id, g.Timer(state.JoinTimer).Id)
}

func TestJoinTimerAtRPIsSilent(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, rpConfig())
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(rpDownstream, testGroup, protocol.RPOperand(testRP))))
	h.GetActions()

	fire(t, ps, h, state.StarG(testGroup), state.JoinTimer)

	a := h.GetActions()
	assert.Empty(t, a.Messages())
	a.AssertContains(t, "SCHEDULE", state.JoinTimer, state.StarG(testGroup))
}

func TestTimerForDeletedRouteIsStale(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2}))
	g := ps.Routes.Find(testGroup, state.Wildcard)
	jt := g.Timer(state.JoinTimer)
	fire(t, ps, h, g.RouteKey, state.ExpiryTimer)
	require.Equal(t, 0, ps.Routes.Len())
	h.GetActions()

	require.NoError(t, HandleTimer(ps, h, jt))
	all := h.GetAll()
	all.AssertContains(t, "LOG", StaleTimer)
	assert.Empty(t, all.Messages())
}

func TestNoRendezvousPoint(t *testing.T) {
	h := &PimHarness{}
	cfg := r1Config()
	cfg.Pim.RpAddress = netip.Addr{}
	state.ExpandLocalConfig(&cfg)
	ps, err := state.NewPimState(&cfg)
	require.NoError(t, err)

	err = HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2})
	assert.ErrorIs(t, err, ErrNoRendezvousPoint)
	err = HandleEvent(ps, h, state.NewSourceDetected{Source: testSource, Group: testGroup, IfId: 2})
	assert.ErrorIs(t, err, ErrNoRendezvousPoint)

	// source trees work without an RP
	require.NoError(t, HandleJoinPrune(ps, h, 3, joinMsg(r1Eth2, testGroup, protocol.SourceOperand(remoteSrc))))
	assert.NotNil(t, ps.Routes.Find(testGroup, remoteSrc))
}

func TestAssertIsIgnored(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	err := HandlePacket(ps, h, &protocol.Packet{
		Src:  r1Upstream,
		IfId: 1,
		Msg:  &protocol.Assert{Group: testGroup, Source: remoteSrc},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, ps.Routes.Len())
	h.GetAll().AssertContains(t, "LOG", MessageIgnored)
}

func TestNativeDataForwarding(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 2}))
	require.NoError(t, HandleEvent(ps, h, state.ReceiverAdded{Group: testGroup, IfId: 3}))
	h.GetActions()

	data, err := protocol.Encapsulate(remoteSrc, testGroup, 10, testPayload)
	require.NoError(t, err)
	require.NoError(t, HandleData(ps, h, 1, data))
	all := h.GetAll()
	all.AssertContains(t, "FORWARD", remoteSrc, testGroup, state.IfId(2), testPayload)
	all.AssertContains(t, "FORWARD", remoteSrc, testGroup, state.IfId(3), testPayload)
	all.AssertContains(t, "LOG", DataDelivered)

	// wrong incoming interface
	require.NoError(t, HandleData(ps, h, 3, data))
	all = h.GetAll()
	all.AssertContains(t, "LOG", RpfCheckFailed)
	assert.Equal(t, 0, all.Count("FORWARD"))

	expired, err := protocol.Encapsulate(remoteSrc, testGroup, 1, testPayload)
	require.NoError(t, err)
	require.NoError(t, HandleData(ps, h, 1, expired))
	assert.Equal(t, 0, h.GetActions().Count("FORWARD"))
}

func TestDataForUnknownSource(t *testing.T) {
	h := &PimHarness{}
	ps := makePimState(t, r1Config())
	err := HandleEvent(ps, h, state.DataReady{Source: testSource, Group: testGroup, Payload: testPayload})
	assert.ErrorIs(t, err, ErrProtocolDesync)
}
