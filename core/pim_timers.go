package core

import (
	"net/netip"
	"time"

	"github.com/encodeous/pimsm/protocol"
	"github.com/encodeous/pimsm/state"
)

// armTimer installs t on route, replacing any running instance of the same kind, and schedules it
func armTimer(r Router, route *state.MulticastRoute, t *state.Timer) {
	route.SetTimer(t)
	r.Schedule(t)
}

func keepAliveTimer(route *state.MulticastRoute) *state.Timer {
	interval := state.KeepAliveTime
	if route.IsWildcard() {
		interval *= 2
	}
	return state.NewTimer(state.KeepAliveTimer, route.RouteKey, interval)
}

func registerStopTimer(route *state.MulticastRoute, interval time.Duration) *state.Timer {
	return state.NewTimer(state.RegisterStopTimer, route.RouteKey, interval)
}

func expiryTimer(route *state.MulticastRoute, ifId state.IfId, hold time.Duration) *state.Timer {
	t := state.NewTimer(state.ExpiryTimer, route.RouteKey, hold)
	t.IfId = ifId
	return t
}

func joinTimer(route *state.MulticastRoute, target, upstream netip.Addr) *state.Timer {
	t := state.NewTimer(state.JoinTimer, route.RouteKey, state.JoinPrunePeriod)
	t.Target = target
	t.Upstream = upstream
	return t
}

func prunePendingTimer(route *state.MulticastRoute, target, upstream netip.Addr) *state.Timer {
	t := state.NewTimer(state.PrunePendingTimer, route.RouteKey, state.PrunePendingTime)
	t.Target = target
	t.Upstream = upstream
	return t
}

// HandleTimer processes the firing of t. Firings of timers that were
// replaced or whose route is gone are dropped.
func HandleTimer(ps *state.PimState, r Router, t *state.Timer) error {
	route := ps.Routes.FindKey(t.Key)
	if route == nil || !route.OwnsTimer(t) {
		r.Log(StaleTimer, "stale timer firing dropped", "timer", t)
		return nil
	}
	r.Log(TimerFired, "timer fired", "timer", t)
	switch t.Kind {
	case state.KeepAliveTimer:
		ps.Routes.Delete(route)
		r.Log(RouteDeleted, "keep-alive expired", "route", route.RouteKey)
	case state.ExpiryTimer:
		route.ClearTimer(state.ExpiryTimer)
		if route.IsWildcard() {
			ps.Routes.Delete(route)
			r.Log(RouteDeleted, "expiry timer expired", "route", route.RouteKey)
			return nil
		}
		if route.LeaveOutgoing(t.IfId) {
			r.Log(OifRemoved, "outgoing interface expired", "route", route.RouteKey, "if", t.IfId)
			if route.IsOilistNull() {
				handleNullOil(ps, r, route)
			}
		}
	case state.JoinTimer:
		if !(route.IsWildcard() && ps.IsRP()) {
			r.SendJoinPrune(t.Key.Group, t.Target, t.Upstream, protocol.OpJoin, t.Entry)
		}
		armTimer(r, route, joinTimer(route, t.Target, t.Upstream))
	case state.PrunePendingTimer:
		route.ClearTimer(state.PrunePendingTimer)
		if !ps.IsRP() {
			r.SendJoinPrune(t.Key.Group, t.Target, t.Upstream, protocol.OpPrune, t.Entry)
		}
	case state.RegisterStopTimer:
		return registerStopExpired(ps, r, route)
	}
	return nil
}

// registerStopExpired runs the register probe cycle of the source's DR
func registerStopExpired(ps *state.PimState, r Router, route *state.MulticastRoute) error {
	route.ClearTimer(state.RegisterStopTimer)
	itf, err := ps.InterfaceToward(route.RP)
	if err != nil {
		return err
	}
	if route.GetOutgoing(itf.Id) == nil {
		r.Log(InconsistentState, "no register tunnel toward the RP", "route", route.RouteKey)
		return nil
	}
	switch route.RegisterState(itf.Id) {
	case state.RegJoinPending:
		// no register-stop arrived during the probe, resume registering
		setTunnelState(r, route, itf.Id, state.RegJoin)
	default:
		r.SendRegisterNull(route.Source, route.Group)
		setTunnelState(r, route, itf.Id, state.RegJoinPending)
		armTimer(r, route, registerStopTimer(route, state.RegisterProbeTime))
	}
	return nil
}
