package core

// This file makes references to RFC 7761:
// https://datatracker.ietf.org/doc/html/rfc7761

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/encodeous/pimsm/protocol"
	"github.com/encodeous/pimsm/state"
	"github.com/hashicorp/go-multierror"
)

type PimEvent int

// trace events

const (
	RouteAdded PimEvent = iota
	RouteDeleted
	OifAdded
	OifRemoved
	RoutePruned
	RouteGrafted
	TunnelStateChanged
	PruneOverride
	TimerFired
	DataDelivered
	MessageIgnored
)

// warn events

const (
	InconsistentState PimEvent = iota + 1000
	NoUpstreamNeighbour
	StaleTimer
	RpfCheckFailed
)

func (e PimEvent) String() string {
	switch e {
	case RouteAdded:
		return "ROUTE_ADDED"
	case RouteDeleted:
		return "ROUTE_DELETED"
	case OifAdded:
		return "OIF_ADDED"
	case OifRemoved:
		return "OIF_REMOVED"
	case RoutePruned:
		return "ROUTE_PRUNED"
	case RouteGrafted:
		return "ROUTE_GRAFTED"
	case TunnelStateChanged:
		return "TUNNEL_STATE"
	case PruneOverride:
		return "PRUNE_OVERRIDE"
	case TimerFired:
		return "TIMER_FIRED"
	case DataDelivered:
		return "DATA_DELIVERED"
	case MessageIgnored:
		return "MESSAGE_IGNORED"
	case InconsistentState:
		return "INCONSISTENT_STATE"
	case NoUpstreamNeighbour:
		return "NO_UPSTREAM_NEIGHBOUR"
	case StaleTimer:
		return "STALE_TIMER"
	case RpfCheckFailed:
		return "RPF_CHECK_FAILED"
	default:
		return fmt.Sprintf("PimEvent(%d)", int(e))
	}
}

func (e PimEvent) IsWarning() bool {
	return e >= InconsistentState
}

// Router is an interface that defines the outbound operations of the protocol engine
type Router interface {
	SendJoinPrune(group, target, upstream netip.Addr, op protocol.JoinPruneOp, entry state.EntryKind)
	SendRegister(src, group netip.Addr, payload []byte)
	SendRegisterNull(src, group netip.Addr)
	SendRegisterStop(dr, group, src netip.Addr)
	ForwardData(src, group netip.Addr, oif state.IfId, payload []byte)
	// Schedule arms t so that it fires after t.Interval, and binds its cancellation
	Schedule(t *state.Timer)
	Log(event PimEvent, desc string, args ...any)
}

// HandlePacket processes a single inbound message or data packet
func HandlePacket(ps *state.PimState, r Router, pkt *protocol.Packet) error {
	switch m := pkt.Msg.(type) {
	case *protocol.JoinPrune:
		return HandleJoinPrune(ps, r, pkt.IfId, m)
	case *protocol.Register:
		return HandleRegister(ps, r, pkt.Src, m)
	case *protocol.RegisterStop:
		return HandleRegisterStop(ps, r, m)
	case *protocol.Assert:
		r.Log(MessageIgnored, "assert is not supported", "group", m.Group, "source", m.Source, "from", pkt.Src)
		return nil
	case nil:
		return HandleData(ps, r, pkt.IfId, pkt.Data)
	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownMessage, pkt.Msg)
	}
}

func holdDuration(ps *state.PimState, hold uint16) time.Duration {
	if hold == 0 {
		return ps.Cfg.HoldDuration()
	}
	return time.Duration(hold) * time.Second
}

// HandleJoinPrune processes every group entry of a Join/Prune received on ifId
func HandleJoinPrune(ps *state.PimState, r Router, ifId state.IfId, jp *protocol.JoinPrune) error {
	if jp.Upstream.IsValid() && !ps.IsLocalAddr(jp.Upstream) {
		r.Log(MessageIgnored, "join/prune for another upstream neighbour", "upstream", jp.Upstream)
		return nil
	}
	hold := holdDuration(ps, jp.HoldTime)
	var errs error
	for _, g := range jp.Groups {
		if len(g.Joins) != 0 {
			// a join from a downstream router overrides a pending prune
			if route := ps.Routes.Find(g.Group, state.Wildcard); route != nil && route.Timer(state.PrunePendingTimer) != nil {
				route.ClearTimer(state.PrunePendingTimer)
				r.Log(PruneOverride, "prune overridden", "route", route.RouteKey)
			}
		}
		for _, op := range g.Joins {
			var err error
			switch {
			case op.IsSG():
				err = processSGJoin(ps, r, ifId, g.Group, op.Addr, hold)
			case op.IsStarG():
				err = processStarGJoin(ps, r, ifId, g.Group, hold, false)
			default:
				r.Log(MessageIgnored, "unsupported join operand", "group", g.Group, "operand", op)
			}
			if err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		for range g.Prunes {
			processPrune(ps, r, ifId, g.Group)
		}
	}
	return errs
}

// setForwarding makes ifId a Forward outgoing interface of route.
// Returns true if the interface was not forwarding before.
func setForwarding(r Router, route *state.MulticastRoute, ifId state.IfId) bool {
	if oif := route.GetOutgoing(ifId); oif != nil {
		if oif.Forwarding == state.Forward {
			return false
		}
		oif.Forwarding = state.Forward
	} else {
		route.AddOutgoing(state.OutgoingInterface{
			IfId:       ifId,
			Forwarding: state.Forward,
			Mode:       state.Sparse,
		})
	}
	r.Log(OifAdded, "outgoing interface added", "route", route.RouteKey, "if", ifId)
	return true
}

func insertRoute(ps *state.PimState, r Router, route *state.MulticastRoute) error {
	if err := ps.Routes.Insert(route); err != nil {
		return err
	}
	r.Log(RouteAdded, "route added", "route", route)
	return nil
}

// processSGJoin handles an (S,G) join operand received on ifId
func processSGJoin(ps *state.PimState, r Router, ifId state.IfId, group, src netip.Addr, hold time.Duration) error {
	rp := ps.RP()
	dr := ps.IsDR(src)
	route := ps.Routes.Find(group, src)
	if route == nil {
		route = state.NewRoute(state.SG(src, group), rp)
		itf, upstream, err := ps.RpfNeighbour(src)
		if err != nil {
			return fmt.Errorf("(S,G) join for %s: %w", route.RouteKey, err)
		}
		route.InIf = itf.Id
		route.Upstream = upstream
		route.AddOutgoing(state.OutgoingInterface{
			IfId:       ifId,
			Forwarding: state.Forward,
			Mode:       state.Sparse,
		})
		if err := insertRoute(ps, r, route); err != nil {
			return err
		}
		if !dr {
			armTimer(r, route, joinTimer(route, src, upstream))
			r.SendJoinPrune(group, src, upstream, protocol.OpJoin, state.EntrySG)
		}
	} else if dr {
		route.Clear(state.FlagPruned)
		route.SetAllForward()
		r.Log(RouteGrafted, "source tree joined at the DR", "route", route.RouteKey)
	} else {
		setForwarding(r, route, ifId)
		route.Clear(state.FlagPruned)
	}
	armTimer(r, route, expiryTimer(route, ifId, hold))

	if !dr && ps.Routes.Find(group, state.Wildcard) == nil {
		// shared tree placeholder, so that data can later be matched against it
		g := state.NewRoute(state.StarG(group), rp)
		g.Set(state.FlagSptPending | state.FlagPruned)
		if rp.IsValid() && !ps.IsRP() {
			if itf, upstream, err := ps.RpfNeighbour(rp); err == nil {
				g.InIf = itf.Id
				g.Upstream = upstream
			}
		}
		if err := insertRoute(ps, r, g); err != nil {
			return err
		}
		armTimer(r, g, expiryTimer(g, 0, hold))
	}
	return nil
}

// processStarGJoin handles a (*,G) join received on ifId, or a local receiver joining on ifId
func processStarGJoin(ps *state.PimState, r Router, ifId state.IfId, group netip.Addr, hold time.Duration, local bool) error {
	rp := ps.RP()
	if !rp.IsValid() {
		return fmt.Errorf("(*,G) join for %s: %w", group, ErrNoRendezvousPoint)
	}
	isRP := ps.IsRP()
	route := ps.Routes.Find(group, state.Wildcard)
	if route == nil {
		route = state.NewRoute(state.StarG(group), rp)
		if !isRP {
			itf, upstream, err := ps.RpfNeighbour(rp)
			if err != nil {
				return fmt.Errorf("(*,G) join for %s: %w", route.RouteKey, err)
			}
			route.InIf = itf.Id
			route.Upstream = upstream
		}
		route.AddOutgoing(state.OutgoingInterface{
			IfId:       ifId,
			Forwarding: state.Forward,
			Mode:       state.Sparse,
		})
		if local {
			route.Set(state.FlagSptPending | state.FlagConnected)
		}
		if err := insertRoute(ps, r, route); err != nil {
			return err
		}
		armTimer(r, route, expiryTimer(route, ifId, hold))
		armTimer(r, route, joinTimer(route, rp, route.Upstream))
		if !isRP {
			r.SendJoinPrune(group, rp, route.Upstream, protocol.OpJoin, state.EntryG)
		}
		return nil
	}

	if isRP {
		for _, rt := range ps.Routes.FindGroup(group) {
			if rt.IsWildcard() {
				continue
			}
			rt.Clear(state.FlagPruned)
			rt.Set(state.FlagSptBuilt)
			armTimer(r, rt, joinTimer(rt, rt.Source, rt.Upstream))
			wasNull := rt.IsOilistNull()
			if setForwarding(r, rt, ifId) && wasNull && !ps.IsDR(rt.Source) {
				r.SendJoinPrune(group, rt.Source, rt.Upstream, protocol.OpJoin, state.EntrySG)
			}
		}
		route.Clear(state.FlagPruned | state.FlagRegister)
		for i := range route.Outgoing {
			route.Outgoing[i].Assert = state.AssertNoInfo
		}
		setForwarding(r, route, ifId)
	} else if setForwarding(r, route, ifId) && route.Has(state.FlagPruned) {
		// re-graft onto the shared tree
		route.Clear(state.FlagPruned)
		r.Log(RouteGrafted, "shared tree re-joined", "route", route.RouteKey)
		armTimer(r, route, joinTimer(route, rp, route.Upstream))
		r.SendJoinPrune(group, rp, route.Upstream, protocol.OpJoin, state.EntryG)
	}
	if local {
		route.Set(state.FlagConnected)
	}
	armTimer(r, route, expiryTimer(route, ifId, hold))
	return nil
}

// processPrune removes ifId from every route of group
func processPrune(ps *state.PimState, r Router, ifId state.IfId, group netip.Addr) {
	for _, route := range ps.Routes.FindGroup(group) {
		if !route.LeaveOutgoing(ifId) {
			continue
		}
		r.Log(OifRemoved, "outgoing interface removed", "route", route.RouteKey, "if", ifId)
		if route.IsOilistNull() {
			handleNullOil(ps, r, route)
		}
	}
}

// handleNullOil prunes route upstream after its last forwarding interface went away
func handleNullOil(ps *state.PimState, r Router, route *state.MulticastRoute) {
	route.Clear(state.FlagConnected)
	route.Set(state.FlagPruned)
	r.Log(RoutePruned, "outgoing interface list is null", "route", route.RouteKey)
	if ps.IsRP() {
		return
	}
	route.ClearTimer(state.JoinTimer)
	if !route.IsWildcard() && ps.IsDR(route.Source) {
		// the source is directly connected, nothing to prune toward
		return
	}
	if !route.Upstream.IsValid() {
		r.Log(NoUpstreamNeighbour, "no upstream neighbour to prune toward", "route", route.RouteKey)
		return
	}
	if route.Timer(state.PrunePendingTimer) == nil {
		armTimer(r, route, prunePendingTimer(route, joinTarget(route), route.Upstream))
	}
}

// joinTarget is the address a route's joins and prunes are sent toward
func joinTarget(route *state.MulticastRoute) netip.Addr {
	if route.IsWildcard() {
		return route.RP
	}
	return route.Source
}

// HandleRegister processes a Register from the DR at drAddr
func HandleRegister(ps *state.PimState, r Router, drAddr netip.Addr, reg *protocol.Register) error {
	if !ps.IsRP() {
		return fmt.Errorf("register (%s, %s) from %s: %w", reg.Source, reg.Group, drAddr, ErrNotRendezvousPoint)
	}
	rp := ps.RP()
	g := ps.Routes.Find(reg.Group, state.Wildcard)
	sg := ps.Routes.Find(reg.Group, reg.Source)
	stopSent := false

	if !reg.Null {
		if g == nil {
			g = state.NewRoute(state.StarG(reg.Group), rp)
			g.Set(state.FlagPruned)
			if err := insertRoute(ps, r, g); err != nil {
				return err
			}
		}
		if sg == nil {
			sg = state.NewRoute(state.SG(reg.Source, reg.Group), rp)
			if itf, upstream, err := ps.RpfNeighbour(reg.Source); err == nil {
				sg.InIf = itf.Id
				sg.Upstream = upstream
			}
			sg.Set(state.FlagPruned)
			if err := insertRoute(ps, r, sg); err != nil {
				return err
			}
		}
		if !g.IsOilistNull() {
			if !sg.Has(state.FlagSptBuilt) {
				src, group, _, payload, err := protocol.Decapsulate(reg.Payload)
				if err != nil {
					return fmt.Errorf("register from %s: %w", drAddr, err)
				}
				if src != reg.Source || group != reg.Group {
					return fmt.Errorf("%w: register for (%s, %s) encapsulates (%s, %s)", protocol.ErrMalformed, reg.Source, reg.Group, src, group)
				}
				for _, oif := range g.ForwardingInterfaces() {
					r.ForwardData(src, group, oif, payload)
				}
			}
			if !ps.SptNever() {
				// switch to the source tree
				sg.Clear(state.FlagPruned)
				for _, oif := range g.ForwardingInterfaces() {
					setForwarding(r, sg, oif)
				}
				armTimer(r, sg, joinTimer(sg, reg.Source, sg.Upstream))
				r.SendJoinPrune(reg.Group, reg.Source, sg.Upstream, protocol.OpJoin, state.EntrySG)
				r.SendRegisterStop(drAddr, reg.Group, reg.Source)
				stopSent = true
			}
		}
	}

	for _, route := range []*state.MulticastRoute{g, sg} {
		if route != nil {
			armTimer(r, route, keepAliveTimer(route))
		}
	}
	pruned := g != nil && sg != nil && g.Has(state.FlagPruned) && sg.Has(state.FlagPruned)
	if !stopSent && (reg.Null || pruned) {
		r.SendRegisterStop(drAddr, reg.Group, reg.Source)
	}
	return nil
}

// HandleRegisterStop processes a Register-Stop at the source's DR
func HandleRegisterStop(ps *state.PimState, r Router, rs *protocol.RegisterStop) error {
	sg := ps.Routes.Find(rs.Group, rs.Source)
	if sg == nil {
		return fmt.Errorf("%w: register-stop for unknown route %s", ErrProtocolDesync, state.SG(rs.Source, rs.Group))
	}
	armTimer(r, sg, registerStopTimer(sg, state.RegisterSuppressionTime-state.RegisterProbeTime))
	itf, err := ps.InterfaceToward(sg.RP)
	if err != nil {
		return fmt.Errorf("register-stop for %s: %w", sg.RouteKey, err)
	}
	switch sg.RegisterState(itf.Id) {
	case state.RegJoin, state.RegJoinPending:
		setTunnelState(r, sg, itf.Id, state.RegPrune)
	}
	return nil
}

func setTunnelState(r Router, route *state.MulticastRoute, ifId state.IfId, rs state.RegisterState) {
	if err := route.SetRegisterState(ifId, rs); err != nil {
		r.Log(InconsistentState, "cannot update register state", "route", route.RouteKey, "error", err)
		return
	}
	r.Log(TunnelStateChanged, "register tunnel state changed", "route", route.RouteKey, "state", rs)
}

// HandleData forwards a natively received multicast data packet
func HandleData(ps *state.PimState, r Router, ifId state.IfId, data []byte) error {
	src, group, ttl, payload, err := protocol.Decapsulate(data)
	if err != nil {
		return err
	}
	if ttl <= 1 {
		r.Log(MessageIgnored, "data ttl expired", "source", src, "group", group)
		return nil
	}
	route := ps.Routes.Find(group, src)
	if route != nil {
		armTimer(r, route, keepAliveTimer(route))
	}
	if route == nil || route.IsOilistNull() {
		route = ps.Routes.Find(group, state.Wildcard)
	}
	if route == nil {
		r.Log(MessageIgnored, "no multicast route for data", "source", src, "group", group)
		return nil
	}
	if route.InIf != 0 && route.InIf != ifId {
		r.Log(RpfCheckFailed, "data arrived on non-rpf interface", "route", route.RouteKey, "if", ifId, "rpf", route.InIf)
		return nil
	}
	if route.Has(state.FlagConnected) {
		r.Log(DataDelivered, "data delivered to local receivers", "route", route.RouteKey, "len", len(payload))
	}
	for _, oif := range route.ForwardingInterfaces() {
		if oif != ifId {
			r.ForwardData(src, group, oif, payload)
		}
	}
	return nil
}
