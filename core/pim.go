package core

import (
	"fmt"
	"net/netip"

	"github.com/encodeous/pimsm/perf"
	"github.com/encodeous/pimsm/protocol"
	"github.com/encodeous/pimsm/state"
	"github.com/jellydator/ttlcache/v3"
)

// Transport delivers packets built by the router. Sends are fire-and-forget.
type Transport interface {
	Send(pkt *protocol.Packet) error
}

type stopKey = state.Triple[netip.Addr, netip.Addr, netip.Addr]

// PimRouter is the module that owns the protocol engine and implements Router
type PimRouter struct {
	*state.State
	Transport Transport
	// StopDedup suppresses identical register-stops sent in quick succession
	StopDedup *ttlcache.Cache[stopKey, struct{}]
}

func (r *PimRouter) Init(s *state.State) error {
	s.Log.Debug("init router")
	r.State = s
	ps, err := state.NewPimState(&s.LocalCfg)
	if err != nil {
		return err
	}
	s.PimState = ps
	if r.Transport == nil {
		t, ok := TryGet[*UdpTransport](s)
		if !ok {
			return fmt.Errorf("router requires a transport")
		}
		r.Transport = t
	}
	r.StopDedup = ttlcache.New[stopKey, struct{}](
		ttlcache.WithTTL[stopKey, struct{}](state.RegisterStopDedupTTL),
		ttlcache.WithDisableTouchOnHit[stopKey, struct{}](),
	)

	s.Log.Debug("schedule router tasks")
	s.Env.RepeatTask(gcRouter, state.GcDelay)
	if state.DBG_log_route_table {
		s.Env.RepeatTask(func(s *state.State) error {
			s.Log.Info("multicast routing table\n" + RenderRoutes(s.PimState))
			return nil
		}, state.RouteTableLogDelay)
	}
	return nil
}

func (r *PimRouter) Cleanup(s *state.State) error {
	if s.PimState != nil {
		s.PimState.Routes.Clear()
	}
	if r.StopDedup != nil {
		r.StopDedup.DeleteAll()
	}
	r.State = nil
	return nil
}

func gcRouter(s *state.State) error {
	r := Get[*PimRouter](s)
	r.StopDedup.DeleteExpired()
	perf.MulticastRoutes.Set(float64(s.PimState.Routes.Len()))
	return nil
}

func (r *PimRouter) Log(event PimEvent, desc string, args ...any) {
	msg := fmt.Sprintf("%s %s", event.String(), desc)
	switch {
	case event.IsWarning():
		r.Env.Log.Warn(msg, args...)
	case state.DBG_log_route_events:
		r.Env.Log.Info(msg, args...)
	default:
		r.Env.Log.Debug(msg, args...)
	}
	if trace, ok := TryGet[*PimTrace](r.State); ok {
		trace.Publish(event, desc, args...)
	}
}

func (r *PimRouter) send(pkt *protocol.Packet) {
	kind := "data"
	if pkt.Msg != nil {
		kind = pkt.Msg.Type().String()
	}
	if state.DBG_log_packets {
		r.Env.Log.Debug("send", "packet", pkt)
	}
	if err := r.Transport.Send(pkt); err != nil {
		r.Env.Log.Warn("failed to send packet", "packet", pkt, "error", err)
		return
	}
	perf.MessagesSent.WithLabelValues(kind).Inc()
}

// control builds a PIM message packet that leaves through the interface toward dst
func (r *PimRouter) control(toward, dst netip.Addr, ttl int, msg protocol.Message) (*protocol.Packet, error) {
	itf, err := r.PimState.InterfaceToward(toward)
	if err != nil {
		return nil, err
	}
	return &protocol.Packet{
		Dst:   dst,
		Src:   itf.Addr(),
		Proto: state.ProtoPIM,
		IfId:  itf.Id,
		TTL:   ttl,
		Msg:   msg,
	}, nil
}

func (r *PimRouter) SendJoinPrune(group, target, upstream netip.Addr, op protocol.JoinPruneOp, entry state.EntryKind) {
	operand := protocol.SourceOperand(target)
	if entry == state.EntryG {
		operand = protocol.RPOperand(target)
	}
	ge := protocol.GroupEntry{Group: group}
	if op == protocol.OpJoin {
		ge.Joins = []protocol.EncodedAddress{operand}
	} else {
		ge.Prunes = []protocol.EncodedAddress{operand}
	}
	msg := &protocol.JoinPrune{
		Upstream: upstream,
		HoldTime: r.PimState.Cfg.HoldTime,
		Groups:   []protocol.GroupEntry{ge},
	}
	pkt, err := r.control(target, state.AllPimRouters, 1, msg)
	if err != nil {
		r.Log(NoUpstreamNeighbour, "cannot send join/prune", "op", op, "group", group, "target", target, "error", err)
		return
	}
	r.send(pkt)
}

func (r *PimRouter) sendRegister(msg *protocol.Register) {
	rp := r.PimState.RP()
	if !rp.IsValid() {
		r.Log(InconsistentState, "cannot register without a rendezvous point", "source", msg.Source, "group", msg.Group)
		return
	}
	pkt, err := r.control(rp, rp, state.MaxTTL, msg)
	if err != nil {
		r.Log(InconsistentState, "cannot reach the rendezvous point", "rp", rp, "error", err)
		return
	}
	r.send(pkt)
}

func (r *PimRouter) SendRegister(src, group netip.Addr, payload []byte) {
	inner, err := protocol.Encapsulate(src, group, state.MaxTTL-1, payload)
	if err != nil {
		r.Log(InconsistentState, "cannot encapsulate data", "source", src, "group", group, "error", err)
		return
	}
	r.sendRegister(&protocol.Register{
		Source:  src,
		Group:   group,
		Payload: inner,
	})
}

func (r *PimRouter) SendRegisterNull(src, group netip.Addr) {
	r.sendRegister(&protocol.Register{
		Null:   true,
		Source: src,
		Group:  group,
	})
}

func (r *PimRouter) SendRegisterStop(dr, group, src netip.Addr) {
	key := stopKey{V1: dr, V2: group, V3: src}
	if r.StopDedup.Has(key) {
		return
	}
	r.StopDedup.Set(key, struct{}{}, ttlcache.DefaultTTL)
	pkt, err := r.control(dr, dr, state.MaxTTL, &protocol.RegisterStop{Group: group, Source: src})
	if err != nil {
		r.Log(InconsistentState, "cannot reach the designated router", "dr", dr, "error", err)
		return
	}
	r.send(pkt)
}

func (r *PimRouter) ForwardData(src, group netip.Addr, oif state.IfId, payload []byte) {
	itf := r.PimState.Interface(oif)
	if itf == nil {
		r.Log(InconsistentState, "forward on unknown interface", "if", oif)
		return
	}
	data, err := protocol.Encapsulate(src, group, state.DataTTL, payload)
	if err != nil {
		r.Log(InconsistentState, "cannot encapsulate data", "source", src, "group", group, "error", err)
		return
	}
	r.send(&protocol.Packet{
		Dst:   group,
		Src:   itf.Addr(),
		Proto: state.ProtoUDP,
		IfId:  oif,
		TTL:   state.DataTTL,
		Data:  data,
	})
}

func (r *PimRouter) Schedule(t *state.Timer) {
	tm := r.Env.ScheduleTask(func(s *state.State) error {
		return routerHandleTimer(s, t)
	}, t.Interval)
	t.Bind(tm.Stop)
}

// handled records the outcome of a single event. Errors abort only that event.
func handled(s *state.State, what string, err error) error {
	if err != nil {
		perf.HandlerErrors.Inc()
		s.Log.Warn("event aborted", "event", what, "error", err)
	}
	perf.MulticastRoutes.Set(float64(s.PimState.Routes.Len()))
	return nil
}

func routerHandleTimer(s *state.State, t *state.Timer) error {
	r := Get[*PimRouter](s)
	return handled(s, t.String(), HandleTimer(s.PimState, r, t))
}

func routerHandlePacket(s *state.State, pkt *protocol.Packet) error {
	r := Get[*PimRouter](s)
	kind := "data"
	if pkt.Msg != nil {
		kind = pkt.Msg.Type().String()
	}
	perf.MessagesReceived.WithLabelValues(kind).Inc()
	if state.DBG_log_packets {
		s.Log.Debug("recv", "packet", pkt)
	}
	return handled(s, pkt.String(), HandlePacket(s.PimState, r, pkt))
}

func routerHandleEvent(s *state.State, ev state.Event) error {
	r := Get[*PimRouter](s)
	s.Log.Debug("event", "event", ev)
	return handled(s, ev.String(), HandleEvent(s.PimState, r, ev))
}
