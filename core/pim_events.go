package core

import (
	"fmt"

	"github.com/encodeous/pimsm/state"
)

// HandleEvent applies a membership or topology notification to the route table
func HandleEvent(ps *state.PimState, r Router, ev state.Event) error {
	switch e := ev.(type) {
	case state.ReceiverAdded:
		return processStarGJoin(ps, r, e.IfId, e.Group, ps.Cfg.HoldDuration(), true)
	case state.ReceiverRemoved:
		processPrune(ps, r, e.IfId, e.Group)
		return nil
	case state.NewSourceDetected:
		return newSource(ps, r, e)
	case state.DataReady:
		return dataReady(ps, r, e)
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}

// newSource sets up register state at the DR of a directly connected source
func newSource(ps *state.PimState, r Router, e state.NewSourceDetected) error {
	rp := ps.RP()
	if !rp.IsValid() {
		return fmt.Errorf("new source (%s, %s): %w", e.Source, e.Group, ErrNoRendezvousPoint)
	}
	rpIf, err := ps.InterfaceToward(rp)
	if err != nil {
		return fmt.Errorf("new source (%s, %s): %w", e.Source, e.Group, err)
	}

	g := ps.Routes.Find(e.Group, state.Wildcard)
	if g == nil {
		g = state.NewRoute(state.StarG(e.Group), rp)
		g.Set(state.FlagSptPending | state.FlagPruned | state.FlagRegister)
		if !ps.IsRP() {
			if itf, upstream, err := ps.RpfNeighbour(rp); err == nil {
				g.InIf = itf.Id
				g.Upstream = upstream
			}
		}
		if err := insertRoute(ps, r, g); err != nil {
			return err
		}
		armTimer(r, g, keepAliveTimer(g))
	}

	sg := ps.Routes.Find(e.Group, e.Source)
	if sg == nil {
		sg = state.NewRoute(state.SG(e.Source, e.Group), rp)
		sg.InIf = e.IfId
		sg.Set(state.FlagPruned | state.FlagRegister | state.FlagSptBuilt)
		// the register tunnel is open, forwarding waits for a join from the RP
		sg.AddOutgoing(state.OutgoingInterface{
			IfId:       rpIf.Id,
			Forwarding: state.Pruned,
			Mode:       state.Sparse,
			Register:   state.RegJoin,
		})
		if err := insertRoute(ps, r, sg); err != nil {
			return err
		}
	}
	armTimer(r, sg, keepAliveTimer(sg))
	return nil
}

// dataReady registers data from a local source to the RP and forwards it on the source tree
func dataReady(ps *state.PimState, r Router, e state.DataReady) error {
	sg := ps.Routes.Find(e.Group, e.Source)
	if sg == nil {
		return fmt.Errorf("%w: data from unknown source %s", ErrProtocolDesync, state.SG(e.Source, e.Group))
	}
	armTimer(r, sg, keepAliveTimer(sg))
	if g := ps.Routes.Find(e.Group, state.Wildcard); g != nil && g.Timer(state.KeepAliveTimer) != nil {
		armTimer(r, g, keepAliveTimer(g))
	}
	rpIf, err := ps.InterfaceToward(sg.RP)
	if err != nil {
		return fmt.Errorf("data from %s: %w", sg.RouteKey, err)
	}
	if sg.RegisterState(rpIf.Id) == state.RegJoin {
		r.SendRegister(e.Source, e.Group, e.Payload)
	}
	for _, oif := range sg.ForwardingInterfaces() {
		r.ForwardData(e.Source, e.Group, oif, e.Payload)
	}
	return nil
}
