package state

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/gaissmai/bart"
)

var ErrNoRoute = errors.New("no unicast route")

type Interface struct {
	Id     IfId
	Name   string
	Prefix netip.Prefix
	Pim    bool
}

func (i *Interface) Addr() netip.Addr {
	return i.Prefix.Addr()
}

func (i *Interface) String() string {
	return fmt.Sprintf("%s(if%d %s)", i.Name, i.Id, i.Prefix)
}

// RibEntry is a unicast route used for RPF resolution
type RibEntry struct {
	IfId    IfId
	NextHop netip.Addr // invalid when the prefix is directly connected
}

// PimState holds the protocol engine's view of the router. It is read-only
// except for Routes, which is mutated only by the protocol engine.
type PimState struct {
	Id         NodeId
	Cfg        PimCfg
	Interfaces []*Interface
	Neighbours map[IfId]netip.Addr
	Rib        bart.Table[RibEntry]
	Routes     *MulticastTable
}

// NewPimState resolves the configuration into interface, neighbour and
// unicast routing tables. The configuration must already be validated.
func NewPimState(cfg *LocalCfg) (*PimState, error) {
	ps := &PimState{
		Id:         cfg.Id,
		Cfg:        cfg.Pim,
		Neighbours: make(map[IfId]netip.Addr),
		Routes:     NewMulticastTable(),
	}
	for i, itf := range cfg.Interfaces {
		x := &Interface{
			Id:     IfId(i + 1),
			Name:   itf.Name,
			Prefix: itf.Address,
			Pim:    itf.Pim,
		}
		ps.Interfaces = append(ps.Interfaces, x)
		// connected routes
		ps.Rib.Insert(itf.Address.Masked(), RibEntry{IfId: x.Id})
	}
	for _, n := range cfg.Neighbours {
		id, ok := cfg.InterfaceIdByName(n.Interface)
		if !ok {
			return nil, fmt.Errorf("neighbour %s: unknown interface %s", n.Address, n.Interface)
		}
		ps.Neighbours[id] = n.Address
	}
	for _, r := range cfg.Routes {
		id, ok := cfg.InterfaceIdByName(r.Interface)
		if !ok {
			return nil, fmt.Errorf("route %s: unknown interface %s", r.Prefix, r.Interface)
		}
		ps.Rib.Insert(r.Prefix.Masked(), RibEntry{IfId: id, NextHop: r.NextHop})
	}
	return ps, nil
}

func (ps *PimState) Interface(id IfId) *Interface {
	if id <= 0 || int(id) > len(ps.Interfaces) {
		return nil
	}
	return ps.Interfaces[id-1]
}

func (ps *PimState) InterfaceByName(name string) *Interface {
	for _, itf := range ps.Interfaces {
		if itf.Name == name {
			return itf
		}
	}
	return nil
}

// InterfaceToward returns the interface the unicast RIB uses to reach dst
func (ps *PimState) InterfaceToward(dst netip.Addr) (*Interface, error) {
	e, ok := ps.Rib.Lookup(dst)
	if !ok {
		return nil, fmt.Errorf("%w to %s", ErrNoRoute, dst)
	}
	itf := ps.Interface(e.IfId)
	if itf == nil {
		return nil, fmt.Errorf("%w to %s: interface %d missing", ErrNoRoute, dst, e.IfId)
	}
	return itf, nil
}

func (ps *PimState) NeighbourOn(id IfId) (netip.Addr, bool) {
	n, ok := ps.Neighbours[id]
	return n, ok
}

// RpfNeighbour resolves the RPF interface and upstream neighbour toward dst.
// The neighbour is the PIM neighbour on that interface, or the RIB next hop
// if there is none. It is invalid when dst is directly connected and no
// neighbour is known.
func (ps *PimState) RpfNeighbour(dst netip.Addr) (*Interface, netip.Addr, error) {
	e, ok := ps.Rib.Lookup(dst)
	if !ok {
		return nil, netip.Addr{}, fmt.Errorf("%w to %s", ErrNoRoute, dst)
	}
	itf := ps.Interface(e.IfId)
	if itf == nil {
		return nil, netip.Addr{}, fmt.Errorf("%w to %s: interface %d missing", ErrNoRoute, dst, e.IfId)
	}
	if n, ok := ps.Neighbours[itf.Id]; ok {
		return itf, n, nil
	}
	return itf, e.NextHop, nil
}

func (ps *PimState) IsLocalAddr(addr netip.Addr) bool {
	for _, itf := range ps.Interfaces {
		if itf.Addr() == addr {
			return true
		}
	}
	return false
}

// RP returns the configured rendezvous point, invalid if none
func (ps *PimState) RP() netip.Addr {
	return ps.Cfg.RpAddress
}

// IsRP reports whether this router is the rendezvous point
func (ps *PimState) IsRP() bool {
	return ps.Cfg.RpAddress.IsValid() && ps.IsLocalAddr(ps.Cfg.RpAddress)
}

// IsDR reports whether src is on a network directly connected to this router
func (ps *PimState) IsDR(src netip.Addr) bool {
	for _, itf := range ps.Interfaces {
		if itf.Prefix.Contains(src) {
			return true
		}
	}
	return false
}

func (ps *PimState) SptNever() bool {
	return ps.Cfg.SptSwitchDisabled()
}
