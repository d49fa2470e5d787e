package state

import (
	"cmp"
	"errors"
	"fmt"
	"net/netip"
	"slices"
)

var ErrRouteExists = errors.New("multicast route already exists")

// MulticastTable owns every multicast route known to the router
type MulticastTable struct {
	routes map[netip.Addr]map[netip.Addr]*MulticastRoute // group -> source -> route
	count  int
}

func NewMulticastTable() *MulticastTable {
	return &MulticastTable{
		routes: make(map[netip.Addr]map[netip.Addr]*MulticastRoute),
	}
}

func normSource(src netip.Addr) netip.Addr {
	if !src.IsValid() {
		return Wildcard
	}
	return src
}

func (t *MulticastTable) Find(group, source netip.Addr) *MulticastRoute {
	g, ok := t.routes[group]
	if !ok {
		return nil
	}
	return g[normSource(source)]
}

func (t *MulticastTable) FindKey(key RouteKey) *MulticastRoute {
	return t.Find(key.Group, key.Source)
}

// FindGroup returns every route of group, the (*,G) entry first and the (S,G)
// entries ordered by source.
func (t *MulticastTable) FindGroup(group netip.Addr) []*MulticastRoute {
	g, ok := t.routes[group]
	if !ok {
		return nil
	}
	out := make([]*MulticastRoute, 0, len(g))
	for _, r := range g {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *MulticastRoute) int {
		return a.Source.Compare(b.Source)
	})
	return out
}

func (t *MulticastTable) Insert(r *MulticastRoute) error {
	r.Source = normSource(r.Source)
	g, ok := t.routes[r.Group]
	if !ok {
		g = make(map[netip.Addr]*MulticastRoute)
		t.routes[r.Group] = g
	}
	if _, ok := g[r.Source]; ok {
		return fmt.Errorf("%w: %s", ErrRouteExists, r.RouteKey)
	}
	g[r.Source] = r
	t.count++
	return nil
}

// Delete removes the route and cancels all of its outstanding timers
func (t *MulticastTable) Delete(r *MulticastRoute) bool {
	g, ok := t.routes[r.Group]
	if !ok {
		return false
	}
	cur, ok := g[r.Source]
	if !ok || cur != r {
		return false
	}
	r.StopTimers()
	delete(g, r.Source)
	if len(g) == 0 {
		delete(t.routes, r.Group)
	}
	t.count--
	return true
}

func (t *MulticastTable) Len() int {
	return t.count
}

// All returns every route ordered by group, then source
func (t *MulticastTable) All() []*MulticastRoute {
	out := make([]*MulticastRoute, 0, t.count)
	for _, g := range t.routes {
		for _, r := range g {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *MulticastRoute) int {
		return cmp.Or(a.Group.Compare(b.Group), a.Source.Compare(b.Source))
	})
	return out
}

// Clear deletes every route
func (t *MulticastTable) Clear() {
	for _, r := range t.All() {
		t.Delete(r)
	}
}
