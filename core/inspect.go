package core

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/encodeous/pimsm/state"
)

func ifName(ps *state.PimState, id state.IfId) string {
	if itf := ps.Interface(id); itf != nil {
		return itf.Name
	}
	return "Null"
}

// RenderRoutes renders the multicast routing table in the style of "show ip mroute"
func RenderRoutes(ps *state.PimState) string {
	sb := strings.Builder{}
	sb.WriteString("IP Multicast Routing Table\n")
	sb.WriteString("Flags: S - Sparse, C - Connected, P - Pruned, F - Register flag, T - SPT-bit set\n")
	sb.WriteString("Timers: KAT - Keep Alive, RST - Register Stop, ET - Expiry, JT - Join, PPT - Prune Pending\n")
	routes := ps.Routes.All()
	if len(routes) == 0 {
		sb.WriteString("\n(no routes)\n")
		return sb.String()
	}
	for _, route := range routes {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s, flags: %s\n", route.RouteKey, route.Flags))
		if route.RP.IsValid() {
			sb.WriteString(fmt.Sprintf("  RP: %s\n", route.RP))
		}
		rpf := "0.0.0.0"
		if route.Upstream.IsValid() {
			rpf = route.Upstream.String()
		}
		sb.WriteString(fmt.Sprintf("  Incoming interface: %s, RPF nbr: %s\n", ifName(ps, route.InIf), rpf))
		sb.WriteString("  Outgoing interface list:\n")
		if len(route.Outgoing) == 0 {
			sb.WriteString("    Null\n")
		}
		for _, oif := range route.Outgoing {
			line := fmt.Sprintf("    %s, %s/%s", ifName(ps, oif.IfId), oif.Forwarding, oif.Mode)
			if oif.Register != state.RegNoInfo {
				line += ", register: " + oif.Register.String()
			}
			sb.WriteString(line + "\n")
		}
		timers := make([]string, 0)
		for _, t := range route.Timers {
			if t != nil {
				timers = append(timers, fmt.Sprintf("%s %s", t.Kind, t.Remaining().Round(time.Second)))
			}
		}
		if len(timers) != 0 {
			slices.Sort(timers)
			sb.WriteString(fmt.Sprintf("  Timers: %s\n", strings.Join(timers, ", ")))
		}
	}
	return sb.String()
}
