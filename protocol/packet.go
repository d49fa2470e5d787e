package protocol

import (
	"fmt"
	"net/netip"

	"github.com/encodeous/pimsm/state"
)

// Packet is a message together with its transport metadata
type Packet struct {
	Dst   netip.Addr
	Src   netip.Addr
	Proto int
	IfId  state.IfId // egress interface when sending, arrival interface when receiving
	TTL   int
	Msg   Message // nil for forwarded multicast data
	Data  []byte  // forwarded multicast data
}

func (p *Packet) String() string {
	kind := "data"
	if p.Msg != nil {
		kind = p.Msg.Type().String()
	}
	return fmt.Sprintf("%s %s -> %s if%d ttl %d", kind, p.Src, p.Dst, p.IfId, p.TTL)
}
