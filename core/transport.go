package core

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/encodeous/pimsm/perf"
	"github.com/encodeous/pimsm/protocol"
	"github.com/encodeous/pimsm/state"
	"golang.org/x/net/ipv4"
)

// UdpTransport carries PIM messages over UDP on the configured port, and
// forwarded multicast data on the port after it.
type UdpTransport struct {
	port    int
	ctrl    *ipv4.PacketConn
	data    *ipv4.PacketConn
	osIf    map[state.IfId]*net.Interface
	ifIndex map[int]state.IfId
	nbrs    map[state.IfId]netip.Addr
}

func (t *UdpTransport) listen(s *state.State, port int) (*ipv4.PacketConn, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(s.Context, "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, err
	}
	conn := ipv4.NewPacketConn(pc)
	if err := conn.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst|ipv4.FlagSrc|ipv4.FlagTTL, true); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.SetMulticastLoopback(false); err != nil {
		s.Log.Debug("cannot disable multicast loopback", "error", err)
	}
	return conn, nil
}

func (t *UdpTransport) Init(s *state.State) error {
	s.Log.Debug("init transport")
	t.port = int(s.LocalCfg.Port)
	t.osIf = make(map[state.IfId]*net.Interface)
	t.ifIndex = make(map[int]state.IfId)
	t.nbrs = make(map[state.IfId]netip.Addr)
	for _, n := range s.LocalCfg.Neighbours {
		if id, ok := s.LocalCfg.InterfaceIdByName(n.Interface); ok {
			t.nbrs[id] = n.Address
		}
	}

	var err error
	if t.ctrl, err = t.listen(s, t.port); err != nil {
		return err
	}
	if t.data, err = t.listen(s, t.port+1); err != nil {
		return err
	}

	group := &net.UDPAddr{IP: net.IP(state.AllPimRouters.AsSlice())}
	for i, itf := range s.LocalCfg.Interfaces {
		if !itf.Pim {
			continue
		}
		id := state.IfId(i + 1)
		ifi, err := net.InterfaceByName(itf.Name)
		if err != nil {
			s.Log.Warn("interface not found, PIM disabled on it", "interface", itf.Name, "error", err)
			continue
		}
		t.osIf[id] = ifi
		t.ifIndex[ifi.Index] = id
		if err := t.ctrl.JoinGroup(ifi, group); err != nil {
			s.Log.Warn("failed to join ALL-PIM-ROUTERS", "interface", itf.Name, "error", err)
		}
	}

	go t.receive(s, t.ctrl, false)
	go t.receive(s, t.data, true)
	return nil
}

func (t *UdpTransport) Cleanup(s *state.State) error {
	var errs []error
	for _, c := range []*ipv4.PacketConn{t.ctrl, t.data} {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func (t *UdpTransport) receive(s *state.State, conn *ipv4.PacketConn, data bool) {
	buf := make([]byte, 65535)
	for {
		n, cm, src, err := conn.ReadFrom(buf)
		if err != nil {
			if s.Context.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.Log.Warn("failed to read packet", "error", err)
			continue
		}
		perf.RecvPacketPerSecond.Add(1)
		perf.RecvBytesPerSecond.Add(float64(n))

		pkt := &protocol.Packet{Proto: state.ProtoPIM}
		if ua, ok := src.(*net.UDPAddr); ok {
			pkt.Src = ua.AddrPort().Addr().Unmap()
		}
		if cm != nil {
			pkt.IfId = t.ifIndex[cm.IfIndex]
			pkt.TTL = cm.TTL
			if dst, ok := netip.AddrFromSlice(cm.Dst.To4()); ok {
				pkt.Dst = dst
			}
		}
		if pkt.IfId == 0 {
			// not received on a PIM interface
			continue
		}
		if data {
			pkt.Proto = state.ProtoUDP
			pkt.Data = slices.Clone(buf[:n])
		} else {
			msg, err := protocol.Unmarshal(buf[:n])
			if err != nil {
				s.Log.Warn("dropped malformed message", "from", pkt.Src, "error", err)
				continue
			}
			pkt.Msg = msg
		}
		s.Dispatch(func(s *state.State) error {
			return routerHandlePacket(s, pkt)
		})
	}
}

// Send writes pkt to the wire. Forwarded data is delivered to the PIM
// neighbour on the egress interface when one is known.
func (t *UdpTransport) Send(pkt *protocol.Packet) error {
	conn, port := t.ctrl, t.port
	var b []byte
	if pkt.Msg == nil {
		conn, port = t.data, t.port+1
		b = pkt.Data
	} else {
		var err error
		if b, err = protocol.Marshal(pkt.Msg); err != nil {
			return err
		}
	}
	ifi, ok := t.osIf[pkt.IfId]
	if !ok {
		return fmt.Errorf("interface %d is not a pim interface", pkt.IfId)
	}
	dst := pkt.Dst
	if pkt.Msg == nil {
		if n, ok := t.nbrs[pkt.IfId]; ok {
			dst = n
		}
	}
	if dst.IsMulticast() {
		if err := conn.SetMulticastInterface(ifi); err != nil {
			return err
		}
		if err := conn.SetMulticastTTL(pkt.TTL); err != nil {
			return err
		}
	} else if err := conn.SetTTL(pkt.TTL); err != nil {
		return err
	}
	cm := &ipv4.ControlMessage{
		Src:     net.IP(pkt.Src.AsSlice()),
		IfIndex: ifi.Index,
	}
	n, err := conn.WriteTo(b, cm, &net.UDPAddr{IP: net.IP(dst.AsSlice()), Port: port})
	if err != nil {
		return err
	}
	perf.SentPacketPerSecond.Add(1)
	perf.SentBytesPerSecond.Add(float64(n))
	return nil
}
