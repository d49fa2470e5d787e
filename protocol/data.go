package protocol

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/encodeous/pimsm/state"
	"golang.org/x/net/ipv4"
)

// Encapsulate wraps payload in an IPv4 header from src to group, the form in
// which a DR carries source data to the RP inside a Register.
func Encapsulate(src, group netip.Addr, ttl int, payload []byte) ([]byte, error) {
	h := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(payload),
		TTL:      ttl,
		Protocol: state.ProtoUDP,
		Src:      net.IP(src.AsSlice()),
		Dst:      net.IP(group.AsSlice()),
	}
	hb, err := h.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encapsulate (%s, %s): %w", src, group, err)
	}
	return append(hb, payload...), nil
}

// Decapsulate parses the inner header of a Register payload
func Decapsulate(b []byte) (src, group netip.Addr, ttl int, payload []byte, err error) {
	h, err := ipv4.ParseHeader(b)
	if err != nil {
		return src, group, 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var ok bool
	if src, ok = netip.AddrFromSlice(h.Src.To4()); !ok {
		return src, group, 0, nil, fmt.Errorf("%w: inner source", ErrMalformed)
	}
	if group, ok = netip.AddrFromSlice(h.Dst.To4()); !ok {
		return src, group, 0, nil, fmt.Errorf("%w: inner destination", ErrMalformed)
	}
	end := len(b)
	if h.TotalLen >= h.Len && h.TotalLen < end {
		end = h.TotalLen
	}
	return src, group, h.TTL, b[h.Len:end], nil
}
