package protocol

import (
	"fmt"
	"net/netip"
	"strings"
)

type MsgType uint8

const (
	TypeRegister     MsgType = 1
	TypeRegisterStop MsgType = 2
	TypeJoinPrune    MsgType = 3
	TypeAssert       MsgType = 5
)

func (t MsgType) String() string {
	switch t {
	case TypeRegister:
		return "register"
	case TypeRegisterStop:
		return "register_stop"
	case TypeJoinPrune:
		return "join_prune"
	case TypeAssert:
		return "assert"
	default:
		return fmt.Sprintf("type_%d", uint8(t))
	}
}

// Message is a PIM control message. The set of messages is closed.
type Message interface {
	Type() MsgType
	isMessage()
}

// EncodedAddress is a join/prune operand.
// (S,W,R) = (1,0,0) names a source, (1,1,1) names the RP of a (*,G) entry.
type EncodedAddress struct {
	Addr netip.Addr
	S    bool // sparse
	W    bool // wildcard
	R    bool // rpt
}

func SourceOperand(src netip.Addr) EncodedAddress {
	return EncodedAddress{Addr: src, S: true}
}

func RPOperand(rp netip.Addr) EncodedAddress {
	return EncodedAddress{Addr: rp, S: true, W: true, R: true}
}

func (e EncodedAddress) IsSG() bool {
	return e.S && !e.W && !e.R
}

func (e EncodedAddress) IsStarG() bool {
	return e.S && e.W && e.R
}

func (e EncodedAddress) flags() uint64 {
	var f uint64
	if e.S {
		f |= 4
	}
	if e.W {
		f |= 2
	}
	if e.R {
		f |= 1
	}
	return f
}

func (e *EncodedAddress) setFlags(f uint64) {
	e.S = f&4 != 0
	e.W = f&2 != 0
	e.R = f&1 != 0
}

func (e EncodedAddress) String() string {
	var sb strings.Builder
	sb.WriteString(e.Addr.String())
	sb.WriteString(" (")
	for _, x := range []struct {
		set  bool
		name string
	}{{e.S, "S"}, {e.W, "W"}, {e.R, "R"}} {
		if x.set {
			sb.WriteString(x.name)
		}
	}
	sb.WriteString(")")
	return sb.String()
}

type GroupEntry struct {
	Group  netip.Addr
	Joins  []EncodedAddress
	Prunes []EncodedAddress
}

type JoinPrune struct {
	Upstream netip.Addr // upstream neighbour the message is addressed to
	HoldTime uint16     // seconds
	Groups   []GroupEntry
}

type Register struct {
	Border  bool
	Null    bool
	Source  netip.Addr // identity of the encapsulated packet
	Group   netip.Addr
	Payload []byte // encapsulated packet, empty for a Register-Null
}

type RegisterStop struct {
	Group  netip.Addr
	Source netip.Addr
}

type Assert struct {
	Group      netip.Addr
	Source     netip.Addr
	Rpt        bool
	Preference uint32
	Metric     uint32
}

func (*JoinPrune) Type() MsgType    { return TypeJoinPrune }
func (*Register) Type() MsgType     { return TypeRegister }
func (*RegisterStop) Type() MsgType { return TypeRegisterStop }
func (*Assert) Type() MsgType       { return TypeAssert }

func (*JoinPrune) isMessage()    {}
func (*Register) isMessage()     {}
func (*RegisterStop) isMessage() {}
func (*Assert) isMessage()       {}

// JoinPruneOp selects whether an outbound join/prune carries its operand as a join or a prune
type JoinPruneOp int

const (
	OpJoin JoinPruneOp = iota
	OpPrune
)

func (o JoinPruneOp) String() string {
	if o == OpJoin {
		return "JOIN"
	}
	return "PRUNE"
}
