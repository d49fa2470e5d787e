package state

import (
	"net/netip"
	"time"
)

const (
	// ProtoPIM is the IP protocol number carried in the transport metadata of every PIM message.
	ProtoPIM = 103
	ProtoUDP = 17
	MaxTTL   = 255
	// DataTTL is the TTL of decapsulated data, one hop each for the source DR and the RP.
	DataTTL = MaxTTL - 2
)

var (
	AllPimRouters = netip.MustParseAddr("224.0.0.13")
	// Wildcard is the source address of a (*,G) entry.
	Wildcard = netip.IPv4Unspecified()
)

var (
	KeepAliveTime           = time.Second * 210
	RegisterSuppressionTime = time.Second * 60
	RegisterProbeTime       = time.Second * 5
	JoinPrunePeriod         = time.Second * 60
	PrunePendingTime        = time.Second * 3
	DefaultHoldTime         = uint16(210)

	RegisterStopDedupTTL = time.Second * 1
	GcDelay              = time.Second * 5

	// DispatchWarnThreshold is the dispatch duration above which the main loop complains
	DispatchWarnThreshold = time.Millisecond * 4
	RouteTableLogDelay    = time.Second * 10

	// defaults
	DefaultPort      = 7103
	DefaultCtlSocket = "/var/run/pimsm.sock"
	SafeMTU          = 1400
)
