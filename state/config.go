package state

import (
	"net/netip"
	"strings"
	"time"
)

type NodeId string

// IfId identifies an interface within this router. Ids are assigned from the
// order of the interfaces in LocalCfg, starting at 1.
type IfId int

type InterfaceCfg struct {
	Name    string       // OS interface name
	Address netip.Prefix // interface address and mask, e.g. 10.0.1.1/24
	Pim     bool         `yaml:"pim"` // whether PIM-SM runs on this interface
}

type NeighbourCfg struct {
	Interface string
	Address   netip.Addr
}

type StaticRouteCfg struct {
	Prefix    netip.Prefix
	Interface string
	NextHop   netip.Addr `yaml:"next_hop"` // zero for directly connected prefixes
}

type PimCfg struct {
	RpAddress    netip.Addr `yaml:"rp_address"`
	SptThreshold string     `yaml:"spt_threshold,omitempty"` // "0" switches on the first packet, "infinity" never switches
	HoldTime     uint16     `yaml:"hold_time,omitempty"`     // seconds
}

// LocalCfg represents local router-level configuration
type LocalCfg struct {
	Id         NodeId
	Port       uint16           `yaml:",omitempty"`           // PIM control port, data uses Port+1
	LogPath    string           `yaml:"log_path,omitempty"`   // if not empty, pimsm will write to this file
	CtlSocket  string           `yaml:"ctl_socket,omitempty"` // unix socket for the control interface
	Pim        PimCfg           `yaml:"pim"`                  // global protocol parameters
	Interfaces []InterfaceCfg   `yaml:"interfaces"`           // local interfaces, in IfId order
	Neighbours []NeighbourCfg   `yaml:"neighbours,omitempty"` // established PIM neighbours
	Routes     []StaticRouteCfg `yaml:"routes,omitempty"`     // unicast routes used for RPF
}

func (p PimCfg) SptSwitchDisabled() bool {
	return strings.EqualFold(strings.TrimSpace(p.SptThreshold), "infinity")
}

func (p PimCfg) HoldDuration() time.Duration {
	if p.HoldTime == 0 {
		return time.Duration(DefaultHoldTime) * time.Second
	}
	return time.Duration(p.HoldTime) * time.Second
}

func (c *LocalCfg) InterfaceIdByName(name string) (IfId, bool) {
	for i, itf := range c.Interfaces {
		if itf.Name == name {
			return IfId(i + 1), true
		}
	}
	return 0, false
}

// ExpandLocalConfig fills in defaults
func ExpandLocalConfig(c *LocalCfg) {
	if c.Port == 0 {
		c.Port = uint16(DefaultPort)
	}
	if c.CtlSocket == "" {
		c.CtlSocket = DefaultCtlSocket
	}
	if c.Pim.HoldTime == 0 {
		c.Pim.HoldTime = DefaultHoldTime
	}
}

func SampleConfig() LocalCfg {
	return LocalCfg{
		Id:   "r1",
		Port: uint16(DefaultPort),
		Pim: PimCfg{
			RpAddress: netip.MustParseAddr("10.0.0.1"),
			HoldTime:  DefaultHoldTime,
		},
		Interfaces: []InterfaceCfg{
			{Name: "eth0", Address: netip.MustParsePrefix("10.0.1.1/24"), Pim: true},
			{Name: "eth1", Address: netip.MustParsePrefix("192.168.10.1/24"), Pim: true},
		},
		Neighbours: []NeighbourCfg{
			{Interface: "eth0", Address: netip.MustParseAddr("10.0.1.2")},
		},
		Routes: []StaticRouteCfg{
			{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Interface: "eth0", NextHop: netip.MustParseAddr("10.0.1.2")},
		},
	}
}
