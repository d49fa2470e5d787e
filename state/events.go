package state

import (
	"fmt"
	"net/netip"
)

// Event is a membership or topology notification delivered to the protocol
// engine. The set of events is closed.
type Event interface {
	isEvent()
	fmt.Stringer
}

// ReceiverAdded signals that local receivers joined Group on IfId
type ReceiverAdded struct {
	Group netip.Addr
	IfId  IfId
}

// ReceiverRemoved signals that the last local receiver of Group on IfId left
type ReceiverRemoved struct {
	Group netip.Addr
	IfId  IfId
}

// NewSourceDetected signals a directly connected source sending to Group
type NewSourceDetected struct {
	Source netip.Addr
	Group  netip.Addr
	IfId   IfId
}

// DataReady carries data from a local source that must be registered to the RP
type DataReady struct {
	Source  netip.Addr
	Group   netip.Addr
	Payload []byte
}

func (ReceiverAdded) isEvent()     {}
func (ReceiverRemoved) isEvent()   {}
func (NewSourceDetected) isEvent() {}
func (DataReady) isEvent()         {}

func (e ReceiverAdded) String() string {
	return fmt.Sprintf("receiver-added %s if%d", e.Group, e.IfId)
}

func (e ReceiverRemoved) String() string {
	return fmt.Sprintf("receiver-removed %s if%d", e.Group, e.IfId)
}

func (e NewSourceDetected) String() string {
	return fmt.Sprintf("new-source (%s, %s) if%d", e.Source, e.Group, e.IfId)
}

func (e DataReady) String() string {
	return fmt.Sprintf("data-ready (%s, %s) %d bytes", e.Source, e.Group, len(e.Payload))
}
