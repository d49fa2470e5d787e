package protocol

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrUnknownMessage = errors.New("unknown pim message type")
	ErrMalformed      = errors.New("malformed pim message")
)

// envelope
const (
	fieldType protowire.Number = 1
	fieldBody protowire.Number = 2
)

// Marshal encodes msg as a protobuf-compatible envelope of its type and body
func Marshal(msg Message) ([]byte, error) {
	var body []byte
	var err error
	switch m := msg.(type) {
	case *JoinPrune:
		body, err = marshalJoinPrune(m)
	case *Register:
		body, err = marshalRegister(m)
	case *RegisterStop:
		body, err = marshalRegisterStop(m)
	case *Assert:
		body, err = marshalAssert(m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	if err != nil {
		return nil, err
	}
	b := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type()))
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b, nil
}

func Unmarshal(b []byte) (Message, error) {
	var typ MsgType
	var body []byte
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case fieldType:
			if v > math.MaxUint8 {
				return fmt.Errorf("%w: type %d", ErrUnknownMessage, v)
			}
			typ = MsgType(v)
		case fieldBody:
			body = raw
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeJoinPrune:
		return unmarshalJoinPrune(body)
	case TypeRegister:
		return unmarshalRegister(body)
	case TypeRegisterStop:
		return unmarshalRegisterStop(body)
	case TypeAssert:
		return unmarshalAssert(body)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, typ)
	}
}

// walk visits every field of b. Varint fields are passed in v, length
// delimited fields in raw. Fields of other wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, 0, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func appendAddr(b []byte, num protowire.Number, addr netip.Addr) ([]byte, error) {
	raw, err := addr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, raw), nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func parseAddr(raw []byte) (netip.Addr, error) {
	var addr netip.Addr
	if err := addr.UnmarshalBinary(raw); err != nil {
		return addr, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return addr, nil
}

func marshalEncodedAddress(e EncodedAddress) ([]byte, error) {
	b, err := appendAddr(nil, 1, e.Addr)
	if err != nil {
		return nil, err
	}
	return appendVarint(b, 2, e.flags()), nil
}

func unmarshalEncodedAddress(b []byte) (EncodedAddress, error) {
	var e EncodedAddress
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			e.Addr, err = parseAddr(raw)
		case 2:
			e.setFlags(v)
		}
		return
	})
	return e, err
}

func marshalJoinPrune(m *JoinPrune) ([]byte, error) {
	b, err := appendAddr(nil, 1, m.Upstream)
	if err != nil {
		return nil, err
	}
	b = appendVarint(b, 2, uint64(m.HoldTime))
	for _, g := range m.Groups {
		gb, err := appendAddr(nil, 1, g.Group)
		if err != nil {
			return nil, err
		}
		for i, list := range [][]EncodedAddress{g.Joins, g.Prunes} {
			for _, e := range list {
				eb, err := marshalEncodedAddress(e)
				if err != nil {
					return nil, err
				}
				gb = protowire.AppendTag(gb, protowire.Number(2+i), protowire.BytesType)
				gb = protowire.AppendBytes(gb, eb)
			}
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, gb)
	}
	return b, nil
}

func unmarshalGroupEntry(b []byte) (GroupEntry, error) {
	var g GroupEntry
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			g.Group, err = parseAddr(raw)
		case 2, 3:
			e, err := unmarshalEncodedAddress(raw)
			if err != nil {
				return err
			}
			if num == 2 {
				g.Joins = append(g.Joins, e)
			} else {
				g.Prunes = append(g.Prunes, e)
			}
		}
		return
	})
	return g, err
}

func unmarshalJoinPrune(b []byte) (*JoinPrune, error) {
	m := &JoinPrune{}
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			m.Upstream, err = parseAddr(raw)
		case 2:
			if v > math.MaxUint16 {
				return fmt.Errorf("%w: hold time %d", ErrMalformed, v)
			}
			m.HoldTime = uint16(v)
		case 3:
			g, err := unmarshalGroupEntry(raw)
			if err != nil {
				return err
			}
			m.Groups = append(m.Groups, g)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func marshalRegister(m *Register) ([]byte, error) {
	var flags uint64
	if m.Border {
		flags |= 1
	}
	if m.Null {
		flags |= 2
	}
	b := appendVarint(nil, 1, flags)
	b, err := appendAddr(b, 2, m.Source)
	if err != nil {
		return nil, err
	}
	b, err = appendAddr(b, 3, m.Group)
	if err != nil {
		return nil, err
	}
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	return b, nil
}

func unmarshalRegister(b []byte) (*Register, error) {
	m := &Register{}
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			m.Border = v&1 != 0
			m.Null = v&2 != 0
		case 2:
			m.Source, err = parseAddr(raw)
		case 3:
			m.Group, err = parseAddr(raw)
		case 4:
			m.Payload = slices.Clone(raw)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func marshalRegisterStop(m *RegisterStop) ([]byte, error) {
	b, err := appendAddr(nil, 1, m.Group)
	if err != nil {
		return nil, err
	}
	return appendAddr(b, 2, m.Source)
}

func unmarshalRegisterStop(b []byte) (*RegisterStop, error) {
	m := &RegisterStop{}
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			m.Group, err = parseAddr(raw)
		case 2:
			m.Source, err = parseAddr(raw)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func marshalAssert(m *Assert) ([]byte, error) {
	b, err := appendAddr(nil, 1, m.Group)
	if err != nil {
		return nil, err
	}
	b, err = appendAddr(b, 2, m.Source)
	if err != nil {
		return nil, err
	}
	b = appendVarint(b, 3, protowire.EncodeBool(m.Rpt))
	b = appendVarint(b, 4, uint64(m.Preference))
	b = appendVarint(b, 5, uint64(m.Metric))
	return b, nil
}

func unmarshalAssert(b []byte) (*Assert, error) {
	m := &Assert{}
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case 1:
			m.Group, err = parseAddr(raw)
		case 2:
			m.Source, err = parseAddr(raw)
		case 3:
			m.Rpt = protowire.DecodeBool(v)
		case 4:
			m.Preference = uint32(v)
		case 5:
			m.Metric = uint32(v)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
