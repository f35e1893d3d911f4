package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"github.com/btcsuite/btcd/wire"
)

const (
	netAddressSize   = 8 + 16 + 2
	versionFixedSize = 4 + 8 + 8 + 2*netAddressSize + 8
)

// NetAddress is the address record embedded in a version message. It has
// no timestamp, unlike the records relayed in addr messages.
//
// Addr must be canonical to be encoded: IPv4 in its 4-byte form, no zone,
// and the zero Addr rather than [::] for "no address". NewNetAddress
// produces that form, and decoding always yields it.
type NetAddress struct {
	Services wire.ServiceFlag
	Addr     netip.AddrPort
}

func NewNetAddress(services wire.ServiceFlag, ap netip.AddrPort) NetAddress {
	return NetAddress{
		Services: services,
		Addr:     netip.AddrPortFrom(canonicalAddr(ap.Addr()), ap.Port()),
	}
}

// canonicalAddr maps a to the single value the 16-byte wire field decodes
// back to.
func canonicalAddr(a netip.Addr) netip.Addr {
	if !a.IsValid() {
		return a
	}
	a = a.Unmap().WithZone("")
	if a == netip.IPv6Unspecified() {
		return netip.Addr{}
	}
	return a
}

func (na NetAddress) check() error {
	if a := na.Addr.Addr(); a != canonicalAddr(a) {
		return fmt.Errorf("%w: address %s is not canonical", ErrMalformedPayload, na.Addr)
	}
	return nil
}

type Version struct {
	ProtocolVersion int32
	Services        wire.ServiceFlag
	Timestamp       int64
	Receiver        NetAddress
	Sender          NetAddress
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           bool
}

func (*Version) Command() string { return wire.CmdVersion }

func (m *Version) Payload() ([]byte, error) {
	if len(m.UserAgent) > MaxUserAgentLen {
		return nil, fmt.Errorf("%w: user agent is %d bytes, max %d", ErrMalformedPayload, len(m.UserAgent), MaxUserAgentLen)
	}
	if err := m.Receiver.check(); err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}
	if err := m.Sender.check(); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	b := make([]byte, 0, versionFixedSize+wire.MaxVarIntPayload+len(m.UserAgent)+5)
	b = binary.LittleEndian.AppendUint32(b, uint32(m.ProtocolVersion))
	b = binary.LittleEndian.AppendUint64(b, uint64(m.Services))
	b = binary.LittleEndian.AppendUint64(b, uint64(m.Timestamp))
	b = appendNetAddress(b, m.Receiver)
	b = appendNetAddress(b, m.Sender)
	b = binary.LittleEndian.AppendUint64(b, m.Nonce)

	buf := bytes.NewBuffer(b)
	if err := wire.WriteVarString(buf, wire.ProtocolVersion, m.UserAgent); err != nil {
		return nil, err
	}
	b = binary.LittleEndian.AppendUint32(buf.Bytes(), uint32(m.StartHeight))
	if m.Relay {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b, nil
}

func decodeVersion(payload []byte) (*Version, error) {
	if len(payload) < versionFixedSize {
		return nil, fmt.Errorf("%w: version is %d bytes", ErrMalformedPayload, len(payload))
	}
	m := &Version{
		ProtocolVersion: int32(binary.LittleEndian.Uint32(payload[0:4])),
		Services:        wire.ServiceFlag(binary.LittleEndian.Uint64(payload[4:12])),
		Timestamp:       int64(binary.LittleEndian.Uint64(payload[12:20])),
		Receiver:        readNetAddress(payload[20 : 20+netAddressSize]),
		Sender:          readNetAddress(payload[20+netAddressSize : 20+2*netAddressSize]),
		Nonce:           binary.LittleEndian.Uint64(payload[20+2*netAddressSize : versionFixedSize]),
	}

	r := bytes.NewReader(payload[versionFixedSize:])
	ua, err := wire.ReadVarString(r, wire.ProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: user agent: %v", ErrMalformedPayload, err)
	}
	if len(ua) > MaxUserAgentLen {
		return nil, fmt.Errorf("%w: user agent is %d bytes", ErrMalformedPayload, len(ua))
	}
	m.UserAgent = ua

	var height [4]byte
	if _, err := io.ReadFull(r, height[:]); err != nil {
		return nil, fmt.Errorf("%w: start height: %v", ErrMalformedPayload, err)
	}
	m.StartHeight = int32(binary.LittleEndian.Uint32(height[:]))

	// Peers older than BIP37 omit the relay flag; they always relay.
	relay, err := r.ReadByte()
	if err != nil {
		m.Relay = true
		return m, nil
	}
	m.Relay = relay != 0
	return m, nil
}

func appendNetAddress(b []byte, na NetAddress) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(na.Services))
	var ip [16]byte
	if a := na.Addr.Addr(); a.IsValid() {
		ip = a.As16()
	}
	b = append(b, ip[:]...)
	return binary.BigEndian.AppendUint16(b, na.Addr.Port())
}

func readNetAddress(b []byte) NetAddress {
	var ip [16]byte
	copy(ip[:], b[8:24])
	var addr netip.Addr
	if ip != ([16]byte{}) {
		addr = netip.AddrFrom16(ip).Unmap()
	}
	return NetAddress{
		Services: wire.ServiceFlag(binary.LittleEndian.Uint64(b[0:8])),
		Addr:     netip.AddrPortFrom(addr, binary.BigEndian.Uint16(b[24:26])),
	}
}
