package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// Message is one decoded protocol message.
type Message interface {
	Command() string
	Payload() ([]byte, error)
}

type VerAck struct{}

type Ping struct {
	Nonce uint64
}

type Pong struct {
	Nonce uint64
}

// Other carries any command outside the handshake subset. Its payload is
// never interpreted. A nil and an empty Data encode identically, and an
// empty payload always decodes as nil.
type Other struct {
	Name string
	Data []byte
}

func (*VerAck) Command() string { return wire.CmdVerAck }
func (*Ping) Command() string   { return wire.CmdPing }
func (*Pong) Command() string   { return wire.CmdPong }
func (m *Other) Command() string {
	return m.Name
}

func (*VerAck) Payload() ([]byte, error) { return nil, nil }

func (m *Ping) Payload() ([]byte, error) {
	return binary.LittleEndian.AppendUint64(nil, m.Nonce), nil
}

func (m *Pong) Payload() ([]byte, error) {
	return binary.LittleEndian.AppendUint64(nil, m.Nonce), nil
}

func (m *Other) Payload() ([]byte, error) {
	return m.Data, nil
}

func decodePayload(cmd string, payload []byte) (Message, error) {
	switch cmd {
	case wire.CmdVersion:
		return decodeVersion(payload)
	case wire.CmdVerAck:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: verack carries %d bytes", ErrMalformedPayload, len(payload))
		}
		return &VerAck{}, nil
	case wire.CmdPing:
		nonce, err := decodeNonce(cmd, payload)
		if err != nil {
			return nil, err
		}
		return &Ping{Nonce: nonce}, nil
	case wire.CmdPong:
		nonce, err := decodeNonce(cmd, payload)
		if err != nil {
			return nil, err
		}
		return &Pong{Nonce: nonce}, nil
	default:
		m := &Other{Name: cmd}
		if len(payload) > 0 {
			m.Data = append([]byte(nil), payload...)
		}
		return m, nil
	}
}

func decodeNonce(cmd string, payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, fmt.Errorf("%w: %s nonce is %d bytes", ErrMalformedPayload, cmd, len(payload))
	}
	return binary.LittleEndian.Uint64(payload), nil
}
