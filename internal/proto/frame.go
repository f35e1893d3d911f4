package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/mcass19/p2p-node-handshake/internal/p2perr"
)

// Header is the fixed 24-byte prefix of every frame.
type Header struct {
	Magic    wire.BitcoinNet
	Command  string
	Length   uint32
	Checksum [ChecksumSize]byte
}

// Codec frames messages for a single network.
type Codec struct {
	net wire.BitcoinNet
}

func NewCodec(net wire.BitcoinNet) *Codec {
	return &Codec{net: net}
}

func (c *Codec) Network() wire.BitcoinNet {
	return c.net
}

// Encode serializes m into one complete frame.
func (c *Codec) Encode(m Message) ([]byte, error) {
	cmd := m.Command()
	if !validCommand(cmd) {
		return nil, fmt.Errorf("%w: %q", ErrBadCommand, cmd)
	}
	payload, err := m.Payload()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd, err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("encode %s: %w: %d bytes", cmd, ErrPayloadTooLarge, len(payload))
	}

	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], uint32(c.net))
	copy(out[4:4+CommandSize], cmd)
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(payload)))
	sum := Checksum(payload)
	copy(out[20:24], sum[:])
	copy(out[HeaderSize:], payload)
	return out, nil
}

// DecodeNext decodes the frame at the start of buf. It returns a nil
// message and a nil error when buf does not yet hold a complete frame;
// truncation alone is never an error. On success n is the number of bytes
// the frame occupied and the caller keeps buf[n:] for the next call.
func (c *Codec) DecodeNext(buf []byte) (msg Message, n int, err error) {
	if len(buf) < HeaderSize {
		return nil, 0, nil
	}
	h, err := c.parseHeader(buf[:HeaderSize])
	if err != nil {
		return nil, 0, err
	}
	total := HeaderSize + int(h.Length)
	if len(buf) < total {
		return nil, 0, nil
	}
	payload := buf[HeaderSize:total]
	if Checksum(payload) != h.Checksum {
		return nil, 0, decodeError(h.Command, fmt.Errorf("%w: header %x", ErrChecksumMismatch, h.Checksum))
	}
	msg, err = decodePayload(h.Command, payload)
	if err != nil {
		return nil, 0, decodeError(h.Command, err)
	}
	return msg, total, nil
}

func (c *Codec) parseHeader(b []byte) (Header, error) {
	var h Header
	h.Magic = wire.BitcoinNet(binary.LittleEndian.Uint32(b[0:4]))
	if h.Magic != c.net {
		return h, decodeError("header", fmt.Errorf("%w: got %s want %s", ErrBadMagic, h.Magic, c.net))
	}
	cmd, ok := parseCommand(b[4 : 4+CommandSize])
	if !ok {
		return h, decodeError("header", fmt.Errorf("%w: %q", ErrBadCommand, b[4:4+CommandSize]))
	}
	h.Command = cmd
	h.Length = binary.LittleEndian.Uint32(b[16:20])
	if h.Length > MaxPayloadSize {
		return h, decodeError(cmd, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.Length))
	}
	copy(h.Checksum[:], b[20:24])
	return h, nil
}

// parseCommand accepts printable ASCII followed only by NUL padding.
func parseCommand(field []byte) (string, bool) {
	end := len(field)
	for i, ch := range field {
		if ch == 0 {
			end = i
			break
		}
	}
	for _, ch := range field[end:] {
		if ch != 0 {
			return "", false
		}
	}
	cmd := string(field[:end])
	return cmd, validCommand(cmd)
}

func validCommand(cmd string) bool {
	if cmd == "" || len(cmd) > CommandSize {
		return false
	}
	for i := 0; i < len(cmd); i++ {
		if cmd[i] < 0x20 || cmd[i] > 0x7e {
			return false
		}
	}
	return true
}

func decodeError(op string, cause error) error {
	return p2perr.New(p2perr.KindDecode, "decode "+op, cause)
}
