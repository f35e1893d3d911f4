// Package proto implements the handshake subset of the Bitcoin P2P wire
// protocol: message framing, the version/verack/ping/pong payloads, and an
// opaque carrier for every other command.
package proto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	HeaderSize     = wire.MessageHeaderSize
	CommandSize    = wire.CommandSize
	ChecksumSize   = 4
	MaxPayloadSize = wire.MaxMessagePayload

	// MaxUserAgentLen is the longest user agent a version message may carry.
	MaxUserAgentLen = wire.MaxUserAgentLen

	// DefaultProtocolVersion is advertised in outgoing version messages.
	DefaultProtocolVersion int32 = int32(wire.ProtocolVersion)
)

var (
	ErrBadMagic         = errors.New("network magic mismatch")
	ErrBadCommand       = errors.New("invalid command field")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrMalformedPayload = errors.New("malformed payload")
)

// wire has no constant for signet; the default signet magic lives on its
// chain parameters.
var networks = map[string]wire.BitcoinNet{
	"mainnet":  wire.MainNet,
	"testnet3": wire.TestNet3,
	"regtest":  wire.TestNet,
	"signet":   chaincfg.SigNetParams.Net,
	"simnet":   wire.SimNet,
}

// ParseNetwork maps a network name to its wire magic.
func ParseNetwork(name string) (wire.BitcoinNet, error) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown network %q", name)
	}
	return n, nil
}

// Checksum returns the first four bytes of the double SHA-256 of payload.
func Checksum(payload []byte) [ChecksumSize]byte {
	var sum [ChecksumSize]byte
	copy(sum[:], chainhash.DoubleHashB(payload))
	return sum
}
