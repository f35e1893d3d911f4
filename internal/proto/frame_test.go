package proto

import (
	"encoding/hex"
	"net/netip"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/mcass19/p2p-node-handshake/internal/p2perr"
)

var addrComparer = cmp.Comparer(func(a, b netip.AddrPort) bool { return a == b })

// A nil and an empty Other payload put the same bytes on the wire.
var emptyData = cmpopts.EquateEmpty()

func sampleVersion() *Version {
	return &Version{
		ProtocolVersion: DefaultProtocolVersion,
		Services:        wire.SFNodeNetwork | wire.SFNodeWitness,
		Timestamp:       1700000000,
		Receiver: NetAddress{
			Services: wire.SFNodeNetwork,
			Addr:     netip.MustParseAddrPort("94.231.253.18:8333"),
		},
		Sender: NetAddress{
			Addr: netip.MustParseAddrPort("[2001:db8::1]:18333"),
		},
		Nonce:       0xdeadbeefcafef00d,
		UserAgent:   "/Satoshi:25.0.0/",
		StartHeight: 812345,
		Relay:       true,
	}
}

func sampleMessages() []Message {
	return []Message{
		sampleVersion(),
		&Version{},
		&VerAck{},
		&Ping{Nonce: 7},
		&Pong{Nonce: 1<<64 - 1},
		&Other{Name: "sendcmpct", Data: []byte{0, 1, 0, 0, 0, 0, 0, 0, 0}},
		&Other{Name: "getaddr"},
		&Other{Name: "sendheaders", Data: []byte{}},
		&Version{
			Receiver: NewNetAddress(wire.SFNodeNetwork, netip.MustParseAddrPort("[::]:8333")),
			Sender:   NewNetAddress(0, netip.MustParseAddrPort("[::ffff:1.2.3.4]:8333")),
		},
		&Version{Receiver: NewNetAddress(0, netip.MustParseAddrPort("[fe80::1%eth0]:8333"))},
	}
}

func TestRoundTrip(t *testing.T) {
	codec := NewCodec(wire.MainNet)
	for _, m := range sampleMessages() {
		frame, err := codec.Encode(m)
		require.NoError(t, err, m.Command())

		got, n, err := codec.DecodeNext(frame)
		require.NoError(t, err, m.Command())
		require.Equal(t, len(frame), n)
		if diff := cmp.Diff(m, got, addrComparer, emptyData); diff != "" {
			t.Fatalf("%s round trip mismatch (-want +got):\n%s", m.Command(), diff)
		}
	}
}

func TestVerAckWireBytes(t *testing.T) {
	frame, err := NewCodec(wire.MainNet).Encode(&VerAck{})
	require.NoError(t, err)
	require.Equal(t, "f9beb4d976657261636b000000000000000000005df6e0e2", hex.EncodeToString(frame))
}

func TestPingWireLayout(t *testing.T) {
	frame, err := NewCodec(wire.TestNet3).Encode(&Ping{Nonce: 0x0102030405060708})
	require.NoError(t, err)
	require.Len(t, frame, HeaderSize+8)
	require.Equal(t, "0b110907", hex.EncodeToString(frame[0:4]))
	require.Equal(t, "70696e670000000000000000", hex.EncodeToString(frame[4:16]))
	require.Equal(t, "08000000", hex.EncodeToString(frame[16:20]))
	require.Equal(t, "0807060504030201", hex.EncodeToString(frame[24:]))
}

func TestDecodeFragmented(t *testing.T) {
	codec := NewCodec(wire.MainNet)
	for _, m := range sampleMessages() {
		frame, err := codec.Encode(m)
		require.NoError(t, err)
		for split := 0; split <= len(frame); split++ {
			var buf []byte
			buf = append(buf, frame[:split]...)
			msg, n, err := codec.DecodeNext(buf)
			require.NoError(t, err)
			if split < len(frame) {
				require.Nil(t, msg, "%s decoded early at %d/%d", m.Command(), split, len(frame))
				require.Zero(t, n)
			}
			buf = append(buf, frame[split:]...)
			msg, n, err = codec.DecodeNext(buf)
			require.NoError(t, err)
			require.Equal(t, len(frame), n)
			if diff := cmp.Diff(m, msg, addrComparer, emptyData); diff != "" {
				t.Fatalf("%s split at %d (-want +got):\n%s", m.Command(), split, diff)
			}
		}
	}
}

func TestDecodeByteAtATime(t *testing.T) {
	codec := NewCodec(wire.MainNet)
	frame, err := codec.Encode(sampleVersion())
	require.NoError(t, err)

	var buf []byte
	var got Message
	for i, b := range frame {
		buf = append(buf, b)
		msg, n, err := codec.DecodeNext(buf)
		require.NoError(t, err)
		if msg != nil {
			require.Equal(t, len(frame)-1, i)
			require.Equal(t, len(buf), n)
			got = msg
		}
	}
	require.NotNil(t, got)
}

func TestDecodeKeepsTrailingBytes(t *testing.T) {
	codec := NewCodec(wire.MainNet)
	first, err := codec.Encode(&Ping{Nonce: 1})
	require.NoError(t, err)
	second, err := codec.Encode(&VerAck{})
	require.NoError(t, err)

	buf := append(append([]byte{}, first...), second[:10]...)
	msg, n, err := codec.DecodeNext(buf)
	require.NoError(t, err)
	require.Equal(t, &Ping{Nonce: 1}, msg)
	require.Equal(t, len(first), n)

	rest := append(buf[n:], second[10:]...)
	msg, n, err = codec.DecodeNext(rest)
	require.NoError(t, err)
	require.Equal(t, &VerAck{}, msg)
	require.Equal(t, len(second), n)
}

func TestChecksumFlipIsDecodeError(t *testing.T) {
	codec := NewCodec(wire.MainNet)
	for _, m := range sampleMessages() {
		frame, err := codec.Encode(m)
		require.NoError(t, err)
		for i := HeaderSize; i < len(frame); i++ {
			bad := append([]byte(nil), frame...)
			bad[i] ^= 0x01
			msg, n, err := codec.DecodeNext(bad)
			require.Nil(t, msg)
			require.Zero(t, n)
			require.ErrorIs(t, err, p2perr.ErrDecode, "%s byte %d", m.Command(), i)
			require.ErrorIs(t, err, ErrChecksumMismatch)
		}
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	frame, err := NewCodec(wire.TestNet3).Encode(&VerAck{})
	require.NoError(t, err)
	_, _, err = NewCodec(wire.MainNet).DecodeNext(frame)
	require.ErrorIs(t, err, p2perr.ErrDecode)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeRejectsBadCommand(t *testing.T) {
	codec := NewCodec(wire.MainNet)
	frame, err := codec.Encode(&VerAck{})
	require.NoError(t, err)

	garbage := append([]byte(nil), frame...)
	garbage[4+7] = 'x' // byte after the NUL terminator of "verack"
	_, _, err = codec.DecodeNext(garbage)
	require.ErrorIs(t, err, ErrBadCommand)

	empty := append([]byte(nil), frame...)
	copy(empty[4:16], make([]byte, CommandSize))
	_, _, err = codec.DecodeNext(empty)
	require.ErrorIs(t, err, ErrBadCommand)
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	codec := NewCodec(wire.MainNet)
	frame, err := codec.Encode(&VerAck{})
	require.NoError(t, err)
	frame[16], frame[17], frame[18], frame[19] = 0xff, 0xff, 0xff, 0xff
	_, _, err = codec.DecodeNext(frame)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.Equal(t, p2perr.KindDecode, p2perr.KindOf(err))
}

func TestDecodeTruncatedHeaderNeedsMore(t *testing.T) {
	msg, n, err := NewCodec(wire.MainNet).DecodeNext([]byte{0xde, 0xad})
	require.NoError(t, err)
	require.Nil(t, msg)
	require.Zero(t, n)
}

func TestEncodeRejectsBadCommand(t *testing.T) {
	codec := NewCodec(wire.MainNet)
	_, err := codec.Encode(&Other{Name: "much-too-long-cmd"})
	require.ErrorIs(t, err, ErrBadCommand)
	_, err = codec.Encode(&Other{Name: ""})
	require.ErrorIs(t, err, ErrBadCommand)
}

func TestEncodeRejectsLongUserAgent(t *testing.T) {
	v := sampleVersion()
	v.UserAgent = "/" + strings.Repeat("x", MaxUserAgentLen) + "/"
	_, err := NewCodec(wire.MainNet).Encode(v)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork(" MainNet ")
	require.NoError(t, err)
	require.Equal(t, wire.MainNet, n)
	n, err = ParseNetwork("regtest")
	require.NoError(t, err)
	require.Equal(t, wire.TestNet, n)
	n, err = ParseNetwork("signet")
	require.NoError(t, err)
	require.Equal(t, wire.BitcoinNet(0x40cf030a), n)
	_, err = ParseNetwork("litecoin")
	require.Error(t, err)
}
