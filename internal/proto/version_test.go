package proto

import (
	"net/netip"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionWithoutRelayDefaultsToTrue(t *testing.T) {
	v := sampleVersion()
	v.Relay = false
	payload, err := v.Payload()
	require.NoError(t, err)

	got, err := decodeVersion(payload[:len(payload)-1])
	require.NoError(t, err)
	assert.True(t, got.Relay)
	assert.Equal(t, v.UserAgent, got.UserAgent)
	assert.Equal(t, v.StartHeight, got.StartHeight)
}

func TestVersionIgnoresTrailingExtension(t *testing.T) {
	v := sampleVersion()
	payload, err := v.Payload()
	require.NoError(t, err)
	payload = append(payload, 0xaa, 0xbb)

	got, err := decodeVersion(payload)
	require.NoError(t, err)
	assert.Equal(t, v.Nonce, got.Nonce)
	assert.True(t, got.Relay)
}

func TestVersionTruncatedIsMalformed(t *testing.T) {
	payload, err := sampleVersion().Payload()
	require.NoError(t, err)

	for _, n := range []int{0, 10, versionFixedSize - 1, versionFixedSize, versionFixedSize + 5, len(payload) - 3} {
		_, err := decodeVersion(payload[:n])
		require.ErrorIs(t, err, ErrMalformedPayload, "length %d", n)
	}
}

func TestVersionNetAddressEncoding(t *testing.T) {
	v := &Version{
		Receiver: NetAddress{Services: wire.SFNodeNetwork, Addr: netip.MustParseAddrPort("1.2.3.4:8333")},
	}
	payload, err := v.Payload()
	require.NoError(t, err)

	recv := payload[20 : 20+netAddressSize]
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, recv[0:8])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 1, 2, 3, 4}, recv[8:24])
	assert.Equal(t, []byte{0x20, 0x8d}, recv[24:26])

	got := readNetAddress(recv)
	assert.Equal(t, v.Receiver, got)
	assert.True(t, got.Addr.Addr().Is4())
}

func TestNonceMessagesRejectWrongLength(t *testing.T) {
	_, err := decodePayload(wire.CmdPing, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedPayload)
	_, err = decodePayload(wire.CmdPong, nil)
	require.ErrorIs(t, err, ErrMalformedPayload)
	_, err = decodePayload(wire.CmdVerAck, []byte{0})
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestOtherPayloadIsCopied(t *testing.T) {
	src := []byte{1, 2, 3}
	m, err := decodePayload("inv", src)
	require.NoError(t, err)
	src[0] = 9
	assert.Equal(t, &Other{Name: "inv", Data: []byte{1, 2, 3}}, m)
}

func TestNewNetAddressIsCanonical(t *testing.T) {
	cases := map[string]netip.AddrPort{
		"[::]:8333":             netip.AddrPortFrom(netip.Addr{}, 8333),
		"[::ffff:1.2.3.4]:8333": netip.MustParseAddrPort("1.2.3.4:8333"),
		"[fe80::1%eth0]:8333":   netip.MustParseAddrPort("[fe80::1]:8333"),
		"0.0.0.0:0":             netip.MustParseAddrPort("0.0.0.0:0"),
		"[2001:db8::1]:18333":   netip.MustParseAddrPort("[2001:db8::1]:18333"),
	}
	for in, want := range cases {
		na := NewNetAddress(wire.SFNodeNetwork, netip.MustParseAddrPort(in))
		assert.Equal(t, want, na.Addr, in)

		v := &Version{Receiver: na}
		payload, err := v.Payload()
		require.NoError(t, err, in)
		got, err := decodeVersion(payload)
		require.NoError(t, err, in)
		assert.Equal(t, na, got.Receiver, in)
	}
}

func TestVersionRejectsNonCanonicalAddress(t *testing.T) {
	for _, in := range []string{"[::]:8333", "[::ffff:1.2.3.4]:8333", "[fe80::1%eth0]:8333"} {
		v := &Version{Sender: NetAddress{Addr: netip.MustParseAddrPort(in)}}
		_, err := v.Payload()
		require.ErrorIs(t, err, ErrMalformedPayload, in)
	}
}

func TestOtherEmptyPayloadDecodesAsNil(t *testing.T) {
	frame, err := NewCodec(wire.MainNet).Encode(&Other{Name: "sendheaders", Data: []byte{}})
	require.NoError(t, err)
	m, _, err := NewCodec(wire.MainNet).DecodeNext(frame)
	require.NoError(t, err)
	other, ok := m.(*Other)
	require.True(t, ok)
	assert.Nil(t, other.Data)
	assert.Empty(t, other.Data)
}
