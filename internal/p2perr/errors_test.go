package p2perr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(KindConnectionClosed, "receive", io.EOF)
	wrapped := fmt.Errorf("engine: %w", err)

	require.ErrorIs(t, wrapped, ErrConnectionClosed)
	require.ErrorIs(t, wrapped, io.EOF)
	require.NotErrorIs(t, wrapped, ErrTimeout)
	require.Equal(t, KindConnectionClosed, KindOf(wrapped))
}

func TestErrorString(t *testing.T) {
	err := WithAddr(New(KindDecode, "checksum", errors.New("mismatch")), "10.0.0.1:8333")
	assert.Equal(t, "peer 10.0.0.1:8333: DecodeError: checksum: mismatch", err.Error())
	assert.Equal(t, "TimeoutError", ErrTimeout.Error())
}

func TestWithAddrDoesNotMutate(t *testing.T) {
	orig := New(KindTimeout, "handshake", nil)
	tagged := WithAddr(orig, "a:1")
	assert.Empty(t, orig.Addr)
	assert.Equal(t, "a:1", tagged.Addr)

	plain := WithAddr(errors.New("boom"), "b:2")
	assert.Equal(t, KindUnknown, plain.Kind)
	assert.Nil(t, WithAddr(nil, "c:3"))
}

func TestIsRetriable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{New(KindConnection, "dial", nil), true},
		{New(KindConnectionClosed, "receive", io.EOF), true},
		{New(KindTimeout, "", nil), true},
		{New(KindDecode, "checksum", nil), false},
		{New(KindUnexpectedMessage, "", nil), false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRetriable(tc.err), "%v", tc.err)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Kind(42)", Kind(42).String())
	assert.Equal(t, "Canceled", KindCanceled.String())
}
