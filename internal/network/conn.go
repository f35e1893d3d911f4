package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/mcass19/p2p-node-handshake/internal/p2perr"
	"github.com/mcass19/p2p-node-handshake/internal/proto"
)

var log = logging.Logger("p2p/network")

const readChunk = 4096

// aLongTimeAgo is a deadline in the past; setting it unblocks pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Stats counts traffic on one connection.
type Stats struct {
	BytesSent        uint64 `json:"bytes_sent"`
	BytesReceived    uint64 `json:"bytes_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
}

// Conn is one TCP stream to a peer framed with a proto.Codec. A Conn is
// owned by a single goroutine and is not safe for concurrent use.
type Conn struct {
	addr  string
	conn  net.Conn
	codec *proto.Codec
	buf   []byte
	chunk []byte
	stats Stats
}

// Dial connects to addr, which may be host:port or a TCP multiaddr.
func Dial(ctx context.Context, addr string, codec *proto.Codec) (*Conn, error) {
	target, err := DialAddr(addr)
	if err != nil {
		return nil, p2perr.New(p2perr.KindConnection, "resolve", err)
	}
	var d net.Dialer
	log.Debugw("dialing", "peer", addr, "target", target)
	c, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, p2perr.New(p2perr.KindConnection, "dial", err)
	}
	log.Debugw("connected", "peer", addr, "local", c.LocalAddr().String())
	return NewConn(c, addr, codec), nil
}

// NewConn wraps an established stream.
func NewConn(c net.Conn, addr string, codec *proto.Codec) *Conn {
	return &Conn{
		addr:  addr,
		conn:  c,
		codec: codec,
		chunk: make([]byte, readChunk),
	}
}

func (c *Conn) Addr() string {
	return c.addr
}

// RemoteAddrPort is the peer's IP and port, or the zero value when the
// underlying stream is not TCP.
func (c *Conn) RemoteAddrPort() netip.AddrPort {
	if ta, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		ap := ta.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}

func (c *Conn) Stats() Stats {
	return c.stats
}

// Send writes the whole frame for m.
func (c *Conn) Send(ctx context.Context, m proto.Message) error {
	frame, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	stop := c.watch(ctx)
	defer stop()

	total := 0
	for total < len(frame) {
		n, err := c.conn.Write(frame[total:])
		total += n
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return classify("send "+m.Command(), err)
		}
		if n == 0 {
			return p2perr.New(p2perr.KindConnection, "send "+m.Command(), io.ErrShortWrite)
		}
	}
	c.stats.BytesSent += uint64(total)
	c.stats.MessagesSent++
	log.Debugw("sent", "peer", c.addr, "cmd", m.Command(), "bytes", total)
	return nil
}

// Receive returns the next complete message. Bytes past the end of that
// message stay buffered for the following call.
func (c *Conn) Receive(ctx context.Context) (proto.Message, error) {
	stop := c.watch(ctx)
	defer stop()

	for {
		msg, n, err := c.codec.DecodeNext(c.buf)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			c.buf = c.buf[n:]
			c.stats.MessagesReceived++
			log.Debugw("received", "peer", c.addr, "cmd", msg.Command(), "bytes", n)
			return msg, nil
		}

		read, err := c.conn.Read(c.chunk)
		if read > 0 {
			c.buf = append(c.buf, c.chunk[:read]...)
			c.stats.BytesReceived += uint64(read)
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, classify("receive", err)
		}
	}
}

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// watch forces pending I/O to fail once ctx is done. The socket deadline
// is only ever moved after ctx.Err is set, so a deadline error always
// pairs with a non-nil ctx.Err.
func (c *Conn) watch(ctx context.Context) func() {
	_ = c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(aLongTimeAgo)
	})
	return func() { stop() }
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return p2perr.New(p2perr.KindConnectionClosed, op, err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return p2perr.New(p2perr.KindConnection, op, fmt.Errorf("reset by peer: %w", err))
	default:
		return p2perr.New(p2perr.KindConnection, op, err)
	}
}
