// Package peertest runs scripted in-process peers that speak the wire
// protocol, for tests of the connection, engine and orchestrator layers.
package peertest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/mcass19/p2p-node-handshake/internal/proto"
)

// IOTimeout bounds every blocking step of a script so a broken test fails
// instead of hanging.
var IOTimeout = 5 * time.Second

// Script drives one accepted connection. Returning ends the session and
// closes the connection.
type Script func(s *Session) error

// Peer listens on a loopback port and runs its script against the first
// connection it accepts.
type Peer struct {
	ln    net.Listener
	codec *proto.Codec
	done  chan struct{}
	err   error
}

// Start begins listening. The listener and any session are torn down by
// t.Cleanup.
func Start(t testing.TB, codec *proto.Codec, script Script) *Peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &Peer{ln: ln, codec: codec, done: make(chan struct{})}
	go p.serve(script)
	t.Cleanup(func() {
		_ = ln.Close()
		select {
		case <-p.done:
		case <-time.After(2 * IOTimeout):
			t.Errorf("peer %s script did not finish", ln.Addr())
		}
	})
	return p
}

func (p *Peer) serve(script Script) {
	defer close(p.done)
	c, err := p.ln.Accept()
	if err != nil {
		p.err = fmt.Errorf("accept: %w", err)
		return
	}
	_ = p.ln.Close()
	s := &Session{conn: c, codec: p.codec}
	defer c.Close()
	p.err = script(s)
}

func (p *Peer) Addr() string {
	return p.ln.Addr().String()
}

// Wait blocks until the script returns and reports its error.
func (p *Peer) Wait() error {
	select {
	case <-p.done:
		return p.err
	case <-time.After(2 * IOTimeout):
		return errors.New("peer script still running")
	}
}

// Session is the server side of one scripted connection.
type Session struct {
	conn  net.Conn
	codec *proto.Codec
	buf   []byte
}

func (s *Session) Send(m proto.Message) error {
	frame, err := s.codec.Encode(m)
	if err != nil {
		return err
	}
	return s.SendRaw(frame)
}

// SendRaw writes b unframed.
func (s *Session) SendRaw(b []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(IOTimeout))
	_, err := s.conn.Write(b)
	return err
}

// SendFragmented writes the frame for m in pieces of at most size bytes,
// pausing between writes so they arrive as separate reads.
func (s *Session) SendFragmented(m proto.Message, size int) error {
	frame, err := s.codec.Encode(m)
	if err != nil {
		return err
	}
	for len(frame) > 0 {
		n := min(size, len(frame))
		if err := s.SendRaw(frame[:n]); err != nil {
			return err
		}
		frame = frame[n:]
		time.Sleep(2 * time.Millisecond)
	}
	return nil
}

// Expect reads the next message from the client.
func (s *Session) Expect() (proto.Message, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(IOTimeout))
	chunk := make([]byte, 1024)
	for {
		msg, n, err := s.codec.DecodeNext(s.buf)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			s.buf = s.buf[n:]
			return msg, nil
		}
		read, err := s.conn.Read(chunk)
		s.buf = append(s.buf, chunk[:read]...)
		if err != nil && read == 0 {
			return nil, err
		}
	}
}

// ExpectCommand reads the next message and checks its command.
func (s *Session) ExpectCommand(cmd string) (proto.Message, error) {
	msg, err := s.Expect()
	if err != nil {
		return nil, fmt.Errorf("expecting %s: %w", cmd, err)
	}
	if msg.Command() != cmd {
		return msg, fmt.Errorf("expected %s, got %s", cmd, msg.Command())
	}
	return msg, nil
}

// WaitClosed blocks until the client closes its end, discarding anything
// it sends meanwhile.
func (s *Session) WaitClosed(d time.Duration) error {
	_ = s.conn.SetReadDeadline(time.Now().Add(d))
	_, err := io.Copy(io.Discard, s.conn)
	if err == nil {
		return nil
	}
	return fmt.Errorf("client did not close within %s: %w", d, err)
}

// Version is a plausible version message from a remote node.
func Version(nonce uint64) *proto.Version {
	return &proto.Version{
		ProtocolVersion: proto.DefaultProtocolVersion,
		Services:        wire.SFNodeNetwork | wire.SFNodeWitness,
		Timestamp:       time.Now().Unix(),
		Nonce:           nonce,
		UserAgent:       "/peertest:0.1.0/",
		StartHeight:     100,
		Relay:           true,
	}
}

// Cooperative answers like a well behaved node: read the client's version,
// send version and verack, then wait for the client's verack and close.
func Cooperative(s *Session) error {
	if _, err := s.ExpectCommand(wire.CmdVersion); err != nil {
		return err
	}
	if err := s.Send(Version(42)); err != nil {
		return err
	}
	if err := s.Send(&proto.VerAck{}); err != nil {
		return err
	}
	_, err := s.ExpectCommand(wire.CmdVerAck)
	return err
}

// Silent reads the client's version and never answers.
func Silent(s *Session) error {
	if _, err := s.ExpectCommand(wire.CmdVersion); err != nil {
		return err
	}
	return s.WaitClosed(IOTimeout)
}

// HangUp reads the client's version and closes the connection.
func HangUp(s *Session) error {
	_, err := s.ExpectCommand(wire.CmdVersion)
	return err
}
