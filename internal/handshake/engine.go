// Package handshake drives the version/verack exchange with one peer.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/btcsuite/btcd/wire"
	logging "github.com/ipfs/go-log/v2"

	"github.com/mcass19/p2p-node-handshake/internal/p2perr"
	"github.com/mcass19/p2p-node-handshake/internal/proto"
	"github.com/mcass19/p2p-node-handshake/internal/tracing"
)

var log = logging.Logger("p2p/handshake")

// DefaultUserAgent mimics a stock Bitcoin Core node.
const DefaultUserAgent = "/Satoshi:25.0.0/"

// ErrInvalidState is returned by Run on an engine that already ran.
var ErrInvalidState = errors.New("handshake engine already started")

// Transport is the message stream the engine talks over.
type Transport interface {
	Send(ctx context.Context, m proto.Message) error
	Receive(ctx context.Context) (proto.Message, error)
	RemoteAddrPort() netip.AddrPort
}

// Observer is notified of every frame the engine moves.
type Observer interface {
	MessageSent(cmd string)
	MessageReceived(cmd string)
}

type Config struct {
	UserAgent       string
	ProtocolVersion int32
	Services        wire.ServiceFlag
	StartHeight     int32
	Relay           bool

	// Strict fails the handshake on any command outside the handshake
	// subset. By default such messages are ignored, since live peers send
	// sendheaders, sendcmpct, feefilter and friends at any time.
	Strict bool

	Now   func() time.Time
	Nonce func() uint64
}

func DefaultConfig() Config {
	return Config{
		UserAgent:       DefaultUserAgent,
		ProtocolVersion: proto.DefaultProtocolVersion,
		Now:             time.Now,
		Nonce:           rand.Uint64,
	}
}

// Summary describes a finished handshake.
type Summary struct {
	// PeerVersion is nil when the peer acknowledged before sending its
	// own version.
	PeerVersion   *proto.Version
	PingsAnswered int
	Ignored       int
	Received      int
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.obs = o }
}

// Engine runs the handshake for one peer. It owns its transport for the
// duration of Run and must not be shared between goroutines.
type Engine struct {
	addr  string
	tr    Transport
	cfg   Config
	obs   Observer
	state State
	sum   Summary
}

func New(addr string, tr Transport, cfg Config, opts ...Option) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Nonce == nil {
		cfg.Nonce = rand.Uint64
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = proto.DefaultProtocolVersion
	}
	e := &Engine{addr: addr, tr: tr, cfg: cfg, state: StateStart}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() State {
	return e.state
}

// Run sends our version and reacts to whatever the peer sends until its
// verack arrives or the stream fails.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if e.state != StateStart {
		return e.sum, fmt.Errorf("%w: state %s", ErrInvalidState, e.state)
	}
	if err := e.send(ctx, e.buildVersion()); err != nil {
		return e.fail(err)
	}
	e.transition(StateVersionSent)

	for !e.state.Terminal() {
		msg, err := e.tr.Receive(ctx)
		if err != nil {
			return e.fail(err)
		}
		e.sum.Received++
		if e.obs != nil {
			e.obs.MessageReceived(msg.Command())
		}
		tracing.MessageEvent(ctx, tracing.EventReceive, msg.Command())
		if err := e.handle(ctx, msg); err != nil {
			return e.fail(err)
		}
	}
	log.Debugw("handshake completed", "peer", e.addr, "received", e.sum.Received, "pings", e.sum.PingsAnswered, "ignored", e.sum.Ignored)
	return e.sum, nil
}

func (e *Engine) handle(ctx context.Context, msg proto.Message) error {
	switch m := msg.(type) {
	case *proto.Version:
		e.sum.PeerVersion = m
		log.Debugw("peer version", "peer", e.addr, "agent", m.UserAgent, "version", m.ProtocolVersion, "height", m.StartHeight)
		return e.send(ctx, &proto.VerAck{})
	case *proto.Ping:
		if err := e.send(ctx, &proto.Pong{Nonce: m.Nonce}); err != nil {
			return err
		}
		e.sum.PingsAnswered++
		return nil
	case *proto.Pong:
		return nil
	case *proto.VerAck:
		e.transition(StateCompleted)
		return nil
	default:
		if e.cfg.Strict {
			return p2perr.New(p2perr.KindUnexpectedMessage, "receive", fmt.Errorf("command %q during handshake", msg.Command()))
		}
		e.sum.Ignored++
		log.Debugw("ignoring message", "peer", e.addr, "cmd", msg.Command())
		return nil
	}
}

func (e *Engine) send(ctx context.Context, m proto.Message) error {
	if err := e.tr.Send(ctx, m); err != nil {
		return err
	}
	if e.obs != nil {
		e.obs.MessageSent(m.Command())
	}
	tracing.MessageEvent(ctx, tracing.EventSend, m.Command())
	return nil
}

func (e *Engine) buildVersion() *proto.Version {
	return &proto.Version{
		ProtocolVersion: e.cfg.ProtocolVersion,
		Services:        e.cfg.Services,
		Timestamp:       e.cfg.Now().Unix(),
		Receiver:        proto.NewNetAddress(0, e.tr.RemoteAddrPort()),
		Sender:          proto.NewNetAddress(0, netip.AddrPortFrom(netip.IPv4Unspecified(), 0)),
		Nonce:           e.cfg.Nonce(),
		UserAgent:       e.cfg.UserAgent,
		StartHeight:     e.cfg.StartHeight,
		Relay:           e.cfg.Relay,
	}
}

func (e *Engine) transition(to State) {
	if !validTransition(e.state, to) {
		panic(fmt.Sprintf("handshake: invalid transition %s -> %s", e.state, to))
	}
	log.Debugw("state", "peer", e.addr, "from", e.state.String(), "to", to.String())
	e.state = to
}

func (e *Engine) fail(err error) (Summary, error) {
	e.transition(StateFailed)
	log.Debugw("handshake failed", "peer", e.addr, "err", err)
	return e.sum, err
}
