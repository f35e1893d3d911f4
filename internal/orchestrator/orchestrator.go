// Package orchestrator runs handshakes against many peers at once and
// collects one result per peer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mcass19/p2p-node-handshake/internal/handshake"
	"github.com/mcass19/p2p-node-handshake/internal/metrics"
	"github.com/mcass19/p2p-node-handshake/internal/network"
	"github.com/mcass19/p2p-node-handshake/internal/p2perr"
	"github.com/mcass19/p2p-node-handshake/internal/proto"
	"github.com/mcass19/p2p-node-handshake/internal/tracing"
)

var log = logging.Logger("p2p/orchestrator")

const DefaultTimeout = 10 * time.Second

// Conn is what a peer execution needs from a dialed connection.
type Conn interface {
	handshake.Transport
	Stats() network.Stats
	Close() error
}

type DialFunc func(ctx context.Context, addr string, codec *proto.Codec) (Conn, error)

func dialTCP(ctx context.Context, addr string, codec *proto.Codec) (Conn, error) {
	c, err := network.Dial(ctx, addr, codec)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Options struct {
	// Timeout bounds each peer from dial to verack. Zero means
	// DefaultTimeout.
	Timeout time.Duration
	// MaxParallel caps concurrent peers; zero or less runs all at once.
	MaxParallel int
	// MaxPerHost caps concurrent connections to one host. Waiting for a
	// slot counts against the peer's Timeout.
	MaxPerHost int
	Handshake  handshake.Config
	// Network selects the frame magic. Zero means mainnet.
	Network wire.BitcoinNet

	Metrics *metrics.Metrics
	Tracer  *tracing.Tracer
	// Dial replaces the TCP dialer, mostly for tests.
	Dial DialFunc
}

// PeerResult is the outcome for one address. Err is nil on success.
type PeerResult struct {
	Addr          string
	Err           error
	Elapsed       time.Duration
	PeerVersion   *proto.Version
	PingsAnswered int
	Ignored       int
	Stats         network.Stats
}

func (r PeerResult) OK() bool {
	return r.Err == nil
}

// Results are in the order the addresses were given.
type Results []PeerResult

func (rs Results) Succeeded() int {
	n := 0
	for _, r := range rs {
		if r.OK() {
			n++
		}
	}
	return n
}

// Err aggregates every failure, or returns nil when all peers succeeded.
func (rs Results) Err() error {
	var merr *multierror.Error
	for _, r := range rs {
		if r.Err != nil {
			merr = multierror.Append(merr, r.Err)
		}
	}
	return merr.ErrorOrNil()
}

type Orchestrator struct {
	opts  Options
	codec *proto.Codec
	dial  DialFunc
	hosts *network.HostLimiter
}

func New(opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Network == 0 {
		opts.Network = wire.MainNet
	}
	dial := opts.Dial
	if dial == nil {
		dial = dialTCP
	}
	return &Orchestrator{
		opts:  opts,
		codec: proto.NewCodec(opts.Network),
		dial:  dial,
		hosts: network.NewHostLimiter(opts.MaxPerHost),
	}
}

// Run handshakes with a default configuration advertising identity as the
// user agent.
func Run(ctx context.Context, addrs []string, identity string, timeout time.Duration) Results {
	cfg := handshake.DefaultConfig()
	cfg.UserAgent = identity
	return New(Options{Timeout: timeout, Handshake: cfg}).Run(ctx, addrs)
}

// Run starts one execution per address and waits for all of them. A
// failing or panicking peer never affects its siblings.
func (o *Orchestrator) Run(ctx context.Context, addrs []string) Results {
	results := make(Results, len(addrs))
	var g errgroup.Group
	if o.opts.MaxParallel > 0 {
		g.SetLimit(o.opts.MaxParallel)
	}
	log.Infow("starting handshakes", "peers", len(addrs), "timeout", o.opts.Timeout.String(), "network", o.opts.Network.String())
	for i, addr := range addrs {
		g.Go(func() error {
			results[i] = o.runPeer(ctx, addr)
			return nil
		})
	}
	_ = g.Wait()
	log.Infow("handshakes finished", "peers", len(addrs), "succeeded", results.Succeeded())
	return results
}

func (o *Orchestrator) runPeer(parent context.Context, addr string) (res PeerResult) {
	start := time.Now()
	res.Addr = addr
	o.opts.Metrics.HandshakeStarted()

	ctx, span := o.opts.Tracer.StartHandshake(parent, addr)
	peerCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	var conn Conn
	release := func() {}
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("peer execution panicked", "peer", addr, "panic", r)
			res.Err = p2perr.WithAddr(p2perr.New(p2perr.KindUnknown, "handshake", fmt.Errorf("panic: %v", r)), addr)
		}
		if conn != nil {
			res.Stats = conn.Stats()
			if err := conn.Close(); err != nil {
				log.Debugw("close failed", "peer", addr, "err", err)
			}
		}
		release()
		res.Elapsed = time.Since(start)
		tracing.End(span, res.Err)
		o.record(res)
	}()

	rel, err := o.hosts.Acquire(peerCtx, network.HostKey(addr))
	if err != nil {
		res.Err = o.classify(parent, peerCtx, err, addr)
		return res
	}
	release = rel

	dialCtx, dialSpan := o.opts.Tracer.StartDial(peerCtx, addr)
	c, err := o.dial(dialCtx, addr, o.codec)
	if err != nil {
		res.Err = o.classify(parent, peerCtx, err, addr)
		tracing.End(dialSpan, res.Err)
		return res
	}
	tracing.End(dialSpan, nil)
	conn = c

	var opts []handshake.Option
	if o.opts.Metrics != nil {
		opts = append(opts, handshake.WithObserver(o.opts.Metrics))
	}
	sum, err := handshake.New(addr, conn, o.opts.Handshake, opts...).Run(peerCtx)
	res.PeerVersion = sum.PeerVersion
	res.PingsAnswered = sum.PingsAnswered
	res.Ignored = sum.Ignored
	res.Err = o.classify(parent, peerCtx, err, addr)
	return res
}

// classify turns context errors into timeout or cancellation and tags
// every error with the peer address.
func (o *Orchestrator) classify(parent, peerCtx context.Context, err error, addr string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		switch {
		case parent.Err() != nil:
			err = p2perr.New(p2perr.KindCanceled, "handshake", parent.Err())
		case peerCtx.Err() != nil:
			err = p2perr.New(p2perr.KindTimeout, "handshake", fmt.Errorf("no verack within %s: %w", o.opts.Timeout, err))
		}
	}
	return p2perr.WithAddr(err, addr)
}

func (o *Orchestrator) record(res PeerResult) {
	out := metrics.Outcome{
		Addr:          res.Addr,
		Success:       res.OK(),
		Elapsed:       res.Elapsed,
		PingsAnswered: res.PingsAnswered,
		Ignored:       res.Ignored,
	}
	if res.OK() {
		log.Infow("handshake succeeded", "peer", res.Addr, "elapsed", res.Elapsed.String())
	} else {
		out.Kind = p2perr.KindOf(res.Err).String()
		log.Warnw("handshake failed", "peer", res.Addr, "kind", out.Kind, "err", res.Err)
	}
	o.opts.Metrics.Record(out)
}
