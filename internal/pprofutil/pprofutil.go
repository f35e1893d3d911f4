// Package pprofutil serves the runtime profiles, and optionally live run
// metrics, while a handshake sweep is in progress.
package pprofutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("p2p/pprof")

const DefaultAddr = "127.0.0.1:6060"

var ErrPublicBind = errors.New("debug address must be loopback")

const shutdownTimeout = 2 * time.Second

type Option func(*http.ServeMux)

// WithHandler mounts h next to the profile endpoints.
func WithHandler(pattern string, h http.Handler) Option {
	return func(mux *http.ServeMux) { mux.Handle(pattern, h) }
}

// Server is a running debug endpoint. It stops when the context passed to
// Start ends or Close is called.
type Server struct {
	srv  *http.Server
	addr string
	done chan struct{}
}

// Start listens on addr. A non-loopback addr is refused with ErrPublicBind
// unless allowPublic is set.
func Start(ctx context.Context, addr string, allowPublic bool, opts ...Option) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if !allowPublic && !isLoopbackBind(addr) {
		return nil, fmt.Errorf("%w: %s", ErrPublicBind, addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("debug listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	for _, opt := range opts {
		opt(mux)
	}

	s := &Server{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr: ln.Addr().String(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnw("debug server stopped", "addr", s.addr, "err", err)
		}
	}()
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	go func() {
		<-s.done
		stop()
	}()
	log.Infow("debug server listening", "url", "http://"+s.addr+"/debug/pprof/")
	return s, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// Close shuts the server down and waits for Serve to return.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

func isLoopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
