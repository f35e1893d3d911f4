package network

import (
	"errors"
	"fmt"
	"net"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

var errMissingAddr = errors.New("missing addr")

// DialAddr normalizes a peer address to host:port. Multiaddrs such as
// /ip4/1.2.3.4/tcp/8333 or /dns4/seed.example/tcp/8333 are accepted as
// long as they resolve to a TCP transport.
func DialAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errMissingAddr
	}
	if strings.HasPrefix(addr, "/") {
		m, err := ma.NewMultiaddr(addr)
		if err != nil {
			return "", fmt.Errorf("parse multiaddr %q: %w", addr, err)
		}
		network, hostport, err := manet.DialArgs(m)
		if err != nil {
			return "", fmt.Errorf("multiaddr %q: %w", addr, err)
		}
		if !strings.HasPrefix(network, "tcp") {
			return "", fmt.Errorf("multiaddr %q: %s transport is not supported", addr, network)
		}
		return hostport, nil
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	if host == "" || port == "" {
		return "", fmt.Errorf("address %q needs host and port", addr)
	}
	return net.JoinHostPort(host, port), nil
}
