// Package config holds the settings for one handshake sweep.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/hashicorp/go-multierror"

	"github.com/mcass19/p2p-node-handshake/internal/handshake"
	"github.com/mcass19/p2p-node-handshake/internal/proto"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	// Peers are host:port pairs or TCP multiaddrs.
	Peers     []string
	UserAgent string
	// Network is a name accepted by proto.ParseNetwork.
	Network         string
	Timeout         time.Duration
	MaxParallel     int
	MaxPerHost      int
	ProtocolVersion int32
	// StartHeight is wider than the wire field so Validate can reject
	// values that would not fit.
	StartHeight int64
	Relay       bool
	Strict      bool

	// Retries is the number of extra rounds for retriable failures.
	Retries int

	Format       string
	MetricsOut   string
	PromTextfile string
	RecordRun    bool
	HistoryPath  string
}

func Default() Config {
	return Config{
		UserAgent:       handshake.DefaultUserAgent,
		Network:         "mainnet",
		Timeout:         10 * time.Second,
		ProtocolVersion: proto.DefaultProtocolVersion,
		Format:          FormatText,
		HistoryPath:     DefaultHistoryPath(),
	}
}

// DefaultHistoryPath is ~/.p2p-handshake/history.jsonl, or a relative path
// when the home directory is unknown.
func DefaultHistoryPath() string {
	h, err := os.UserHomeDir()
	if err != nil {
		h = "."
	}
	return filepath.Join(h, ".p2p-handshake", "history.jsonl")
}

// ParsePeers splits a list separated by whitespace or commas, dropping
// empty entries. Repeated addresses are kept so every listed address gets
// its own result.
func ParsePeers(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs *multierror.Error
	if len(c.Peers) == 0 {
		errs = multierror.Append(errs, errors.New("no peers: set NODE_ADDRESSES or pass addresses as arguments"))
	}
	if c.UserAgent == "" {
		errs = multierror.Append(errs, errors.New("user agent must not be empty"))
	}
	if len(c.UserAgent) > proto.MaxUserAgentLen {
		errs = multierror.Append(errs, fmt.Errorf("user agent is %d bytes, max %d", len(c.UserAgent), proto.MaxUserAgentLen))
	}
	if _, err := proto.ParseNetwork(c.Network); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.MaxParallel < 0 {
		errs = multierror.Append(errs, fmt.Errorf("parallel must not be negative, got %d", c.MaxParallel))
	}
	if c.MaxPerHost < 0 {
		errs = multierror.Append(errs, fmt.Errorf("per-host must not be negative, got %d", c.MaxPerHost))
	}
	if c.StartHeight < 0 || c.StartHeight > math.MaxInt32 {
		errs = multierror.Append(errs, fmt.Errorf("start height must be within 0..%d, got %d", math.MaxInt32, c.StartHeight))
	}
	if c.Retries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.Format != FormatText && c.Format != FormatJSON {
		errs = multierror.Append(errs, fmt.Errorf("unknown format %q", c.Format))
	}
	if c.RecordRun && c.HistoryPath == "" {
		errs = multierror.Append(errs, errors.New("history path must be set to record runs"))
	}
	return errs.ErrorOrNil()
}

// Magic returns the frame magic for c.Network.
func (c Config) Magic() (wire.BitcoinNet, error) {
	return proto.ParseNetwork(c.Network)
}

func (c Config) Handshake() handshake.Config {
	hc := handshake.DefaultConfig()
	hc.UserAgent = c.UserAgent
	if c.ProtocolVersion != 0 {
		hc.ProtocolVersion = c.ProtocolVersion
	}
	hc.StartHeight = int32(c.StartHeight)
	hc.Relay = c.Relay
	hc.Strict = c.Strict
	return hc
}
