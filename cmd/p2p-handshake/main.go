package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"

	"github.com/mcass19/p2p-node-handshake/internal/config"
	"github.com/mcass19/p2p-node-handshake/internal/debuglog"
	"github.com/mcass19/p2p-node-handshake/internal/metrics"
	"github.com/mcass19/p2p-node-handshake/internal/orchestrator"
	"github.com/mcass19/p2p-node-handshake/internal/pprofutil"
	"github.com/mcass19/p2p-node-handshake/internal/store"
	"github.com/mcass19/p2p-node-handshake/internal/tracing"
)

var log = logging.Logger("p2p/cli")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns 0 when every peer completed the handshake, 1 when any peer
// failed and 2 on usage or setup errors.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := newApp(stdout, stderr)
	err := app.RunContext(ctx, append([]string{app.Name}, args...))
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		return ec.ExitCode()
	}
	fmt.Fprintln(stderr, err)
	return 2
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "p2p-handshake",
		Usage:     "perform the bitcoin version/verack handshake with a set of peers",
		UsageText: "p2p-handshake [run] [options] [address ...]\n   p2p-handshake history [options]",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     runFlags(),
		Action:    runAction,
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "handshake with every configured peer (default)",
				ArgsUsage: "[address ...]",
				Flags:     runFlags(),
				Action:    runAction,
			},
			{
				Name:   "history",
				Usage:  "list recorded runs",
				Flags:  historyFlags(),
				Action: historyAction,
			},
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug, info, warn or error", EnvVars: []string{"HANDSHAKE_LOG_LEVEL"}},
		&cli.StringFlag{Name: "log-format", Value: "text", Usage: "text, color or json"},
	}
}

func runFlags() []cli.Flag {
	def := config.Default()
	return append([]cli.Flag{
		&cli.StringFlag{Name: "peers", Usage: "peer addresses separated by whitespace or commas, one result per listed address", EnvVars: []string{"NODE_ADDRESSES"}},
		&cli.StringFlag{Name: "user-agent", Value: def.UserAgent, Usage: "user agent advertised in our version message", EnvVars: []string{"USER_AGENT"}},
		&cli.StringFlag{Name: "network", Value: def.Network, Usage: "mainnet, testnet3, regtest, signet or simnet", EnvVars: []string{"HANDSHAKE_NETWORK"}},
		&cli.DurationFlag{Name: "timeout", Value: def.Timeout, Usage: "per-peer handshake deadline", EnvVars: []string{"HANDSHAKE_TIMEOUT"}},
		&cli.IntFlag{Name: "parallel", Usage: "max concurrent peers, 0 for unlimited"},
		&cli.IntFlag{Name: "per-host", Usage: "max concurrent connections to one host, 0 for unlimited"},
		&cli.Int64Flag{Name: "start-height", Usage: "start height advertised in our version message"},
		&cli.BoolFlag{Name: "relay", Usage: "ask peers to relay transactions"},
		&cli.BoolFlag{Name: "strict", Usage: "fail on messages outside the handshake"},
		&cli.IntFlag{Name: "retries", Usage: "extra rounds for peers that failed with a retriable error"},
		&cli.StringFlag{Name: "format", Value: def.Format, Usage: "text or json"},
		&cli.StringFlag{Name: "metrics-out", Usage: "write a JSON metrics snapshot to this file"},
		&cli.StringFlag{Name: "prom-textfile", Usage: "write prometheus metrics to this file"},
		&cli.BoolFlag{Name: "history", Usage: "append this run to the history file"},
		&cli.StringFlag{Name: "history-file", Value: def.HistoryPath, Usage: "history file location"},
		&cli.StringFlag{Name: "debug-addr", Usage: "serve pprof and live metrics on this address while the run lasts", EnvVars: []string{"HANDSHAKE_PPROF_ADDR"}},
		&cli.BoolFlag{Name: "debug-public", Usage: "allow a non-loopback debug address", EnvVars: []string{"HANDSHAKE_PPROF_ALLOW_PUBLIC"}},
	}, logFlags()...)
}

func historyFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{Name: "history-file", Value: config.DefaultHistoryPath(), Usage: "history file location"},
		&cli.IntFlag{Name: "n", Value: 10, Usage: "number of runs to show, 0 for all"},
		&cli.StringFlag{Name: "format", Value: config.FormatText, Usage: "text or json"},
	}, logFlags()...)
}

func setupLogging(c *cli.Context) error {
	if err := debuglog.Setup(c.String("log-level"), c.String("log-format")); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	return nil
}

func configFromFlags(c *cli.Context) config.Config {
	cfg := config.Default()
	cfg.Peers = config.ParsePeers(c.String("peers"))
	for _, a := range c.Args().Slice() {
		cfg.Peers = append(cfg.Peers, config.ParsePeers(a)...)
	}
	cfg.UserAgent = orDefault(c.String("user-agent"), cfg.UserAgent)
	cfg.Network = orDefault(c.String("network"), cfg.Network)
	cfg.Timeout = c.Duration("timeout")
	cfg.MaxParallel = c.Int("parallel")
	cfg.MaxPerHost = c.Int("per-host")
	cfg.StartHeight = c.Int64("start-height")
	cfg.Relay = c.Bool("relay")
	cfg.Strict = c.Bool("strict")
	cfg.Retries = c.Int("retries")
	cfg.Format = c.String("format")
	cfg.MetricsOut = c.String("metrics-out")
	cfg.PromTextfile = c.String("prom-textfile")
	cfg.RecordRun = c.Bool("history")
	cfg.HistoryPath = orDefault(c.String("history-file"), cfg.HistoryPath)
	return cfg
}

// orDefault keeps def when an environment variable is set but empty.
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func runAction(c *cli.Context) error {
	if err := setupLogging(c); err != nil {
		return err
	}
	cfg := configFromFlags(c)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	magic, err := cfg.Magic()
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	m := metrics.New()
	if addr := c.String("debug-addr"); addr != "" {
		srv, err := startDebug(c.Context, addr, c.Bool("debug-public"), m)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		defer srv.Close()
		fmt.Fprintf(c.App.ErrWriter, "debug server on http://%s/debug/pprof/\n", srv.Addr())
	}
	o := orchestrator.New(orchestrator.Options{
		Timeout:     cfg.Timeout,
		MaxParallel: cfg.MaxParallel,
		MaxPerHost:  cfg.MaxPerHost,
		Handshake:   cfg.Handshake(),
		Network:     magic,
		Metrics:     m,
		Tracer:      tracing.NewTracer(otel.GetTracerProvider()),
	})

	started := time.Now()
	results := runWithRetries(c.Context, o, cfg.Peers, cfg.Retries, newBackOff())
	rec := store.NewRunRecord(started, cfg.Network, cfg.UserAgent, results)

	if err := render(c.App.Writer, cfg.Format, rec); err != nil {
		return cli.Exit(fmt.Sprintf("render: %v", err), 2)
	}
	if err := m.WriteSnapshot(cfg.MetricsOut); err != nil {
		log.Errorw("metrics snapshot failed", "path", cfg.MetricsOut, "err", err)
	}
	if err := metrics.WriteTextfile(cfg.PromTextfile, m); err != nil {
		log.Errorw("prometheus textfile failed", "path", cfg.PromTextfile, "err", err)
	}
	if cfg.RecordRun {
		if err := store.New(cfg.HistoryPath).Append(rec); err != nil {
			log.Errorw("recording run failed", "path", cfg.HistoryPath, "err", err)
		}
	}

	if err := results.Err(); err != nil {
		log.Debugw("run finished with failures", "err", err)
		return cli.Exit("", 1)
	}
	return nil
}

func startDebug(ctx context.Context, addr string, public bool, m *metrics.Metrics) (*pprofutil.Server, error) {
	h, err := metrics.Handler(m)
	if err != nil {
		return nil, err
	}
	return pprofutil.Start(ctx, addr, public, pprofutil.WithHandler("/metrics", h))
}

func historyAction(c *cli.Context) error {
	if err := setupLogging(c); err != nil {
		return err
	}
	format := c.String("format")
	if format != config.FormatText && format != config.FormatJSON {
		return cli.Exit(fmt.Sprintf("unknown format %q", format), 2)
	}
	recs, err := store.New(c.String("history-file")).Recent(c.Int("n"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("read history: %v", err), 2)
	}
	if err := renderHistory(c.App.Writer, format, recs, time.Now()); err != nil {
		return cli.Exit(fmt.Sprintf("render: %v", err), 2)
	}
	return nil
}
