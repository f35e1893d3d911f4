package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "p2p"

var (
	descStarted = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "handshake", "started_total"),
		"Handshakes attempted.", nil, nil)
	descCompleted = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "handshake", "completed_total"),
		"Handshakes that reached verack.", nil, nil)
	descFailed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "handshake", "failures_total"),
		"Failed handshakes by error kind.", []string{"kind"}, nil)
	descSent = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "messages", "sent_total"),
		"Frames sent by command.", []string{"command"}, nil)
	descReceived = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "messages", "received_total"),
		"Frames received by command.", []string{"command"}, nil)
	descPings = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "messages", "pings_answered_total"),
		"Pings answered with a pong during handshakes.", nil, nil)
	descIgnored = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "messages", "ignored_total"),
		"Messages outside the handshake subset that were ignored.", nil, nil)
)

// Collector exposes a Metrics through the prometheus registry. Values are
// read from a fresh snapshot on every scrape.
type Collector struct {
	m *Metrics
}

func NewCollector(m *Metrics) *Collector {
	return &Collector{m: m}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descStarted
	ch <- descCompleted
	ch <- descFailed
	ch <- descSent
	ch <- descReceived
	ch <- descPings
	ch <- descIgnored
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(descStarted, snap.Handshakes.Started)
	counter(descCompleted, snap.Handshakes.Completed)
	for kind, n := range snap.FailByKind {
		counter(descFailed, n, kind)
	}
	for cmd, n := range snap.Messages.SentByCommand {
		counter(descSent, n, cmd)
	}
	for cmd, n := range snap.Messages.ReceivedByCommand {
		counter(descReceived, n, cmd)
	}
	counter(descPings, snap.Messages.PingsAnswered)
	counter(descIgnored, snap.Messages.Ignored)
}

// Handler serves m for scraping while a sweep runs.
func Handler(m *Metrics) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// WriteTextfile writes m in the prometheus text format, for the node
// exporter textfile collector. An empty path is a no-op.
func WriteTextfile(path string, m *Metrics) error {
	if path == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
