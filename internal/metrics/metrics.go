package metrics

import (
	"encoding/json"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is one finished peer handshake.
type Outcome struct {
	Addr          string        `json:"addr"`
	Success       bool          `json:"success"`
	Kind          string        `json:"kind,omitempty"`
	Elapsed       time.Duration `json:"elapsed_ns"`
	PingsAnswered int           `json:"pings_answered"`
	Ignored       int           `json:"ignored"`
	At            time.Time     `json:"at"`
}

type Snapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Handshakes  HandshakeMetrics  `json:"handshakes"`
	Messages    MessageMetrics    `json:"messages"`
	FailByKind  map[string]uint64 `json:"fail_by_kind"`
	Recent      []Outcome         `json:"recent"`
}

type HandshakeMetrics struct {
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

type MessageMetrics struct {
	SentByCommand     map[string]uint64 `json:"sent_by_command"`
	ReceivedByCommand map[string]uint64 `json:"received_by_command"`
	PingsAnswered     uint64            `json:"pings_answered"`
	Ignored           uint64            `json:"ignored"`
}

// Metrics is safe for concurrent use by many peer goroutines. All methods
// accept a nil receiver and do nothing.
type Metrics struct {
	started       atomic.Uint64
	completed     atomic.Uint64
	failed        atomic.Uint64
	pingsAnswered atomic.Uint64
	ignored       atomic.Uint64

	mu         sync.Mutex
	sent       map[string]uint64
	received   map[string]uint64
	failByKind map[string]uint64

	recent *Recent
}

func New() *Metrics {
	return &Metrics{
		sent:       make(map[string]uint64),
		received:   make(map[string]uint64),
		failByKind: make(map[string]uint64),
		recent:     NewRecent(64),
	}
}

func (m *Metrics) Recent() *Recent {
	if m == nil {
		return nil
	}
	return m.recent
}

func (m *Metrics) HandshakeStarted() {
	if m == nil {
		return
	}
	m.started.Add(1)
}

// Record accounts for a finished handshake.
func (m *Metrics) Record(o Outcome) {
	if m == nil {
		return
	}
	if o.At.IsZero() {
		o.At = time.Now().UTC()
	}
	if o.Success {
		m.completed.Add(1)
	} else {
		m.failed.Add(1)
		m.mu.Lock()
		m.failByKind[o.Kind]++
		m.mu.Unlock()
	}
	m.pingsAnswered.Add(uint64(o.PingsAnswered))
	m.ignored.Add(uint64(o.Ignored))
	m.recent.Add(o)
}

// MessageSent counts an outbound frame by command.
func (m *Metrics) MessageSent(cmd string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sent[cmd]++
	m.mu.Unlock()
}

// MessageReceived counts an inbound frame by command.
func (m *Metrics) MessageReceived(cmd string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.received[cmd]++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{GeneratedAt: time.Now().UTC()}
	}
	recent := []Outcome{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	m.mu.Lock()
	sent := maps.Clone(m.sent)
	received := maps.Clone(m.received)
	failByKind := maps.Clone(m.failByKind)
	m.mu.Unlock()
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Handshakes: HandshakeMetrics{
			Started:   m.started.Load(),
			Completed: m.completed.Load(),
			Failed:    m.failed.Load(),
		},
		Messages: MessageMetrics{
			SentByCommand:     sent,
			ReceivedByCommand: received,
			PingsAnswered:     m.pingsAnswered.Load(),
			Ignored:           m.ignored.Load(),
		},
		FailByKind: failByKind,
		Recent:     recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Recent keeps the last outcomes, oldest first.
type Recent struct {
	mu   sync.Mutex
	cap  int
	list []Outcome
}

func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = 64
	}
	return &Recent{cap: capacity}
}

func (r *Recent) Add(o Outcome) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = o
		return
	}
	r.list = append(r.list, o)
}

func (r *Recent) List() []Outcome {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.list))
	copy(out, r.list)
	return out
}
