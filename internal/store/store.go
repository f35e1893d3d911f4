// Package store keeps an append-only JSONL history of handshake runs.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/mcass19/p2p-node-handshake/internal/orchestrator"
	"github.com/mcass19/p2p-node-handshake/internal/p2perr"
)

var log = logging.Logger("p2p/store")

const maxScanSize = 4 << 20

// PeerRecord is the persisted form of one orchestrator.PeerResult.
type PeerRecord struct {
	Addr          string `json:"addr"`
	OK            bool   `json:"ok"`
	Kind          string `json:"kind,omitempty"`
	Error         string `json:"error,omitempty"`
	ElapsedMS     int64  `json:"elapsed_ms"`
	PeerAgent     string `json:"peer_agent,omitempty"`
	PeerVersion   int32  `json:"peer_version,omitempty"`
	StartHeight   int32  `json:"start_height,omitempty"`
	PingsAnswered int    `json:"pings_answered,omitempty"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

type RunRecord struct {
	ID        string       `json:"id"`
	StartedAt time.Time    `json:"started_at"`
	Network   string       `json:"network"`
	UserAgent string       `json:"user_agent"`
	Results   []PeerRecord `json:"results"`
}

func (r RunRecord) Succeeded() int {
	n := 0
	for _, p := range r.Results {
		if p.OK {
			n++
		}
	}
	return n
}

// NewRunRecord converts orchestrator results into a record with a fresh ID.
func NewRunRecord(startedAt time.Time, network, userAgent string, results orchestrator.Results) RunRecord {
	rec := RunRecord{
		ID:        uuid.NewString(),
		StartedAt: startedAt.UTC(),
		Network:   network,
		UserAgent: userAgent,
		Results:   make([]PeerRecord, 0, len(results)),
	}
	for _, r := range results {
		p := PeerRecord{
			Addr:          r.Addr,
			OK:            r.OK(),
			ElapsedMS:     r.Elapsed.Milliseconds(),
			PingsAnswered: r.PingsAnswered,
			BytesSent:     r.Stats.BytesSent,
			BytesReceived: r.Stats.BytesReceived,
		}
		if r.Err != nil {
			p.Kind = p2perr.KindOf(r.Err).String()
			p.Error = r.Err.Error()
		}
		if v := r.PeerVersion; v != nil {
			p.PeerAgent = v.UserAgent
			p.PeerVersion = v.ProtocolVersion
			p.StartHeight = v.StartHeight
		}
		rec.Results = append(rec.Results, p)
	}
	return rec
}

type Store struct {
	path string
}

func New(path string) *Store {
	_ = os.MkdirAll(filepath.Dir(path), 0700)
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanSize)
	return sc
}

func syncFile(f *os.File) error {
	if f == nil {
		return nil
	}
	return f.Sync()
}

// Append writes rec as one line and syncs the file. A missing ID or start
// time is filled in.
func (s *Store) Append(rec RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return err
	}
	return syncFile(f)
}

// List returns every readable record, oldest first. Corrupt lines are
// skipped.
func (s *Store) List() ([]RunRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []RunRecord
	sc := newScanner(f)
	line := 0
	for sc.Scan() {
		line++
		var rec RunRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			log.Warnw("skipping corrupt history line", "path", s.path, "line", line, "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// Recent returns at most n records, newest first.
func (s *Store) Recent(n int) ([]RunRecord, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]RunRecord, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
