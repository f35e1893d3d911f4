package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcass19/p2p-node-handshake/internal/network"
	"github.com/mcass19/p2p-node-handshake/internal/orchestrator"
	"github.com/mcass19/p2p-node-handshake/internal/p2perr"
	"github.com/mcass19/p2p-node-handshake/internal/proto"
)

func TestAppendAndList(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "nested", "history.jsonl"))

	recs, err := st.List()
	require.NoError(t, err)
	assert.Empty(t, recs)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.Append(RunRecord{Network: "mainnet", UserAgent: "/ua:" + string(rune('a'+i)) + "/"}))
	}
	recs, err = st.List()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "/ua:a/", recs[0].UserAgent)
	for _, r := range recs {
		_, err := uuid.Parse(r.ID)
		assert.NoError(t, err, "generated id %q", r.ID)
		assert.False(t, r.StartedAt.IsZero())
	}

	recent, err := st.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "/ua:c/", recent[0].UserAgent)
	assert.Equal(t, "/ua:b/", recent[1].UserAgent)

	all, err := st.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	st := New(path)
	require.NoError(t, st.Append(RunRecord{ID: "first"}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, st.Append(RunRecord{ID: "second"}))
	recs, err := st.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "first", recs[0].ID)
	assert.Equal(t, "second", recs[1].ID)
}

func TestNewRunRecord(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	results := orchestrator.Results{
		{
			Addr:        "1.2.3.4:8333",
			Elapsed:     1500 * time.Millisecond,
			PeerVersion: &proto.Version{ProtocolVersion: 70016, UserAgent: "/Satoshi:26.0.0/", StartHeight: 840000},
			Stats:       network.Stats{BytesSent: 150, BytesReceived: 200},
		},
		{
			Addr: "5.6.7.8:8333",
			Err:  p2perr.WithAddr(p2perr.New(p2perr.KindTimeout, "handshake", context.DeadlineExceeded), "5.6.7.8:8333"),
		},
	}
	rec := NewRunRecord(started, "mainnet", "/Satoshi:25.0.0/", results)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, time.UTC, rec.StartedAt.Location())
	assert.Equal(t, 1, rec.Succeeded())
	require.Len(t, rec.Results, 2)
	assert.Equal(t, PeerRecord{
		Addr:          "1.2.3.4:8333",
		OK:            true,
		ElapsedMS:     1500,
		PeerAgent:     "/Satoshi:26.0.0/",
		PeerVersion:   70016,
		StartHeight:   840000,
		BytesSent:     150,
		BytesReceived: 200,
	}, rec.Results[0])
	assert.False(t, rec.Results[1].OK)
	assert.Equal(t, "TimeoutError", rec.Results[1].Kind)
	assert.Contains(t, rec.Results[1].Error, "5.6.7.8:8333")
}
