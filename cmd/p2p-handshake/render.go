package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mcass19/p2p-node-handshake/internal/config"
	"github.com/mcass19/p2p-node-handshake/internal/store"
)

func render(w io.Writer, format string, rec store.RunRecord) error {
	if format == config.FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PEER\tRESULT\tELAPSED\tAGENT\tHEIGHT\tSENT\tRECEIVED\tERROR")
	for _, p := range rec.Results {
		result := "ok"
		if !p.OK {
			result = p.Kind
		}
		agent, height := "-", "-"
		if p.PeerAgent != "" {
			agent = p.PeerAgent
		}
		if p.StartHeight != 0 {
			height = humanize.Comma(int64(p.StartHeight))
		}
		errText := "-"
		if p.Error != "" {
			errText = p.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Addr, result, time.Duration(p.ElapsedMS)*time.Millisecond, agent, height,
			humanize.Bytes(p.BytesSent), humanize.Bytes(p.BytesReceived), errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d/%d peers completed the handshake\n", rec.Succeeded(), len(rec.Results))
	return err
}

func renderHistory(w io.Writer, format string, recs []store.RunRecord, now time.Time) error {
	if format == config.FormatJSON {
		if recs == nil {
			recs = []store.RunRecord{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no recorded runs")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tNETWORK\tAGENT\tSUCCEEDED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\n",
			r.ID, humanize.RelTime(r.StartedAt, now, "ago", "from now"), r.Network, r.UserAgent,
			r.Succeeded(), len(r.Results))
	}
	return tw.Flush()
}
