package main

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mcass19/p2p-node-handshake/internal/orchestrator"
	"github.com/mcass19/p2p-node-handshake/internal/p2perr"
)

type runner interface {
	Run(ctx context.Context, addrs []string) orchestrator.Results
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// runWithRetries runs every address once, then re-runs the retriable
// failures for up to retries more rounds. Later attempts replace earlier
// results in place.
func runWithRetries(ctx context.Context, r runner, addrs []string, retries int, b backoff.BackOff) orchestrator.Results {
	results := r.Run(ctx, addrs)
	b = backoff.WithContext(b, ctx)
	for round := 1; round <= retries; round++ {
		var idx []int
		var again []string
		for i, res := range results {
			if res.Err != nil && p2perr.IsRetriable(res.Err) {
				idx = append(idx, i)
				again = append(again, res.Addr)
			}
		}
		if len(idx) == 0 {
			break
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		log.Infow("retrying peers", "round", round, "peers", len(again), "wait", wait.String())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return results
		case <-t.C:
		}
		for j, res := range r.Run(ctx, again) {
			results[idx[j]] = res
		}
	}
	return results
}
