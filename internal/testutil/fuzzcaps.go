package testutil

import (
	"testing"
	"time"
)

const (
	// MaxFuzzBytes keeps fuzz inputs well under a real frame payload so a
	// single iteration stays fast.
	MaxFuzzBytes       = 1 << 16
	DefaultFuzzTimeout = 100 * time.Millisecond
)

func CapBytes(b []byte, max int) []byte {
	if max > 0 && len(b) > max {
		return b[:max]
	}
	return b
}

// WithTimeout fails t when fn does not return within d.
func WithTimeout(t testing.TB, d time.Duration, fn func()) {
	t.Helper()
	if d <= 0 {
		d = DefaultFuzzTimeout
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		t.Fatalf("timeout after %s", d)
	}
}
