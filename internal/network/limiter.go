package network

import (
	"context"
	"net"
	"sync"
)

// HostLimiter caps concurrent connections per remote host. A nil
// *HostLimiter or a limit of zero admits everything.
type HostLimiter struct {
	mu    sync.Mutex
	max   int
	slots map[string]chan struct{}
	refs  map[string]int
}

func NewHostLimiter(maxPerHost int) *HostLimiter {
	return &HostLimiter{
		max:   maxPerHost,
		slots: make(map[string]chan struct{}),
		refs:  make(map[string]int),
	}
}

// HostKey is the host part of addr, used to group peers that share an IP
// or name. Unparseable input is its own key.
func HostKey(addr string) string {
	target, err := DialAddr(addr)
	if err != nil {
		return addr
	}
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return target
	}
	return host
}

// Acquire blocks until host has a free slot or ctx is done. The returned
// release func must be called exactly once; extra calls are ignored.
func (l *HostLimiter) Acquire(ctx context.Context, host string) (func(), error) {
	if l == nil || l.max <= 0 {
		return func() {}, nil
	}
	l.mu.Lock()
	ch := l.slots[host]
	if ch == nil {
		ch = make(chan struct{}, l.max)
		l.slots[host] = ch
	}
	l.refs[host]++
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-ch
				l.unref(host)
			})
		}, nil
	case <-ctx.Done():
		l.unref(host)
		return nil, ctx.Err()
	}
}

func (l *HostLimiter) unref(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs[host] <= 1 {
		delete(l.refs, host)
		delete(l.slots, host)
		return
	}
	l.refs[host]--
}

func (l *HostLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
