package client

import (
	"context"
	"sync"
	"time"
)

// poller repeatedly fetches full session state while the realtime channel is
// down. Re-fetching a whole snapshot is the only safe recovery: across a
// reconnect no ordering holds between frames of the old and new connection.
type poller struct {
	interval time.Duration
	fn       func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newPoller(interval time.Duration, fn func(ctx context.Context)) *poller {
	return &poller{interval: interval, fn: fn}
}

func (p *poller) start() {
	if p.fn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return // already running
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
