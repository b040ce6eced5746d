package session

import (
	"context"
	"sync"
	"time"

	"github.com/quillpress/quillctl/pkg/tokenx"
)

const (
	defaultRefreshInterval = 5 * time.Minute
	refreshCallTimeout     = 30 * time.Second
)

// Refresher periodically checks the current access token while the session
// is authenticated and refreshes it once it expires. The Manager starts it
// on entering the authenticated state and signals it down on every
// transition out, so no timer outlives its session.
type Refresher struct {
	m        *Manager
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newRefresher(m *Manager, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &Refresher{m: m, interval: interval}
}

// Start launches the background check loop. Starting a running refresher is
// a no-op.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.run(r.stopCh, r.doneCh)
	r.m.logger.Debug("auto refresh started", "interval", r.interval)
}

// signal asks the loop to exit without waiting for it. Safe to call from
// the loop's own goroutine, which is exactly what happens when a background
// refresh fails and the session transitions out of authenticated.
func (r *Refresher) signal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
}

// Stop shuts the loop down and waits for it to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if r.running {
		r.running = false
		close(r.stopCh)
	}
	done := r.doneCh
	r.mu.Unlock()

	if done != nil {
		<-done
	}
	r.m.logger.Debug("auto refresh stopped")
}

func (r *Refresher) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-stopCh:
			return
		}
	}
}

// tick runs one expiry check. Refresh failure ends the session via the
// Manager, which in turn signals this loop to stop.
func (r *Refresher) tick() {
	snap := r.m.Snapshot()
	if !snap.Authenticated || snap.Tokens == nil {
		return
	}
	if !tokenx.IsExpiredAt(snap.Tokens.AccessToken, r.m.now()) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshCallTimeout)
	defer cancel()

	if err := r.m.Refresh(ctx); err != nil {
		r.m.logger.Warn("background refresh failed, session ended", "error", err)
	}
}
