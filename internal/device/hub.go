// Package device exposes browser camera streams as acquirable devices.
package device

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"
)

// Handle is an acquired camera.
type Handle interface {
	// Snapshot renders the most recent frame at FrameWidth x FrameHeight.
	Snapshot() (*image.RGBA, error)
	// Release stops the stream. Safe to call more than once.
	Release()
}

// Hub owns the camera feeds of all connected browsers, keyed by session.
type Hub struct {
	mu      sync.Mutex
	feeds   map[string]*feed
	onFrame func(key string)
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		feeds:  make(map[string]*feed),
		logger: logger,
	}
}

// OnFrame registers a hook called after every accepted frame.
func (h *Hub) OnFrame(fn func(key string)) {
	h.mu.Lock()
	h.onFrame = fn
	h.mu.Unlock()
}

// feedFor returns the live feed for key, creating it if needed. A feed
// whose browser already left is replaced.
func (h *Hub) feedFor(key string) *feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.feedLocked(key)
}

// waitFeed is feedFor for an acquirer: the feed is registered as waited
// on before the hub lock is dropped, so a disconnect cannot discard it.
func (h *Hub) waitFeed(key string) *feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.feedLocked(key)
	f.addWaiter(1)
	return f
}

func (h *Hub) feedLocked(key string) *feed {
	if f, ok := h.feeds[key]; ok {
		if !f.isReleased() && !f.abandoned() {
			return f
		}
		f.release()
	}
	f := newFeed(key)
	h.feeds[key] = f
	return f
}

// detach drops a browser connection from f and forgets the feed once
// nothing else refers to it.
func (h *Hub) detach(key string, f *feed) {
	f.detach()

	h.mu.Lock()
	gone := f.abandoned()
	if gone && h.feeds[key] == f {
		delete(h.feeds, key)
	}
	h.mu.Unlock()

	if gone {
		f.release()
		h.logger.Debug("Camera feed dropped after disconnect", "key", key)
	}
}

func (h *Hub) remove(key string, f *feed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.feeds[key]; ok && current == f {
		delete(h.feeds, key)
	}
}

// PushFrame stores an encoded frame for key.
func (h *Hub) PushFrame(key string, data []byte) error {
	return h.pushTo(h.feedFor(key), data)
}

func (h *Hub) pushTo(f *feed, data []byte) error {
	if err := f.push(data); err != nil {
		return err
	}
	h.mu.Lock()
	hook := h.onFrame
	h.mu.Unlock()
	if hook != nil {
		hook(f.key)
	}
	return nil
}

// ReportError records a browser-side failure for key.
func (h *Hub) ReportError(key, reason string) {
	kind := KindFromReason(reason)
	h.logger.Warn("Camera error reported", "key", key, "reason", reason, "kind", kind.String())
	h.feedFor(key).fail(kind, nil)
}

// Len returns the number of live feeds.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.feeds)
}

// Acquirer resolves camera handles from a Hub.
type Acquirer struct {
	hub     *Hub
	timeout time.Duration
}

// NewAcquirer creates an acquirer that waits at most timeout for the first frame.
func NewAcquirer(hub *Hub, timeout time.Duration) *Acquirer {
	return &Acquirer{hub: hub, timeout: timeout}
}

// Acquire waits until the browser stream for key delivers a frame.
// It fails with *Error when the browser reports a failure or nothing
// arrives in time, and with ctx.Err() when ctx ends first.
func (a *Acquirer) Acquire(ctx context.Context, key string) (Handle, error) {
	f := a.hub.waitFeed(key)
	defer f.addWaiter(-1)

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case <-f.ready:
		if !f.claim() {
			a.hub.remove(key, f)
			f.release()
			return nil, &Error{Kind: NotFound, Err: ErrFeedLost}
		}
		return &handle{hub: a.hub, feed: f}, nil
	case <-f.failed:
		a.hub.remove(key, f)
		f.release()
		return nil, f.failure()
	case <-timer.C:
		a.hub.remove(key, f)
		f.release()
		return nil, &Error{Kind: NotFound, Err: errAcquireTimeout}
	case <-ctx.Done():
		a.hub.remove(key, f)
		f.release()
		return nil, ctx.Err()
	}
}

type handle struct {
	hub  *Hub
	feed *feed
	once sync.Once
}

func (h *handle) Snapshot() (*image.RGBA, error) {
	return h.feed.snapshot()
}

func (h *handle) Release() {
	h.once.Do(func() {
		h.feed.release()
		h.hub.remove(h.feed.key, h.feed)
	})
}
