package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/interview-coach/internal/device"
	"github.com/ashureev/interview-coach/internal/domain"
)

type fakeHandle struct {
	releases    atomic.Int64
	snapshotErr error
}

func (h *fakeHandle) Snapshot() (*image.RGBA, error) {
	if h.releases.Load() > 0 {
		return nil, device.ErrReleased
	}
	if h.snapshotErr != nil {
		return nil, h.snapshotErr
	}
	return image.NewRGBA(image.Rect(0, 0, device.FrameWidth, device.FrameHeight)), nil
}

func (h *fakeHandle) Release() { h.releases.Add(1) }

// fakeAcquirer returns handle immediately, fails with err, or blocks
// until gate is closed or ctx ends.
type fakeAcquirer struct {
	handle *fakeHandle
	err    error
	gate   chan struct{}

	mu     sync.Mutex
	calls  int
	ctxErr error
}

func newFakeAcquirer() *fakeAcquirer {
	return &fakeAcquirer{handle: &fakeHandle{}}
}

func (a *fakeAcquirer) Acquire(ctx context.Context, key string) (device.Handle, error) {
	a.mu.Lock()
	a.calls++
	gate := a.gate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			a.mu.Lock()
			a.ctxErr = ctx.Err()
			a.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.handle, nil
}

// fakeClassifier returns results in order, then repeats the last one.
type fakeClassifier struct {
	mu      sync.Mutex
	results []domain.EmotionResult
	errs    []error
	calls   int
	block   chan struct{}
	delay   time.Duration
}

func (c *fakeClassifier) Classify(ctx context.Context, img image.Image) (domain.EmotionResult, error) {
	c.mu.Lock()
	i := c.calls
	c.calls++
	block := c.block
	delay := c.delay
	c.mu.Unlock()

	if block != nil {
		<-block
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if i < len(c.errs) && c.errs[i] != nil {
		return domain.EmotionResult{}, c.errs[i]
	}
	if len(c.results) == 0 {
		return domain.EmotionResult{Emotion: "neutral", Confidence: 0.5}, nil
	}
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	return c.results[i], nil
}

func (c *fakeClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []domain.InterviewPayload
	err      error
	delay    time.Duration
}

func (s *fakeSubmitter) Submit(ctx context.Context, p domain.InterviewPayload) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return s.err
}

func (s *fakeSubmitter) Payloads() []domain.InterviewPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.InterviewPayload, len(s.payloads))
	copy(out, s.payloads)
	return out
}

var errBoom = errors.New("boom")

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
