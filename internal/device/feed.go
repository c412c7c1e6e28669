package device

import (
	"bytes"
	"fmt"
	"image"
	// Registered decoders for browser frames.
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"golang.org/x/image/draw"
)

// Frame dimensions every snapshot is rendered at.
const (
	FrameWidth  = 640
	FrameHeight = 480
)

// feed is the server-side end of one browser camera stream.
type feed struct {
	key string

	mu       sync.Mutex
	latest   []byte
	frames   uint64
	attached int
	waiters  int
	owned    bool
	lost     bool
	released bool
	failErr  *Error

	ready     chan struct{}
	readyOnce sync.Once
	failed    chan struct{}
	failOnce  sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
}

func newFeed(key string) *feed {
	return &feed{
		key:    key,
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

func (f *feed) push(data []byte) error {
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", errInvalidFrame, err)
	}

	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return ErrReleased
	}
	f.latest = data
	f.frames++
	f.lost = false
	f.mu.Unlock()

	f.readyOnce.Do(func() { close(f.ready) })
	return nil
}

func (f *feed) fail(kind Kind, err error) {
	f.mu.Lock()
	if f.failErr == nil {
		f.failErr = &Error{Kind: kind, Err: err}
	}
	f.mu.Unlock()
	f.failOnce.Do(func() { close(f.failed) })
}

func (f *feed) failure() *Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failErr
}

func (f *feed) attach() {
	f.mu.Lock()
	f.attached++
	f.mu.Unlock()
}

func (f *feed) detach() {
	f.mu.Lock()
	f.attached--
	if f.attached <= 0 && f.frames > 0 {
		f.lost = true
	}
	f.mu.Unlock()
}

// abandoned reports whether the browser left after streaming and nothing
// holds or waits for the feed.
func (f *feed) abandoned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lost && f.attached <= 0 && !f.owned && f.waiters == 0
}

func (f *feed) addWaiter(n int) {
	f.mu.Lock()
	f.waiters += n
	f.mu.Unlock()
}

// claim hands the feed to a handle. It fails when the stream that made
// the feed ready is gone.
func (f *feed) claim() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lost || f.released {
		return false
	}
	f.owned = true
	return true
}

func (f *feed) release() {
	f.mu.Lock()
	f.released = true
	f.latest = nil
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stop) })
}

func (f *feed) isReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *feed) snapshot() (*image.RGBA, error) {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return nil, ErrReleased
	}
	if f.lost || f.latest == nil {
		f.mu.Unlock()
		return nil, ErrFeedLost
	}
	data := f.latest
	f.mu.Unlock()

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return render(src), nil
}

// render scales src onto a FrameWidth x FrameHeight canvas.
func render(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	if src.Bounds().Dx() == FrameWidth && src.Bounds().Dy() == FrameHeight {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
