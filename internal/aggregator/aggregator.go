// Package aggregator accumulates the confidence timeline of a capture session.
package aggregator

import (
	"sync"
	"time"

	"github.com/ashureev/interview-coach/internal/domain"
)

// Snapshot is a read-only view of the aggregated state.
type Snapshot struct {
	Emotion    string
	Confidence float64
	Timeline   []domain.ConfidenceSample
}

// Aggregator owns the append-only timeline and the latest display pair.
// Results only count while the aggregator is open; a sealed aggregator
// never reopens.
type Aggregator struct {
	mu       sync.Mutex
	interval time.Duration
	open     bool
	sealed   bool
	emotion  string
	conf     float64
	timeline []domain.ConfidenceSample
}

// New creates a closed aggregator whose samples last interval each.
func New(interval time.Duration) *Aggregator {
	return &Aggregator{interval: interval}
}

// Open starts accepting results. No-op once sealed.
func (a *Aggregator) Open() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sealed {
		a.open = true
	}
}

// Seal stops accepting results for good.
func (a *Aggregator) Seal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	a.sealed = true
}

// RecordResult appends one sample and overwrites the display pair.
// It reports false when the result was dropped.
func (a *Aggregator) RecordResult(r domain.EmotionResult) bool {
	pct := domain.RoundTo2(clamp(r.Confidence*100, 0, 100))

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return false
	}
	a.timeline = append(a.timeline, domain.ConfidenceSample{
		Confidence: pct,
		Duration:   a.interval.Seconds(),
	})
	a.emotion = r.Emotion
	a.conf = pct
	return true
}

// Snapshot returns a copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	tl := make([]domain.ConfidenceSample, len(a.timeline))
	copy(tl, a.timeline)
	return Snapshot{Emotion: a.emotion, Confidence: a.conf, Timeline: tl}
}

// Len returns the number of recorded samples.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timeline)
}

// OverallConfidence is the duration-weighted mean of the timeline.
func (a *Aggregator) OverallConfidence() float64 {
	return domain.OverallConfidence(a.Snapshot().Timeline)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
