// Package capture runs the capture-and-aggregation loop of an interview
// attempt: acquire the camera, sample frames on a fixed cadence, classify
// them, aggregate the confidence timeline and submit it exactly once.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/interview-coach/internal/aggregator"
	"github.com/ashureev/interview-coach/internal/device"
	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/ashureev/interview-coach/internal/inference"
	"github.com/ashureev/interview-coach/internal/persist"
	"github.com/ashureev/interview-coach/internal/questions"
	"github.com/ashureev/interview-coach/internal/sampler"
	"github.com/google/uuid"
)

// DashboardPath is where the browser goes once a session has ended.
const DashboardPath = "/dashboard"

const submitTimeout = 15 * time.Second

var (
	// ErrNotRunning is returned by navigation outside the Running state.
	ErrNotRunning = errors.New("session is not running")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrEnded is returned by Start when End won the race with acquisition.
	ErrEnded = errors.New("session ended")
)

// Acquirer hands out camera handles.
type Acquirer interface {
	Acquire(ctx context.Context, key string) (device.Handle, error)
}

// Classifier labels one frame.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (domain.EmotionResult, error)
}

// Config wires a Controller.
type Config struct {
	Key        string
	Params     domain.SessionParams
	Interval   time.Duration
	Acquirer   Acquirer
	Classifier Classifier
	Submitter  persist.Submitter
	Logger     *slog.Logger
	Now        func() time.Time
}

// EndResult describes how a session finished.
type EndResult struct {
	Reason            string  `json:"reason"`
	Submitted         bool    `json:"submitted"`
	SubmitError       string  `json:"submitError,omitempty"`
	Samples           int     `json:"samples"`
	OverallConfidence float64 `json:"overallConfidence"`
	Redirect          string  `json:"redirect"`
}

// Controller owns one interview attempt.
type Controller struct {
	id         string
	key        string
	params     domain.SessionParams
	questions  []string
	interval   time.Duration
	acquirer   Acquirer
	classifier Classifier
	submitter  persist.Submitter
	agg        *aggregator.Aggregator
	logger     *slog.Logger
	now        func() time.Time

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu            sync.Mutex
	status        domain.CaptureStatus
	index         int
	handle        device.Handle
	sampler       *sampler.Sampler
	cancelAcquire context.CancelFunc
	startErr      error
	startedAt     time.Time
	endedAt       time.Time
	result        *EndResult
	done          chan struct{}
	acquired      chan struct{}

	failures atomic.Int64
	dropped  atomic.Int64
}

// NewController creates an Idle controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("capture interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Acquirer == nil || cfg.Classifier == nil || cfg.Submitter == nil {
		return nil, errors.New("capture controller requires acquirer, classifier and submitter")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:         id,
		key:        cfg.Key,
		params:     cfg.Params,
		questions:  questions.Resolve(cfg.Params),
		interval:   cfg.Interval,
		acquirer:   cfg.Acquirer,
		classifier: cfg.Classifier,
		submitter:  cfg.Submitter,
		agg:        aggregator.New(cfg.Interval),
		logger:     logger.With("session", id, "key", cfg.Key),
		now:        now,
		runCtx:     runCtx,
		cancelRun:  cancel,
		status:     domain.StatusIdle,
		done:       make(chan struct{}),
		acquired:   make(chan struct{}),
	}
	return c, nil
}

// ID returns the controller's session id.
func (c *Controller) ID() string { return c.id }

// Key returns the session slot the controller occupies.
func (c *Controller) Key() string { return c.key }

// Done is closed once the controller reaches Ended.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Status returns the current lifecycle state.
func (c *Controller) Status() domain.CaptureStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start acquires the camera and begins sampling. It blocks until the
// camera is ready or acquisition fails. On failure the controller ends
// without submitting and the acquisition error is returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != domain.StatusIdle {
		status := c.status
		c.mu.Unlock()
		if status == domain.StatusEnded || status == domain.StatusEnding {
			return ErrEnded
		}
		return ErrAlreadyStarted
	}
	acqCtx, cancel := context.WithCancel(ctx)
	c.cancelAcquire = cancel
	c.status = domain.StatusAcquiring
	c.mu.Unlock()
	// Runs last, after any unowned handle has been released.
	defer close(c.acquired)
	defer cancel()

	c.logger.Info("Acquiring camera")
	h, err := c.acquirer.Acquire(acqCtx, c.key)
	if err != nil {
		if !c.finishWithoutSubmit("acquire_failed", err) {
			return ErrEnded
		}
		return err
	}

	// The handle is released on every path that does not hand it to Running.
	owned := false
	defer func() {
		if !owned {
			h.Release()
		}
	}()

	s, err := sampler.New(c.interval, c.cycle, c.logger)
	if err != nil {
		if !c.finishWithoutSubmit("sampler_failed", err) {
			return ErrEnded
		}
		return err
	}

	c.mu.Lock()
	if c.status != domain.StatusAcquiring {
		c.mu.Unlock()
		return ErrEnded
	}
	c.handle = h
	c.sampler = s
	c.status = domain.StatusRunning
	c.startedAt = c.now()
	c.agg.Open()
	s.Start(c.runCtx)
	owned = true
	c.mu.Unlock()

	c.logger.Info("Capture running", "interval", c.interval, "questions", len(c.questions))
	return nil
}

// finishWithoutSubmit moves Acquiring straight to Ended. It reports false
// when End got there first.
func (c *Controller) finishWithoutSubmit(reason string, cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.StatusAcquiring {
		return false
	}
	c.startErr = cause
	c.endLocked(&EndResult{Reason: reason, Redirect: DashboardPath})

	var de *device.Error
	if errors.As(cause, &de) {
		c.logger.Warn("Camera acquisition failed", "kind", de.Kind.String(), "error", cause)
	} else {
		c.logger.Warn("Capture start failed", "error", cause)
	}
	return true
}

func (c *Controller) endLocked(result *EndResult) {
	c.status = domain.StatusEnded
	c.result = result
	c.endedAt = c.now()
	c.cancelRun()
	close(c.done)
}

// cycle is one sampling pass: snapshot, classify, record.
func (c *Controller) cycle(ctx context.Context, tick int64) {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		return
	}

	frame, err := h.Snapshot()
	if err != nil {
		c.failures.Add(1)
		c.logger.Debug("Snapshot failed", "tick", tick, "error", err)
		return
	}

	res, err := c.classifier.Classify(ctx, frame)
	if err != nil {
		c.failures.Add(1)
		var ie *inference.Error
		if errors.As(err, &ie) {
			c.logger.Warn("Classification failed", "tick", tick, "kind", ie.Kind.String(), "error", err)
		} else {
			c.logger.Warn("Classification failed", "tick", tick, "error", err)
		}
		return
	}

	if !c.agg.RecordResult(res) {
		c.dropped.Add(1)
		c.logger.Debug("Late result dropped", "tick", tick)
	}
}

// Next advances to the next question, staying on the last one.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.StatusRunning {
		return ErrNotRunning
	}
	if c.index < len(c.questions)-1 {
		c.index++
	}
	return nil
}

// Back returns to the previous question, staying on the first one.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.StatusRunning {
		return ErrNotRunning
	}
	if c.index > 0 {
		c.index--
	}
	return nil
}

// End stops the session. From Running it stops sampling, releases the
// camera, seals the aggregator and submits the timeline exactly once.
// A failed submission is logged and reported in the result; End itself
// still succeeds. Concurrent and repeated calls return the first result.
func (c *Controller) End(ctx context.Context, reason string) (EndResult, error) {
	c.mu.Lock()
	switch c.status {
	case domain.StatusIdle:
		c.endLocked(&EndResult{Reason: reason, Redirect: DashboardPath})
		r := *c.result
		c.mu.Unlock()
		return r, nil
	case domain.StatusAcquiring:
		c.cancelAcquire()
		c.endLocked(&EndResult{Reason: reason, Redirect: DashboardPath})
		r := *c.result
		c.mu.Unlock()
		c.logger.Info("Session ended during acquisition", "reason", reason)
		// Let the acquirer unwind so the camera slot is free on return.
		select {
		case <-c.acquired:
		case <-ctx.Done():
			return r, ctx.Err()
		}
		return r, nil
	case domain.StatusEnding, domain.StatusEnded:
		c.mu.Unlock()
		select {
		case <-c.done:
		case <-ctx.Done():
			return EndResult{}, ctx.Err()
		}
		c.mu.Lock()
		r := *c.result
		c.mu.Unlock()
		return r, nil
	}

	c.status = domain.StatusEnding
	c.agg.Seal()
	s := c.sampler
	h := c.handle
	c.mu.Unlock()

	s.Stop()
	h.Release()

	snap := c.agg.Snapshot()
	payload := c.payload(snap.Timeline)

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()

	result := &EndResult{
		Reason:            reason,
		Samples:           len(snap.Timeline),
		OverallConfidence: domain.OverallConfidence(snap.Timeline),
		Redirect:          DashboardPath,
	}
	if err := c.submitter.Submit(submitCtx, payload); err != nil {
		result.SubmitError = err.Error()
		c.logger.Error("Interview submission failed", "error", err, "samples", result.Samples)
	} else {
		result.Submitted = true
		c.logger.Info("Interview submitted", "samples", result.Samples, "overall_confidence", result.OverallConfidence)
	}

	c.mu.Lock()
	c.endLocked(result)
	r := *c.result
	c.mu.Unlock()
	return r, nil
}

func (c *Controller) payload(timeline []domain.ConfidenceSample) domain.InterviewPayload {
	role := strings.TrimSpace(c.params.JobRole)
	if role == "" {
		role = domain.DefaultJobRole
	}
	return domain.InterviewPayload{
		JobRole:        role,
		ConfidenceData: timeline,
		Answers:        []string{},
		Timestamp:      domain.FormatTimestamp(c.now()),
		InterviewName:  c.params.InterviewName,
		Level:          c.params.Level,
	}
}

// Wait blocks until in-flight sampling cycles have returned.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	s := c.sampler
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Wait(ctx)
}
