package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/interview-coach/internal/device"
	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/ashureev/interview-coach/internal/inference"
)

const testInterval = 10 * time.Millisecond

func newController(t *testing.T, params domain.SessionParams, acq *fakeAcquirer, cls *fakeClassifier, sub *fakeSubmitter) *Controller {
	t.Helper()
	c, err := NewController(Config{
		Key:        "u:tab",
		Params:     params,
		Interval:   testInterval,
		Acquirer:   acq,
		Classifier: cls,
		Submitter:  sub,
		Now:        func() time.Time { return time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func TestNewControllerValidates(t *testing.T) {
	if _, err := NewController(Config{Interval: 0}); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if _, err := NewController(Config{Interval: time.Second}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}

func TestQuestionsAndNavigation(t *testing.T) {
	acq := newFakeAcquirer()
	c := newController(t, domain.SessionParams{JobRole: "Backend Engineer", Level: "Beginner"}, acq, &fakeClassifier{}, &fakeSubmitter{})

	if err := c.Next(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Next before Start = %v, want ErrNotRunning", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.End(context.Background(), "test")

	v := c.View()
	if v.Status != domain.StatusRunning || v.QuestionCount != 3 || v.QuestionIndex != 0 {
		t.Fatalf("unexpected view %+v", v)
	}
	want := "Describe your experience relevant to Backend Engineer at a basic level."
	if v.Question != want {
		t.Fatalf("question = %q, want %q", v.Question, want)
	}

	// Back at the first question stays put.
	if err := c.Back(); err != nil {
		t.Fatalf("Back: %v", err)
	}
	if c.View().QuestionIndex != 0 {
		t.Fatal("Back moved below zero")
	}

	for i := 0; i < 5; i++ {
		if err := c.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if got := c.View().QuestionIndex; got != 2 {
		t.Fatalf("index = %d, want 2", got)
	}
	_ = c.Back()
	if got := c.View().QuestionIndex; got != 1 {
		t.Fatalf("index = %d, want 1", got)
	}
}

func TestSuppliedQuestionsWin(t *testing.T) {
	c := newController(t, domain.SessionParams{Questions: []string{"Q1", " ", "Q2"}}, newFakeAcquirer(), &fakeClassifier{}, &fakeSubmitter{})
	if v := c.View(); v.QuestionCount != 2 || v.Question != "Q1" {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestSamplingAggregatesAndSubmitsOnce(t *testing.T) {
	acq := newFakeAcquirer()
	cls := &fakeClassifier{results: []domain.EmotionResult{{Emotion: "happy", Confidence: 0.87}}}
	sub := &fakeSubmitter{}
	c := newController(t, domain.SessionParams{InterviewName: "Mock 1", Level: "Intermediate"}, acq, cls, sub)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.View().Samples >= 3 })

	v := c.View()
	if v.Emotion != "happy" || v.Confidence != 87 {
		t.Fatalf("display = %s/%v, want happy/87", v.Emotion, v.Confidence)
	}

	res, err := c.End(context.Background(), ReasonUser)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if !res.Submitted || res.Redirect != DashboardPath || res.SubmitError != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if acq.handle.releases.Load() != 1 {
		t.Fatalf("releases = %d, want 1", acq.handle.releases.Load())
	}

	payloads := sub.Payloads()
	if len(payloads) != 1 {
		t.Fatalf("submissions = %d, want 1", len(payloads))
	}
	p := payloads[0]
	if p.JobRole != domain.DefaultJobRole {
		t.Fatalf("job_role = %q, want %q", p.JobRole, domain.DefaultJobRole)
	}
	if p.InterviewName != "Mock 1" || p.Level != "Intermediate" {
		t.Fatalf("optional fields = %q/%q", p.InterviewName, p.Level)
	}
	if p.Answers == nil || len(p.Answers) != 0 {
		t.Fatalf("answers = %#v, want empty non-nil", p.Answers)
	}
	if p.Timestamp != "2025-05-06T07:08:09.000Z" {
		t.Fatalf("timestamp = %q", p.Timestamp)
	}
	if len(p.ConfidenceData) != res.Samples || res.Samples < 3 {
		t.Fatalf("samples = %d, payload has %d", res.Samples, len(p.ConfidenceData))
	}
	for _, s := range p.ConfidenceData {
		if s.Confidence != 87 || s.Duration != testInterval.Seconds() {
			t.Fatalf("unexpected sample %+v", s)
		}
	}
	if res.OverallConfidence != 87 {
		t.Fatalf("overall = %v, want 87", res.OverallConfidence)
	}

	// The timeline is frozen once ended.
	time.Sleep(5 * testInterval)
	if got := c.View().Samples; got != res.Samples {
		t.Fatalf("samples grew after End: %d -> %d", res.Samples, got)
	}
	if err := c.Next(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Next after End = %v", err)
	}
}

func TestTimelineTracksWallClock(t *testing.T) {
	const interval = 30 * time.Millisecond

	tests := []struct {
		name  string
		delay time.Duration
	}{
		{"fast classifier", 0},
		{"classifier slower than interval", 2*interval + interval/2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			c, err := NewController(Config{
				Key:        "u:tab",
				Interval:   interval,
				Acquirer:   newFakeAcquirer(),
				Classifier: &fakeClassifier{delay: tc.delay},
				Submitter:  sub,
			})
			if err != nil {
				t.Fatalf("NewController: %v", err)
			}

			started := time.Now()
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			time.Sleep(10*interval + tc.delay)
			res, err := c.End(context.Background(), ReasonUser)
			if err != nil {
				t.Fatalf("End: %v", err)
			}
			elapsed := time.Since(started)

			c.mu.Lock()
			ticks := c.sampler.Ticks()
			c.mu.Unlock()

			payloads := sub.Payloads()
			if len(payloads) != 1 {
				t.Fatalf("submissions = %d, want 1", len(payloads))
			}
			var total float64
			for _, s := range payloads[0].ConfidenceData {
				total += s.Duration
			}
			recorded := time.Duration(total * float64(time.Second))

			// Cycles still classifying when End runs are the only ones lost.
			inflight := int64(tc.delay/interval) + 1
			if int64(res.Samples) > ticks || ticks-int64(res.Samples) > inflight {
				t.Fatalf("samples = %d, ticks = %d", res.Samples, ticks)
			}
			if recorded > elapsed {
				t.Fatalf("recorded %s exceeds elapsed %s", recorded, elapsed)
			}
			if lag := elapsed - recorded - tc.delay; lag > 2*interval {
				t.Fatalf("recorded %s lags elapsed %s by %s", recorded, elapsed, lag)
			}
		})
	}
}

func TestClassifierFailuresProduceNoSamples(t *testing.T) {
	acq := newFakeAcquirer()
	cls := &fakeClassifier{errs: []error{
		&inference.Error{Kind: inference.Network, Err: errBoom},
		&inference.Error{Kind: inference.Timeout, Err: errBoom},
		&inference.Error{Kind: inference.Decode, Err: errBoom},
	}}
	sub := &fakeSubmitter{}
	c := newController(t, domain.SessionParams{}, acq, cls, sub)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.View().Failures >= 3 && cls.Calls() >= 5 })
	res, _ := c.End(context.Background(), ReasonUser)

	if res.Samples > cls.Calls()-3 {
		t.Fatalf("samples = %d with %d calls and 3 failures", res.Samples, cls.Calls())
	}
	if len(sub.Payloads()) != 1 {
		t.Fatal("expected exactly one submission")
	}
}

func TestSnapshotFailureSkipsCycle(t *testing.T) {
	acq := newFakeAcquirer()
	acq.handle.snapshotErr = device.ErrFeedLost
	cls := &fakeClassifier{}
	c := newController(t, domain.SessionParams{}, acq, cls, &fakeSubmitter{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.View().Failures >= 2 })
	res, _ := c.End(context.Background(), ReasonUser)
	if cls.Calls() != 0 || res.Samples != 0 {
		t.Fatalf("classifier called %d times, samples %d", cls.Calls(), res.Samples)
	}
}

func TestLateResultsDroppedAfterEnd(t *testing.T) {
	acq := newFakeAcquirer()
	block := make(chan struct{})
	cls := &fakeClassifier{block: block}
	sub := &fakeSubmitter{}
	c := newController(t, domain.SessionParams{}, acq, cls, sub)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return cls.Calls() >= 2 })

	res, err := c.End(context.Background(), ReasonUser)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if res.Samples != 0 {
		t.Fatalf("samples at end = %d, want 0", res.Samples)
	}
	if got := c.View().Samples; got != 0 {
		t.Fatalf("late results were recorded: %d", got)
	}
	if len(sub.Payloads()[0].ConfidenceData) != 0 {
		t.Fatal("payload carried late samples")
	}
}

func TestPermissionDeniedEndsWithoutSubmit(t *testing.T) {
	acq := newFakeAcquirer()
	acq.err = &device.Error{Kind: device.PermissionDenied}
	sub := &fakeSubmitter{}
	c := newController(t, domain.SessionParams{}, acq, &fakeClassifier{}, sub)

	err := c.Start(context.Background())
	var de *device.Error
	if !errors.As(err, &de) || de.Kind != device.PermissionDenied {
		t.Fatalf("Start = %v, want PermissionDenied", err)
	}

	v := c.View()
	if v.Status != domain.StatusEnded || v.ErrorKind != "permission_denied" {
		t.Fatalf("unexpected view %+v", v)
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}

	res, err := c.End(context.Background(), ReasonUser)
	if err != nil || res.Submitted {
		t.Fatalf("End after failed start = %+v, %v", res, err)
	}
	if len(sub.Payloads()) != 0 {
		t.Fatal("submitted after acquisition failure")
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrEnded) {
		t.Fatalf("restart = %v, want ErrEnded", err)
	}
}

func TestEndDuringAcquiring(t *testing.T) {
	acq := newFakeAcquirer()
	acq.gate = make(chan struct{})
	sub := &fakeSubmitter{}
	c := newController(t, domain.SessionParams{}, acq, &fakeClassifier{}, sub)

	startErr := make(chan error, 1)
	go func() { startErr <- c.Start(context.Background()) }()
	waitFor(t, time.Second, func() bool { return c.Status() == domain.StatusAcquiring })

	res, err := c.End(context.Background(), "unmounted")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if res.Submitted || res.Reason != "unmounted" {
		t.Fatalf("unexpected result %+v", res)
	}

	select {
	case err := <-startErr:
		if !errors.Is(err, ErrEnded) {
			t.Fatalf("Start = %v, want ErrEnded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	acq.mu.Lock()
	ctxErr := acq.ctxErr
	acq.mu.Unlock()
	if !errors.Is(ctxErr, context.Canceled) {
		t.Fatalf("acquisition not cancelled: %v", ctxErr)
	}
	if len(sub.Payloads()) != 0 {
		t.Fatal("submitted after End during acquisition")
	}
	if c.Status() != domain.StatusEnded {
		t.Fatalf("status = %s", c.Status())
	}
}

func TestEndIsIdempotentUnderConcurrency(t *testing.T) {
	acq := newFakeAcquirer()
	sub := &fakeSubmitter{delay: 50 * time.Millisecond}
	c := newController(t, domain.SessionParams{JobRole: "SRE"}, acq, &fakeClassifier{}, sub)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]EndResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.End(context.Background(), ReasonUser)
			if err != nil {
				t.Errorf("End: %v", err)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	if n := len(sub.Payloads()); n != 1 {
		t.Fatalf("submissions = %d, want 1", n)
	}
	for _, r := range results[1:] {
		if r != results[0] {
			t.Fatalf("results differ: %+v vs %+v", r, results[0])
		}
	}
	if acq.handle.releases.Load() != 1 {
		t.Fatalf("releases = %d, want 1", acq.handle.releases.Load())
	}
	if sub.Payloads()[0].JobRole != "SRE" {
		t.Fatalf("job_role = %q", sub.Payloads()[0].JobRole)
	}
}

func TestSubmitFailureStillEnds(t *testing.T) {
	acq := newFakeAcquirer()
	sub := &fakeSubmitter{err: errBoom}
	c := newController(t, domain.SessionParams{}, acq, &fakeClassifier{}, sub)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := c.End(context.Background(), ReasonUser)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if res.Submitted || res.SubmitError == "" || res.Redirect != DashboardPath {
		t.Fatalf("unexpected result %+v", res)
	}
	if c.Status() != domain.StatusEnded {
		t.Fatalf("status = %s", c.Status())
	}
	if v := c.View(); v.Result == nil || v.Result.SubmitError == "" {
		t.Fatalf("view result = %+v", v.Result)
	}
}

func TestEndFromIdle(t *testing.T) {
	acq := newFakeAcquirer()
	sub := &fakeSubmitter{}
	c := newController(t, domain.SessionParams{}, acq, &fakeClassifier{}, sub)

	if _, err := c.End(context.Background(), ReasonUser); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrEnded) {
		t.Fatalf("Start after End = %v", err)
	}
	if acq.calls != 0 || len(sub.Payloads()) != 0 {
		t.Fatal("idle End touched collaborators")
	}
}

func TestStartTwice(t *testing.T) {
	c := newController(t, domain.SessionParams{}, newFakeAcquirer(), &fakeClassifier{}, &fakeSubmitter{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.End(context.Background(), "test")
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v", err)
	}
}
