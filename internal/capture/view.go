package capture

import (
	"errors"
	"time"

	"github.com/ashureev/interview-coach/internal/device"
	"github.com/ashureev/interview-coach/internal/domain"
)

// View is a read-only rendering snapshot of a controller.
type View struct {
	ID            string               `json:"id"`
	Status        domain.CaptureStatus `json:"status"`
	InterviewName string               `json:"interviewName,omitempty"`
	JobRole       string               `json:"jobRole,omitempty"`
	Level         string               `json:"level,omitempty"`
	Question      string               `json:"question"`
	QuestionIndex int                  `json:"questionIndex"`
	QuestionCount int                  `json:"questionCount"`
	Emotion       string               `json:"emotion"`
	Confidence    float64              `json:"confidence"`
	Samples       int                  `json:"samples"`
	Failures      int64                `json:"failures"`
	StartedAt     *time.Time           `json:"startedAt,omitempty"`
	EndedAt       *time.Time           `json:"endedAt,omitempty"`
	Error         string               `json:"error,omitempty"`
	ErrorKind     string               `json:"errorKind,omitempty"`
	Result        *EndResult           `json:"result,omitempty"`
}

// View returns a snapshot for rendering.
func (c *Controller) View() View {
	snap := c.agg.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		ID:            c.id,
		Status:        c.status,
		InterviewName: c.params.InterviewName,
		JobRole:       c.params.JobRole,
		Level:         c.params.Level,
		QuestionIndex: c.index,
		QuestionCount: len(c.questions),
		Emotion:       snap.Emotion,
		Confidence:    snap.Confidence,
		Samples:       len(snap.Timeline),
		Failures:      c.failures.Load(),
	}
	if len(c.questions) > 0 {
		v.Question = c.questions[c.index]
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		v.StartedAt = &t
	}
	if !c.endedAt.IsZero() {
		t := c.endedAt
		v.EndedAt = &t
	}
	if c.startErr != nil {
		v.Error = c.startErr.Error()
		var de *device.Error
		if errors.As(c.startErr, &de) {
			v.ErrorKind = de.Kind.String()
		}
	}
	if c.result != nil {
		r := *c.result
		v.Result = &r
	}
	return v
}
