// Package persist hands finished interviews to the persistence backend.
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/google/uuid"
)

// Submitter accepts one finished interview.
type Submitter interface {
	Submit(ctx context.Context, payload domain.InterviewPayload) error
}

// Error is a failed submission.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("persist %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewInterview validates payload and builds the stored record for userID.
func NewInterview(userID string, payload domain.InterviewPayload, now time.Time) (*domain.Interview, error) {
	ts, err := payload.Validate()
	if err != nil {
		return nil, err
	}
	data := payload.ConfidenceData
	if data == nil {
		data = []domain.ConfidenceSample{}
	}
	answers := payload.Answers
	if answers == nil {
		answers = []string{}
	}
	return &domain.Interview{
		ID:                uuid.NewString(),
		UserID:            userID,
		JobRole:           payload.JobRole,
		InterviewName:     payload.InterviewName,
		Level:             payload.Level,
		ConfidenceData:    data,
		Answers:           answers,
		OverallConfidence: domain.OverallConfidence(data),
		Timestamp:         ts,
		CreatedAt:         now,
	}, nil
}

// InterviewSaver stores interview records.
type InterviewSaver interface {
	SaveInterview(ctx context.Context, iv *domain.Interview) error
}

// RepoSubmitter writes submissions straight to the local store.
type RepoSubmitter struct {
	repo   InterviewSaver
	userID string
	now    func() time.Time
}

// NewRepoSubmitter creates a submitter storing interviews for userID.
func NewRepoSubmitter(repo InterviewSaver, userID string) *RepoSubmitter {
	return &RepoSubmitter{repo: repo, userID: userID, now: time.Now}
}

// Submit implements Submitter.
func (s *RepoSubmitter) Submit(ctx context.Context, payload domain.InterviewPayload) error {
	iv, err := NewInterview(s.userID, payload, s.now())
	if err != nil {
		return &Error{Op: "validate", Err: err}
	}
	if err := s.repo.SaveInterview(ctx, iv); err != nil {
		return &Error{Op: "save", Err: err}
	}
	return nil
}
