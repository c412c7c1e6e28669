package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultJobRole is submitted when a session carries no job role.
const DefaultJobRole = "Interview"

// ConfidenceSample says a confidence percentage held for Duration seconds.
type ConfidenceSample struct {
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
}

// InterviewPayload is the body of POST /interview/.
type InterviewPayload struct {
	JobRole        string             `json:"job_role"`
	ConfidenceData []ConfidenceSample `json:"confidence_data"`
	Answers        []string           `json:"answers"`
	Timestamp      string             `json:"timestamp"`
	InterviewName  string             `json:"interview_name,omitempty"`
	Level          string             `json:"level,omitempty"`
}

// Interview is a stored interview summary.
type Interview struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	JobRole           string             `json:"job_role"`
	InterviewName     string             `json:"interview_name,omitempty"`
	Level             string             `json:"level,omitempty"`
	ConfidenceData    []ConfidenceSample `json:"confidence_data"`
	Answers           []string           `json:"answers"`
	OverallConfidence float64            `json:"overall_confidence"`
	Timestamp         time.Time          `json:"timestamp"`
	CreatedAt         time.Time          `json:"created_at"`
}

// TimestampLayout matches JavaScript's Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t as an ISO-8601 UTC timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

var errEmptyJobRole = errors.New("job_role is required")

// Validate checks the payload shape and returns the parsed timestamp.
func (p *InterviewPayload) Validate() (time.Time, error) {
	if strings.TrimSpace(p.JobRole) == "" {
		return time.Time{}, errEmptyJobRole
	}
	for i, s := range p.ConfidenceData {
		if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 100 {
			return time.Time{}, fmt.Errorf("confidence_data[%d]: confidence %v outside [0,100]", i, s.Confidence)
		}
		if math.IsNaN(s.Duration) || s.Duration < 0 {
			return time.Time{}, fmt.Errorf("confidence_data[%d]: negative duration", i)
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, nil
}

// OverallConfidence is the duration-weighted mean of the samples,
// rounded to two decimals. Zero when there is no duration.
func OverallConfidence(samples []ConfidenceSample) float64 {
	var weighted, total float64
	for _, s := range samples {
		weighted += s.Confidence * s.Duration
		total += s.Duration
	}
	if total <= 0 {
		return 0
	}
	return RoundTo2(weighted / total)
}

// RoundTo2 rounds v to two decimal places.
func RoundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
