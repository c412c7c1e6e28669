package domain

// CaptureStatus is the lifecycle state of a capture session.
type CaptureStatus string

const (
	StatusIdle      CaptureStatus = "idle"
	StatusAcquiring CaptureStatus = "acquiring"
	StatusRunning   CaptureStatus = "running"
	StatusEnding    CaptureStatus = "ending"
	StatusEnded     CaptureStatus = "ended"
)

// Terminal reports whether no further transitions are possible.
func (s CaptureStatus) Terminal() bool {
	return s == StatusEnded
}

// EmotionResult is one decoded classifier answer.
// Confidence is a fraction in [0,1].
type EmotionResult struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

// BoundingBox locates a face inside a frame, in pixels.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Face is a per-face classifier answer in bounding-box mode.
type Face struct {
	Box        BoundingBox `json:"box"`
	Emotion    string      `json:"emotion"`
	Confidence float64     `json:"confidence"`
}

// SessionParams are the caller-supplied parameters of an interview attempt.
type SessionParams struct {
	InterviewName string   `json:"interviewName,omitempty"`
	JobRole       string   `json:"jobRole,omitempty"`
	Level         string   `json:"level,omitempty"`
	Questions     []string `json:"questions,omitempty"`
}
