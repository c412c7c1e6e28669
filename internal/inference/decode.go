package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/interview-coach/internal/domain"
)

var (
	errClassifierFailed = errors.New("classifier reported failure")
	errUnknownShape     = errors.New("unrecognized response shape")
	errNoFaces          = errors.New("no faces detected")
)

// rawResponse covers every response shape the classifier is known to emit:
//
//	{"emotion": {"emotion": "happy", "confidence": 0.87}}
//	{"emotion": "happy", "confidence": 0.87}
//	{"faces": [{"box": {...}, "emotion": "happy", "confidence": 0.87}]}
//	{"emotion": "error", "confidence": 0, "message": "..."}
type rawResponse struct {
	Emotion    json.RawMessage `json:"emotion"`
	Confidence *float64        `json:"confidence"`
	Message    string          `json:"message"`
	Faces      []rawFace       `json:"faces"`
}

type rawResult struct {
	Emotion    string   `json:"emotion"`
	Confidence *float64 `json:"confidence"`
	Message    string   `json:"message"`
}

type rawFace struct {
	Box struct {
		X int `json:"x"`
		Y int `json:"y"`
		W int `json:"w"`
		H int `json:"h"`
	} `json:"box"`
	Emotion    string   `json:"emotion"`
	Confidence *float64 `json:"confidence"`
}

func decodeFaces(body []byte) ([]domain.Face, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// A top-level result wins over an empty faces list.
	if len(raw.Faces) > 0 || (raw.Faces != nil && !raw.hasEmotion()) {
		faces := make([]domain.Face, 0, len(raw.Faces))
		for i, f := range raw.Faces {
			r, err := validate(f.Emotion, f.Confidence, "")
			if err != nil {
				return nil, fmt.Errorf("face %d: %w", i, err)
			}
			faces = append(faces, domain.Face{
				Box:        domain.BoundingBox{X: f.Box.X, Y: f.Box.Y, W: f.Box.W, H: f.Box.H},
				Emotion:    r.Emotion,
				Confidence: r.Confidence,
			})
		}
		return faces, nil
	}

	r, err := decodeScalar(raw)
	if err != nil {
		return nil, err
	}
	return []domain.Face{{Emotion: r.Emotion, Confidence: r.Confidence}}, nil
}

func decodeResult(body []byte) (domain.EmotionResult, error) {
	faces, err := decodeFaces(body)
	if err != nil {
		return domain.EmotionResult{}, err
	}
	if len(faces) == 0 {
		return domain.EmotionResult{}, errNoFaces
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return domain.EmotionResult{Emotion: best.Emotion, Confidence: best.Confidence}, nil
}

func (r rawResponse) hasEmotion() bool {
	return len(r.Emotion) > 0 && string(r.Emotion) != "null"
}

func decodeScalar(raw rawResponse) (domain.EmotionResult, error) {
	if !raw.hasEmotion() {
		return domain.EmotionResult{}, errUnknownShape
	}

	// Flat shape: emotion is a string label.
	var label string
	if err := json.Unmarshal(raw.Emotion, &label); err == nil {
		return validate(label, raw.Confidence, raw.Message)
	}

	var nested rawResult
	if err := json.Unmarshal(raw.Emotion, &nested); err != nil {
		return domain.EmotionResult{}, fmt.Errorf("%w: %v", errUnknownShape, err)
	}
	msg := nested.Message
	if msg == "" {
		msg = raw.Message
	}
	return validate(nested.Emotion, nested.Confidence, msg)
}

func validate(label string, confidence *float64, message string) (domain.EmotionResult, error) {
	label = strings.TrimSpace(label)
	if strings.EqualFold(label, "error") {
		if message != "" {
			return domain.EmotionResult{}, fmt.Errorf("%w: %s", errClassifierFailed, message)
		}
		return domain.EmotionResult{}, errClassifierFailed
	}
	if label == "" {
		return domain.EmotionResult{}, fmt.Errorf("%w: empty emotion label", errUnknownShape)
	}
	if confidence == nil {
		return domain.EmotionResult{}, fmt.Errorf("%w: missing confidence", errUnknownShape)
	}
	c := *confidence
	if c < 0 || c > 1 {
		return domain.EmotionResult{}, fmt.Errorf("confidence %v outside [0,1]", c)
	}
	return domain.EmotionResult{Emotion: label, Confidence: c}, nil
}
