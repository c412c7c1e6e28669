package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/interview-coach/internal/domain"
)

const interviewPath = "/interview/"

var errNotSuccess = errors.New("backend did not report success")

// SubmitResponse is the backend's answer to a submission.
type SubmitResponse struct {
	Status            string            `json:"status"`
	Message           string            `json:"message"`
	OverallConfidence float64           `json:"overall_confidence"`
	Data              *domain.Interview `json:"data,omitempty"`
}

// ListResponse is the backend's answer to a listing.
type ListResponse struct {
	Status     string              `json:"status"`
	Message    string              `json:"message,omitempty"`
	Interviews []*domain.Interview `json:"interviews"`
}

// Client talks to a remote /interview/ backend on behalf of one token.
type Client struct {
	c       *http.Client
	baseURL string
	token   string
}

// NewClient creates a client authenticating with token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		c:       &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Submit implements Submitter.
func (c *Client) Submit(ctx context.Context, payload domain.InterviewPayload) error {
	_, err := c.SubmitInterview(ctx, payload)
	return err
}

// SubmitInterview posts payload and returns the decoded response.
func (c *Client) SubmitInterview(ctx context.Context, payload domain.InterviewPayload) (*SubmitResponse, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: "submit", Err: fmt.Errorf("encode payload: %w", err)}
	}

	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, bytes.NewReader(b), &out, "submit"); err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, &Error{Op: "submit", Err: fmt.Errorf("%w: %s", errNotSuccess, out.Message)}
	}
	return &out, nil
}

// List returns the caller's stored interviews.
func (c *Client) List(ctx context.Context) ([]*domain.Interview, error) {
	var out ListResponse
	if err := c.do(ctx, http.MethodGet, nil, &out, "list"); err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, &Error{Op: "list", Err: fmt.Errorf("%w: %s", errNotSuccess, out.Message)}
	}
	return out.Interviews, nil
}

func (c *Client) do(ctx context.Context, method string, body io.Reader, out any, op string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+interviewPath, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.c.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
