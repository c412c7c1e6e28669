// Package inference talks to the facial-emotion classifier.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/interview-coach/internal/domain"
)

const (
	detectPath    = "/detect_emotion"
	formField     = "file"
	frameFilename = "frame.jpg"
	jpegQuality   = 85
	maxBodyBytes  = 1 << 20
)

// Client classifies single frames. One request per call, no retries.
type Client struct {
	c       *http.Client
	baseURL string
}

// NewClient creates a client for the classifier rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		c:       &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the classifier root the client posts to.
func (c *Client) BaseURL() string { return c.baseURL }

// Classify returns the dominant emotion in img.
func (c *Client) Classify(ctx context.Context, img image.Image) (domain.EmotionResult, error) {
	body, err := c.post(ctx, img)
	if err != nil {
		return domain.EmotionResult{}, err
	}
	r, err := decodeResult(body)
	if err != nil {
		return domain.EmotionResult{}, &Error{Kind: Decode, Err: err}
	}
	return r, nil
}

// ClassifyFaces returns every face the classifier located in img. A
// classifier that only reports a scalar result yields one face with an
// empty box.
func (c *Client) ClassifyFaces(ctx context.Context, img image.Image) ([]domain.Face, error) {
	body, err := c.post(ctx, img)
	if err != nil {
		return nil, err
	}
	faces, err := decodeFaces(body)
	if err != nil {
		return nil, &Error{Kind: Decode, Err: err}
	}
	return faces, nil
}

func (c *Client) post(ctx context.Context, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(formField, frameFilename)
	if err != nil {
		return nil, &Error{Kind: Network, Err: fmt.Errorf("create form file: %w", err)}
	}
	if err := jpeg.Encode(part, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, &Error{Kind: Network, Err: fmt.Errorf("encode frame: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return nil, &Error{Kind: Network, Err: fmt.Errorf("close multipart: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+detectPath, &buf)
	if err != nil {
		return nil, &Error{Kind: Network, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.c.Do(req)
	if err != nil {
		return nil, &Error{Kind: classifyTransport(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Kind: classifyTransport(ctx, err), Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: Network, Err: fmt.Errorf("detect_emotion %s: %s", resp.Status, strings.TrimSpace(string(body)))}
	}
	return body, nil
}

func classifyTransport(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	return Network
}
