package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/and161185/face-gate/internal/errs"
)

// Client is the HTTP implementation of Recognizer. Transport failures and
// 5xx responses are retried with exponential backoff; whatever survives the
// retries surfaces as ErrRecognitionUnavailable.
type Client struct {
	baseURL    string
	apiKey     string
	httpc      *http.Client
	maxRetries uint64
}

var _ Recognizer = (*Client)(nil)

// NewClient constructs the recognition API client. timeout bounds one HTTP
// call; maxRetries counts additional attempts after the first.
func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpc:      &http.Client{Timeout: timeout},
		maxRetries: uint64(maxRetries),
	}
}

type subjectRequest struct {
	SubjectID string `json:"subjectId"`
	Image     string `json:"image"` // base64-encoded capture
}

type identifyResponse struct {
	Recognized bool    `json:"recognized"`
	Confidence float64 `json:"confidence"`
	SubjectID  string  `json:"subjectId"`
}

// Identify matches the image against the enrolled subject. A 404 from the
// API means the subject is unknown and maps to a non-match, not an error.
func (c *Client) Identify(ctx context.Context, userID string, image []byte) (Match, error) {
	var out identifyResponse
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		resp, err := c.post(ctx, "/identify", userID, image)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(&out)
		case resp.StatusCode == http.StatusNotFound:
			out = identifyResponse{}
			return nil
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("identify: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("identify: status %d", resp.StatusCode)
		}
	})
	if err != nil {
		return Match{}, fmt.Errorf("%w: %v", errs.ErrRecognitionUnavailable, err)
	}
	return Match{Recognized: out.Recognized, Confidence: out.Confidence, SubjectID: out.SubjectID}, nil
}

// Enroll registers the image as the subject's reference face.
func (c *Client) Enroll(ctx context.Context, userID string, image []byte) error {
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		resp, err := c.post(ctx, "/enroll", userID, image)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusCreated:
			return nil
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("enroll: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("enroll: status %d", resp.StatusCode)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrRecognitionUnavailable, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, userID string, image []byte) (*http.Response, error) {
	body, err := json.Marshal(subjectRequest{
		SubjectID: userID,
		Image:     base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	return c.httpc.Do(req)
}

func (c *Client) backoff() retry.Backoff {
	return retry.WithMaxRetries(c.maxRetries, retry.NewExponential(200*time.Millisecond))
}
