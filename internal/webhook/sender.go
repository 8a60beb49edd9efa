package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Outbound header names. Custom subscription headers never override
// these.
const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderDeliveryID = "X-Webhook-Delivery-Id"
	HeaderEvent      = "X-Webhook-Event"
)

const (
	// DefaultTimeout bounds a production delivery attempt.
	DefaultTimeout = 30 * time.Second
	// TestTimeout bounds a one-off connectivity test.
	TestTimeout = 10 * time.Second

	// maxCapturedBody limits how much of a response body is stored on
	// the delivery record.
	maxCapturedBody = 1000
)

// SendResult is the observed outcome of one HTTP POST.
type SendResult struct {
	StatusCode int
	Body       string
	Duration   time.Duration
}

// Ok reports whether the response status was 2xx.
func (r *SendResult) Ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender performs signed HTTP POSTs with a bounded timeout.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given per-request timeout.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Post sends the body to the URL with the given headers. A non-nil
// error means no HTTP response was received (network failure or
// timeout); any received response, 2xx or not, comes back as a result.
func (s *Sender) Post(ctx context.Context, url string, body []byte, headers map[string]string) (*SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	captured, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))

	return &SendResult{
		StatusCode: resp.StatusCode,
		Body:       string(captured),
		Duration:   time.Since(start),
	}, nil
}
