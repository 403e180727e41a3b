// Package transport performs the authenticated HTTP calls against the
// collection endpoint. The rest of the toolkit depends on it only through
// "attempt delivery, report success or a classified failure".
package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"feedback-widget/internal/models"
)

// DefaultAPIURL is the hosted collection endpoint used when none is configured.
const DefaultAPIURL = "https://feedback.example.com"

const (
	headerProject   = "X-Project-ID"
	headerQueueID   = "X-Queue-ID"
	headerSignature = "X-Signature"
)

// Client talks to one collection endpoint on behalf of one project.
type Client struct {
	baseURL   string
	projectID string
	apiKey    string
	http      *http.Client
	log       zerolog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	ProjectID string
	APIKey    string
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// New builds a transport client.
func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		projectID: opts.ProjectID,
		apiKey:    opts.APIKey,
		http:      &http.Client{Timeout: timeout},
		log:       opts.Logger.With().Str("component", "transport").Logger(),
	}
}

// BaseURL returns the configured endpoint root.
func (c *Client) BaseURL() string { return c.baseURL }

type submitResponse struct {
	Success    bool   `json:"success"`
	FeedbackID string `json:"feedback_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SubmitFeedback delivers one submission. queueID, when non-empty, identifies
// the durable record being drained so the endpoint can deduplicate redelivery.
// It returns the endpoint-assigned feedback id on confirmed success.
func (c *Client) SubmitFeedback(ctx context.Context, sub models.Submission, queueID string) (string, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return "", newError(KindParse, "encode submission", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/feedback", bytes.NewReader(body))
	if err != nil {
		return "", newError(KindUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, body)
	if queueID != "" {
		req.Header.Set(headerQueueID, queueID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", newError(Classify(err), "submit feedback", err)
	}
	defer resp.Body.Close()

	parsed, err := decodeSubmitResponse(resp)
	if err != nil {
		return "", err
	}
	if !parsed.Success {
		return "", newError(KindRejected, parsed.Error, nil)
	}
	return parsed.FeedbackID, nil
}

func decodeSubmitResponse(resp *http.Response) (submitResponse, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return submitResponse{}, newError(KindParse, "read response", err)
	}
	var parsed submitResponse
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil {
		if resp.StatusCode >= 300 {
			return submitResponse{}, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode,
				Msg: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		return submitResponse{}, newError(KindParse, "decode response", jsonErr)
	}
	// A structured error body wins over the bare status code.
	if !parsed.Success && parsed.Error == "" && resp.StatusCode >= 300 {
		return submitResponse{}, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode,
			Msg: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return parsed, nil
}

// UploadScreenshot attaches the image at ref (a local file path handle) to an
// already-accepted submission. Best-effort: callers log failures and move on,
// the primary submission is never reversed.
func (c *Client) UploadScreenshot(ctx context.Context, feedbackID, ref string) error {
	data, err := os.ReadFile(ref)
	if err != nil {
		return newError(KindUnknown, "read screenshot", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(ref))
	if err != nil {
		return newError(KindUnknown, "build multipart", err)
	}
	if _, err := part.Write(data); err != nil {
		return newError(KindUnknown, "write multipart", err)
	}
	if err := writer.Close(); err != nil {
		return newError(KindUnknown, "close multipart", err)
	}

	url := fmt.Sprintf("%s/api/v1/feedback/%s/screenshot", c.baseURL, feedbackID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return newError(KindUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.sign(req, nil)

	resp, err := c.http.Do(req)
	if err != nil {
		return newError(Classify(err), "upload screenshot", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &Error{Kind: KindHTTPStatus, Status: resp.StatusCode,
			Msg: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return nil
}

// Ping probes endpoint reachability without submitting anything.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// sign authenticates the request: project id, bearer key, and an HMAC-SHA256
// of the body keyed by the API key so the endpoint can verify payload integrity.
func (c *Client) sign(req *http.Request, body []byte) {
	req.Header.Set(headerProject, c.projectID)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set(headerSignature, Signature(c.apiKey, body))
	}
}

// Signature computes the hex HMAC-SHA256 of body under key.
func Signature(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
