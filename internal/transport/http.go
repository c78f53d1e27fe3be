package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

// HTTP endpoints, relative to the backend base URL.
const (
	PathUploadChunk = "/api/upload_audio_base64"
	PathFinalize    = "/api/finish_upload"
	PathQuery       = "/v1/query_meetings"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 64 << 10
)

// ErrFinalizeRejected is returned by [HTTPClient.Finalize] when the backend
// answers 2xx but does not report success.
var ErrFinalizeRejected = errors.New("transport: backend did not finalize the session")

// RemoteError is a non-2xx answer from the backend.
type RemoteError struct {
	Status int
	Detail string
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("HTTP Error %d: %s", e.Status, e.Detail)
}

// Timestamp is a note creation time. The backend sends Unix seconds as a JSON
// number; RFC 3339 strings are accepted too.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("transport: parse timestamp: %w", err)
		}
		t.Time = parsed
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("transport: parse timestamp: %w", err)
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler, writing Unix seconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	secs := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return strconv.AppendFloat(nil, secs, 'f', -1, 64), nil
}

// Note is the meeting note returned when a session is finalized.
type Note struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Transcript string    `json:"transcript"`
	Timestamp  Timestamp `json:"timestamp"`
}

// HTTPClient talks to the backend's request/response endpoints.
type HTTPClient struct {
	base   string
	client *http.Client
}

// HTTPOption configures an [HTTPClient].
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = hc }
}

// NewHTTPClient creates an [HTTPClient] for the backend at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		base:   baseURL,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend base URL.
func (c *HTTPClient) BaseURL() string { return c.base }

// UploadChunk posts one chunk.
func (c *HTTPClient) UploadChunk(ctx context.Context, ch Chunk) error {
	if err := c.postJSON(ctx, PathUploadChunk, ch.upload(), nil); err != nil {
		return fmt.Errorf("transport: upload chunk %d: %w", ch.Index, err)
	}
	return nil
}

type finalizeRequest struct {
	SessionID string `json:"session_id"`
}

type finalizeResponse struct {
	Success bool  `json:"success"`
	Note    *Note `json:"note"`
}

// Finalize closes the session on the backend and returns the resulting note.
func (c *HTTPClient) Finalize(ctx context.Context, sessionID string) (*Note, error) {
	var resp finalizeResponse
	if err := c.postJSON(ctx, PathFinalize, finalizeRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, fmt.Errorf("transport: finalize: %w", err)
	}
	if !resp.Success || resp.Note == nil {
		return nil, ErrFinalizeRejected
	}
	return resp.Note, nil
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Answer string `json:"answer"`
}

// Query asks a question about past meetings and returns the complete answer.
func (c *HTTPClient) Query(ctx context.Context, text string) (string, error) {
	var resp queryResponse
	if err := c.postJSON(ctx, PathQuery, queryRequest{Query: text}, &resp); err != nil {
		return "", fmt.Errorf("transport: query: %w", err)
	}
	return resp.Answer, nil
}

// Ping checks that the backend answers HTTP at all. Any status below 500
// counts as reachable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base, nil)
	if err != nil {
		return fmt.Errorf("transport: ping: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("transport: ping: %w", remoteError(resp.StatusCode, nil))
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(c.base, path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return remoteError(resp.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// remoteError extracts a detail from a FastAPI-style {"detail": ...} or
// Flask-style {"error": ...} body.
func remoteError(status int, body []byte) *RemoteError {
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	detail := DefaultErrorDetail
	if json.Unmarshal(body, &payload) == nil {
		switch d := payload.Detail.(type) {
		case string:
			if d != "" {
				detail = d
			}
		case nil:
			if payload.Error != "" {
				detail = payload.Error
			}
		default:
			if b, err := json.Marshal(d); err == nil {
				detail = string(b)
			}
		}
	}
	return &RemoteError{Status: status, Detail: detail}
}
