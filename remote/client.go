// Package remote is the HTTP client for the research database service that
// permanently stores captured items and ended sessions. The service is an
// external collaborator; fieldtrail consumes it at its JSON interface only.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazyhaar/fieldtrail/model"
)

// Error wraps a failure of the remote service: unreachable, or a rejected
// request. Status is 0 when no HTTP response was received.
type Error struct {
	Op     string
	Status int
	Cause  error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote: %s rejected with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("remote: %s failed: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// EventRecord is the payload for filing a single captured item.
type EventRecord struct {
	FileName      string `json:"file_name"`
	FileType      string `json:"file_type"`
	ExtractedText string `json:"extracted_text"`
	SourceURL     string `json:"source_url,omitempty"`
}

// Record is the stored row the service returns.
type Record struct {
	ID            int64  `json:"id"`
	FileName      string `json:"file_name"`
	FileType      string `json:"file_type"`
	ExtractedText string `json:"extracted_text,omitempty"`
	Status        string `json:"status,omitempty"`
}

// Client talks to the research database service.
type Client struct {
	base   string
	client *http.Client
}

// NewClient creates a client for the service at base (e.g.
// "http://localhost:8000"). If httpClient is nil, a default client with a
// 5s timeout is used.
func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{base: base, client: httpClient}
}

// CreateEventRecord files one captured item and returns the stored record.
func (c *Client) CreateEventRecord(ctx context.Context, rec *EventRecord) (*Record, error) {
	var out Record
	if err := c.post(ctx, "create record", "/api/records", rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveSessionRecord files an ended session and returns the stored record id.
// It implements trail.SessionSink.
func (c *Client) SaveSessionRecord(ctx context.Context, rec *model.SessionRecord) (int64, error) {
	var out Record
	if err := c.post(ctx, "save session", "/api/sessions", rec, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &Error{Op: op, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: op, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &Error{Op: op, Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Op: op, Cause: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
