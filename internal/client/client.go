// Package client is the Go HTTP client of the podium API: uploads, blob
// deletion, transcription and the analysis event streams.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"podiumgo/internal/logger"
)

// Kind selects the analysis stream to open.
type Kind string

const (
	KindDeck      Kind = "deck"
	KindRecording Kind = "recording"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// Blob is an uploaded file as reported by the server.
type Blob struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AnalyzeRequest struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	Audience string `json:"audience,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(l) }
}

// New returns a client for the server at baseURL authenticating with a
// bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// no overall timeout: analysis streams stay open for minutes
		http: &http.Client{},
		log:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload streams r to the blob store as a multipart file.
func (c *Client) Upload(ctx context.Context, fileName string, r io.Reader) (*Blob, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", fileName)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/blobs", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out struct {
		Blob Blob `json:"blob"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out.Blob, nil
}

// DeleteBlobs asks the server to drop the given blob URLs.
func (c *Client) DeleteBlobs(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	req, err := c.jsonRequest(ctx, http.MethodDelete, "/api/blobs", map[string][]string{"urls": urls})
	if err != nil {
		return 0, err
	}
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// Transcribe returns the transcript of an uploaded recording.
func (c *Client) Transcribe(ctx context.Context, url, fileName string) (string, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/api/transcribe", AnalyzeRequest{URL: url, FileName: fileName})
	if err != nil {
		return "", err
	}
	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Transcript, nil
}

// Analyze opens the analysis stream of kind and hands every event to fn in
// arrival order. It returns nil once the final frame arrives. A pre-stream
// rejection comes back as *APIError.
func (c *Client) Analyze(ctx context.Context, kind Kind, in AnalyzeRequest, fn func(Event) error) error {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/api/analyze/"+string(kind), in)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	c.log.Debug("analysis stream opened", "kind", kind, "file", in.FileName)
	return readEvents(resp.Body, fn)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
