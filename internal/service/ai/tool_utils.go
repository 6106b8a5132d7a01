package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DeckChunkSizeDefault = 2000
	DeckChunkSizeMin     = 500
	DeckChunkSizeMax     = 4000
	DeckReaderRateLimit  = 5
	DeckReaderRateWindow = time.Minute
	WebSearchHTTPTimeout = 10 * time.Second
)

// Document is a user file the coaching agent may read.
type Document struct {
	ID       string
	FileName string
	Path     string
}

type documentsContextKey struct{}
type toolSessionContextKey struct{}

type toolSession struct {
	UserID    int64
	SessionID int64
}

// WithDocuments exposes docs to the deck_reader tool for this call.
func WithDocuments(ctx context.Context, docs []Document) context.Context {
	if len(docs) == 0 {
		return ctx
	}
	return context.WithValue(ctx, documentsContextKey{}, append([]Document(nil), docs...))
}

func DocumentsFromContext(ctx context.Context) []Document {
	docs, _ := ctx.Value(documentsContextKey{}).([]Document)
	return docs
}

// WithToolSession tags tool calls with the coaching session they serve, which
// keys tool rate limits.
func WithToolSession(ctx context.Context, userID, sessionID int64) context.Context {
	if userID <= 0 || sessionID <= 0 {
		return ctx
	}
	return context.WithValue(ctx, toolSessionContextKey{}, toolSession{UserID: userID, SessionID: sessionID})
}

func ToolSessionFromContext(ctx context.Context) (int64, int64, bool) {
	meta, ok := ctx.Value(toolSessionContextKey{}).(toolSession)
	if !ok {
		return 0, 0, false
	}
	return meta.UserID, meta.SessionID, true
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	if w.httpClient == nil {
		w.httpClient = &http.Client{Timeout: WebSearchHTTPTimeout}
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "podiumgo-websearch/1.0")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}

	const maxBodySize = 512 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// chunkText returns the index-th chunk of text, clamping index and size.
func chunkText(text string, index, size int) (chunk string, clampedIndex, total int) {
	if size <= 0 || size > DeckChunkSizeMax {
		size = DeckChunkSizeDefault
	}
	if size < DeckChunkSizeMin {
		size = DeckChunkSizeMin
	}
	runes := []rune(text)
	total = (len(runes) + size - 1) / size
	if total == 0 {
		return "", 0, 0
	}
	index = max(0, min(index, total-1))
	start := index * size
	end := min(start+size, len(runes))
	return string(runes[start:end]), index, total
}
