package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"podiumgo/internal/logger"
)

const (
	DefaultFetchAttempts = 3
	DefaultFetchDelay    = 2 * time.Second
)

// FetchError reports a download that never produced a 2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempts", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempts", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads uploads from the object store into scratch files. The
// store may lag behind the upload that produced the URL, so non-2xx answers
// are retried a fixed number of times.
type Fetcher struct {
	client   *http.Client
	attempts int
	delay    time.Duration
	log      *slog.Logger

	// OnRetry runs before every retry wait.
	OnRetry func(attempt int, status int)

	wait func(ctx context.Context, d time.Duration) error
}

func NewFetcher(client *http.Client, attempts int, delay time.Duration, log *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	if attempts <= 0 {
		attempts = DefaultFetchAttempts
	}
	if delay < 0 {
		delay = DefaultFetchDelay
	}
	return &Fetcher{
		client:   client,
		attempts: attempts,
		delay:    delay,
		log:      logger.OrNop(log),
		wait:     sleepCtx,
	}
}

// Fetch downloads remoteURL into a handle acquired from tmp. The handle is
// acquired only once a 2xx response arrives, so a failed fetch leaves nothing
// behind.
func (f *Fetcher) Fetch(ctx context.Context, tmp Acquirer, remoteURL, originalName string) (Handle, error) {
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			if f.OnRetry != nil {
				f.OnRetry(attempt, lastStatus)
			}
			if err := f.wait(ctx, f.delay); err != nil {
				return Handle{}, err
			}
		}
		resp, err := f.get(ctx, remoteURL)
		if err != nil {
			if ctx.Err() != nil {
				return Handle{}, ctx.Err()
			}
			lastStatus, lastErr = 0, err
			f.log.Warn("fetch attempt failed", "url", remoteURL, "attempt", attempt, "error", err)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastStatus, lastErr = resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
			f.log.Warn("fetch attempt failed", "url", remoteURL, "attempt", attempt, "status", resp.StatusCode)
			continue
		}
		h, err := f.save(tmp, resp.Body, originalName)
		resp.Body.Close()
		if err != nil {
			return Handle{}, err
		}
		return h, nil
	}
	return Handle{}, &FetchError{URL: remoteURL, StatusCode: lastStatus, Attempts: f.attempts, Err: lastErr}
}

func (f *Fetcher) get(ctx context.Context, remoteURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "podiumgo-fetcher/1.0")
	return f.client.Do(req)
}

func (f *Fetcher) save(tmp Acquirer, body io.Reader, originalName string) (Handle, error) {
	h, err := tmp.Acquire(extFromName(originalName))
	if err != nil {
		return Handle{}, err
	}
	out, err := os.OpenFile(h.Path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return Handle{}, fmt.Errorf("open temp file: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return Handle{}, fmt.Errorf("write download: %w", err)
	}
	if err := out.Close(); err != nil {
		return Handle{}, fmt.Errorf("close download: %w", err)
	}
	return h, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsFetchError reports whether err came from an exhausted download.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
