package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"podiumgo/internal/client"
	"podiumgo/internal/logger"
	"podiumgo/internal/stream"
)

var (
	ErrNoPreviousUpload = errors.New("no previous upload for this review")
	ErrUnsupportedFile  = errors.New("unsupported file type: upload a PDF deck or an audio/video recording")
	ErrEmptyFile        = errors.New("file is empty")
	ErrFileTooLarge     = errors.New("file too large")
)

// Steps reported before the server stream starts.
const (
	StepUploading = "uploading"
	StepStarting  = "starting"
)

const DefaultMaxBytes int64 = 200 << 20

var (
	audioExts = []string{".mp3", ".wav", ".m4a", ".aac", ".ogg", ".oga", ".flac"}
	videoExts = []string{".mp4", ".mov", ".mkv", ".webm", ".avi", ".m4v"}
)

// API is the server surface the cache drives. *client.Client implements it.
type API interface {
	Upload(ctx context.Context, fileName string, r io.Reader) (*client.Blob, error)
	Analyze(ctx context.Context, kind client.Kind, in client.AnalyzeRequest, fn func(client.Event) error) error
	DeleteBlobs(ctx context.Context, urls []string) (int, error)
}

type Option func(*Cache)

func WithRenderer(r Renderer) Option { return func(c *Cache) { c.renderer = r } }

func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.log = logger.OrNop(l) } }

// WithOnUpdate registers a callback invoked with the displayed key and a copy
// of the view state every time the view changes.
func WithOnUpdate(fn func(key string, view State)) Option {
	return func(c *Cache) { c.onUpdate = fn }
}

// Cache holds review sessions by key. At most one run is live at a time: a
// new UploadAndAnalyze or Reanalyze supersedes the previous one, whose events
// keep accumulating into its own session only.
type Cache struct {
	api      API
	renderer Renderer
	maxBytes int64
	log      *slog.Logger
	onUpdate func(string, State)

	mu        sync.Mutex
	sessions  map[string]*Session
	running   string
	runGen    uint64
	displayed string
	live      State
	view      State
	created   []string

	wg sync.WaitGroup
}

// run identifies one analysis: its session record and the generation it was
// started under.
type run struct {
	key  string
	gen  uint64
	sess *Session
}

func New(api API, opts ...Option) *Cache {
	c := &Cache{
		api:      api,
		maxBytes: DefaultMaxBytes,
		log:      logger.Nop(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadAndAnalyze validates the local file, uploads it, registers a session
// under key (a random key when empty) and consumes the analysis stream until
// it ends. Validation failures return before the server is contacted.
func (c *Cache) UploadAndAnalyze(ctx context.Context, path, audience, key string) error {
	kind, err := c.validate(path)
	if err != nil {
		return err
	}
	if key == "" {
		key = uuid.NewString()
	}
	name := filepath.Base(path)
	r := c.begin(key, kind, audience, Source{FileName: name}, StepUploading, nil)

	f, err := os.Open(path)
	if err != nil {
		c.finish(r, err)
		return err
	}
	blob, err := c.api.Upload(ctx, name, f)
	f.Close()
	if err != nil {
		err = fmt.Errorf("upload %s: %w", name, err)
		c.finish(r, err)
		return err
	}
	c.mu.Lock()
	c.created = append(c.created, blob.URL)
	r.sess.Source.URL = blob.URL
	c.mu.Unlock()

	if c.renderer != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			thumbs, err := c.renderer.Render(ctx, path)
			if err != nil {
				c.log.Warn("render thumbnails", "file", name, "error", err)
				return
			}
			if len(thumbs) > 0 {
				c.applyThumbnails(r, thumbs)
			}
		}()
	}
	return c.stream(ctx, r)
}

// Reanalyze reruns the displayed session's upload with a new audience.
func (c *Cache) Reanalyze(ctx context.Context, audience string) error {
	c.mu.Lock()
	sess := c.sessions[c.displayed]
	if sess == nil || sess.Source.URL == "" {
		c.mu.Unlock()
		return ErrNoPreviousUpload
	}
	key, kind, src := sess.Key, sess.Kind, sess.Source
	thumbs := maps.Clone(sess.State.Thumbnails)
	c.mu.Unlock()

	r := c.begin(key, kind, audience, src, StepStarting, thumbs)
	return c.stream(ctx, r)
}

// OpenReview displays the session under key. The running session is restored
// from the live job state; any other session from its stored snapshot. It
// reports false, changing nothing, when key is unknown.
func (c *Cache) OpenReview(key string) bool {
	c.mu.Lock()
	switch sess := c.sessions[key]; {
	case sess == nil:
		c.mu.Unlock()
		return false
	case key == c.running:
		c.view = c.live.clone()
	default:
		c.view = sess.State.clone()
		if sess.Done {
			c.view.Progress.Step = stream.StepDone
		}
	}
	c.displayed = key
	view := c.view.clone()
	c.mu.Unlock()
	c.notify(key, view)
	return true
}

// View returns the displayed key and a copy of what should be rendered.
func (c *Cache) View() (string, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayed, c.view.clone()
}

// Live returns the running key and a copy of the live job state.
func (c *Cache) Live() (string, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running, c.live.clone()
}

func (c *Cache) Session(key string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[key]
	if !ok {
		return Session{}, false
	}
	return sess.snapshot(), true
}

func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.sessions))
	for k := range c.sessions {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Reset drops every session and all display state. Runs still in flight
// keep streaming but no longer touch the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.sessions = make(map[string]*Session)
	c.running = ""
	c.displayed = ""
	c.runGen++
	c.live = State{}
	c.view = State{}
	c.mu.Unlock()
}

// Close asks the server to delete every blob uploaded through this cache.
// The request runs in the background and its failure is only logged.
func (c *Cache) Close() {
	c.mu.Lock()
	urls := c.created
	c.created = nil
	c.mu.Unlock()
	if len(urls) == 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.api.DeleteBlobs(ctx, urls); err != nil {
			c.log.Debug("delete uploaded blobs", "count", len(urls), "error", err)
		}
	}()
}

// Wait blocks until background thumbnail and cleanup work has finished.
func (c *Cache) Wait() { c.wg.Wait() }

func (c *Cache) validate(path string) (client.Kind, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	kind := kindOf(path)
	if kind == "" {
		return "", ErrUnsupportedFile
	}
	if info.Size() == 0 {
		return "", ErrEmptyFile
	}
	if info.Size() > c.maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, info.Size(), c.maxBytes)
	}
	return kind, nil
}

// begin registers (or overwrites) the session under key and makes it the
// running and displayed one.
func (c *Cache) begin(key string, kind client.Kind, audience string, src Source, step string, thumbs map[int][]byte) *run {
	sess := &Session{Key: key, Kind: kind, Audience: audience, Source: src}
	sess.State.Progress.Step = step
	sess.State.mergeThumbnails(thumbs)

	c.mu.Lock()
	c.runGen++
	r := &run{key: key, gen: c.runGen, sess: sess}
	c.sessions[key] = sess
	c.running = key
	c.displayed = key
	c.live = sess.State.clone()
	c.view = sess.State.clone()
	view := c.view.clone()
	c.mu.Unlock()
	c.notify(key, view)
	return r
}

func (c *Cache) stream(ctx context.Context, r *run) error {
	c.mu.Lock()
	in := client.AnalyzeRequest{URL: r.sess.Source.URL, FileName: r.sess.Source.FileName, Audience: r.sess.Audience}
	c.mu.Unlock()
	err := c.api.Analyze(ctx, r.sess.Kind, in, func(ev client.Event) error {
		c.update(r, func(s *State) { s.apply(ev) })
		return nil
	})
	c.finish(r, err)
	return err
}

// update applies fn to the run's own session, to the live state while the
// run is current and to the view while its session is displayed.
func (c *Cache) update(r *run, fn func(*State)) {
	c.mu.Lock()
	fn(&r.sess.State)
	if r.gen == c.runGen {
		fn(&c.live)
	}
	shown := c.displayed == r.key && c.sessions[r.key] == r.sess
	var view State
	if shown {
		fn(&c.view)
		view = c.view.clone()
	}
	c.mu.Unlock()
	if shown {
		c.notify(r.key, view)
	}
}

func (c *Cache) applyThumbnails(r *run, thumbs map[int][]byte) {
	c.update(r, func(s *State) { s.mergeThumbnails(thumbs) })
}

func (c *Cache) finish(r *run, err error) {
	if err != nil {
		msg := err.Error()
		c.update(r, func(s *State) { s.Errors = append(s.Errors, msg) })
	}
	c.mu.Lock()
	if err == nil {
		r.sess.Done = true
	} else {
		r.sess.Err = err
	}
	if r.gen == c.runGen {
		c.running = ""
	}
	c.mu.Unlock()
}

func (c *Cache) notify(key string, view State) {
	if c.onUpdate != nil {
		c.onUpdate(key, view)
	}
}

func kindOf(path string) client.Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return client.KindDeck
	case slices.Contains(audioExts, ext), slices.Contains(videoExts, ext):
		return client.KindRecording
	}
	return ""
}

func isVideo(path string) bool {
	return slices.Contains(videoExts, strings.ToLower(filepath.Ext(path)))
}
