package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"podiumgo/internal/auth"
	"podiumgo/internal/blobstore"
	"podiumgo/internal/config"
	"podiumgo/internal/limiter"
	"podiumgo/internal/media"
	"podiumgo/internal/models"
	"podiumgo/internal/service/coach"
	"podiumgo/internal/storage"
	"podiumgo/internal/stream"
	"podiumgo/internal/worker"
)

type fakeMedia struct {
	store *media.Store

	mu         sync.Mutex
	pages      []media.SlidePage
	transcript string
	err        error
	acquired   []media.Handle
}

func (f *fakeMedia) NewScope() *media.Scope { return f.store.NewScope() }

func (f *fakeMedia) Slides(ctx context.Context, scope *media.Scope, remoteURL, fileName string, report media.ProgressFunc) ([]media.SlidePage, error) {
	report(media.StageDownloading, 0, 0)
	if err := f.scratch(scope); err != nil {
		return nil, err
	}
	report(media.StageExtracting, 0, 0)
	return f.pages, nil
}

func (f *fakeMedia) Transcript(ctx context.Context, scope *media.Scope, remoteURL, fileName string, report media.ProgressFunc) (string, error) {
	if report != nil {
		report(media.StageDownloading, 0, 0)
	}
	if err := f.scratch(scope); err != nil {
		return "", err
	}
	if report != nil {
		report(media.StageTranscribing, 0, 2)
		report(media.StageTranscribing, 1, 2)
		report(media.StageTranscribing, 2, 2)
	}
	return f.transcript, nil
}

// scratch acquires a temp file the way a real download would, then fails
// when an error is configured.
func (f *fakeMedia) scratch(scope *media.Scope) error {
	h, err := scope.Acquire(".bin")
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.acquired = append(f.acquired, h)
	err = f.err
	f.mu.Unlock()
	return err
}

type fakeAnalyst struct {
	failSlide int
}

func (a *fakeAnalyst) ReviewSlide(ctx context.Context, audience string, page media.SlidePage, total int) (*coach.SlideFeedback, error) {
	if page.Number == a.failSlide {
		return nil, errors.New("model timeout")
	}
	return &coach.SlideFeedback{Slide: page.Number, Headline: "slide " + page.Text, Score: 7}, nil
}

func (a *fakeAnalyst) SummarizeDeck(ctx context.Context, audience string, slides []coach.SlideFeedback) (*coach.DeckSummary, error) {
	return &coach.DeckSummary{Overall: fmt.Sprintf("%d slides for %s", len(slides), audience), Score: 8}, nil
}

func (a *fakeAnalyst) ReviewRecording(ctx context.Context, audience, transcript string) (*coach.RecordingFeedback, error) {
	return &coach.RecordingFeedback{Summary: "solid", Transcript: transcript, Score: 6}, nil
}

type fakeChat struct{}

func (fakeChat) Reply(ctx context.Context, userID, sessionID int64, content string, onDelta func(string) error) (*models.Message, error) {
	for _, tok := range []string{"Tell ", "me ", "more."} {
		if err := onDelta(tok); err != nil {
			return nil, err
		}
	}
	return &models.Message{SessionID: sessionID, Role: models.RoleAssistant, Content: "Tell me more."}, nil
}

type testServer struct {
	router *gin.Engine
	db     *sql.DB
	media  *fakeMedia
	an     *fakeAnalyst
	ffmpeg bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tmp, err := media.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("temp store: %v", err)
	}
	blobs, err := blobstore.New(db, blobstore.Config{
		Dir:     t.TempDir(),
		BaseURL: "http://podium.test",
		TTL:     time.Hour,
		Key:     "0123456789abcdef0123456789abcdef",
	}, nil)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	jobs := worker.NewDispatcher(worker.Config{MinWorkers: 1, MaxWorkers: 3, QueueSize: 16}, nil)
	t.Cleanup(jobs.Close)

	ts := &testServer{
		db:    db,
		media: &fakeMedia{store: tmp, transcript: "hello and welcome"},
		an:    &fakeAnalyst{},
	}
	ts.media.pages = []media.SlidePage{{Number: 1, Text: "intro"}, {Number: 2, Text: "problem"}, {Number: 3, Text: "ask"}}

	h := NewHandler(Deps{
		DB:      db,
		Coach:   coach.NewService(db, nil),
		Auth:    auth.NewService(db, nil, time.Hour),
		Blobs:   blobs,
		Media:   ts.media,
		Analyst: ts.an,
		Chat:    fakeChat{},
		Jobs:    jobs,
		Quota:   limiter.New(limiter.NewMemoryStore(), time.Hour),
		Plans: map[string]config.PlanLimits{
			"free": {Analyses: 3, Transcriptions: 1},
		},
		FFmpegReady:      func() bool { return ts.ffmpeg },
		MaxUploadBytes:   1 << 20,
		UserStorageBytes: 2 << 20,
	})
	ts.router = gin.New()
	h.RegisterRoutes(ts.router)
	return ts
}

func TestDeckStreamEmitsUnitsThenSummary(t *testing.T) {
	ts := newTestServer(t)
	headers := registerAndLogin(t, ts.router, "deck@example.com")
	deckURL := uploadedURL(t, ts.router, headers, "pitch.pdf", pdfBytes)

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/analyze/deck", map[string]string{
		"url": deckURL, "file_name": "pitch.pdf", "audience": "investors",
	}, headers)
	assertStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}
	events := parseStream(t, rec.Body.String())

	var steps []string
	units, completed := 0, 0
	for i, ev := range events {
		switch ev.Type {
		case stream.TypeStatus:
			var st stream.Status
			decodeJSON(t, ev.Data, &st)
			steps = append(steps, st.Step)
			if st.Step == stream.StepAnalyzing && st.CompletedUnits != nil {
				if *st.TotalUnits != 3 {
					t.Fatalf("total units %d", *st.TotalUnits)
				}
				if *st.CompletedUnits != completed {
					t.Fatalf("completed %d, want %d", *st.CompletedUnits, completed)
				}
			}
		case stream.TypeUnit:
			units++
			completed++
			if next := events[i+1]; next.Type != stream.TypeStatus {
				t.Fatalf("unit not followed by progress: %+v", next)
			}
		case stream.TypeSummary:
			if units != 3 {
				t.Fatalf("summary before all units: %d", units)
			}
			var sum struct {
				Overall  string `json:"overall"`
				ReviewID string `json:"review_id"`
			}
			decodeJSON(t, ev.Data, &sum)
			if sum.Overall != "3 slides for investors" || sum.ReviewID == "" {
				t.Fatalf("summary %+v", sum)
			}
		case stream.TypeError:
			t.Fatalf("unexpected error event %s", ev.Data)
		}
	}
	if steps[0] != stream.StepDownloading || steps[1] != stream.StepExtracting || steps[len(steps)-1] != stream.StepDone {
		t.Fatalf("steps %v", steps)
	}
	assertScratchReleased(t, ts.media)

	list := doJSONRequest(t, ts.router, http.MethodGet, "/api/reviews", nil, headers)
	assertStatus(t, list, http.StatusOK)
	var body struct {
		Reviews []models.Review `json:"reviews"`
	}
	decodeJSON(t, list.Body.Bytes(), &body)
	if len(body.Reviews) != 1 || body.Reviews[0].Kind != models.ReviewDeck {
		t.Fatalf("reviews %+v", body.Reviews)
	}
}

func TestDeckSlideFailureIsReportedInBand(t *testing.T) {
	ts := newTestServer(t)
	ts.an.failSlide = 2
	headers := registerAndLogin(t, ts.router, "partial@example.com")
	deckURL := uploadedURL(t, ts.router, headers, "pitch.pdf", pdfBytes)

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/analyze/deck", map[string]string{
		"url": deckURL, "file_name": "pitch.pdf",
	}, headers)
	assertStatus(t, rec, http.StatusOK)
	events := parseStream(t, rec.Body.String())

	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	if counts[stream.TypeUnit] != 2 || counts[stream.TypeError] != 1 || counts[stream.TypeSummary] != 1 {
		t.Fatalf("event counts %v", counts)
	}
}

func TestRecordingFetchFailureEndsStreamCleanly(t *testing.T) {
	ts := newTestServer(t)
	ts.media.err = &media.FetchError{URL: "http://podium.test/blobs/x", StatusCode: 503, Attempts: 3}
	headers := registerAndLogin(t, ts.router, "rec@example.com")
	talkURL := uploadedURL(t, ts.router, headers, "talk.mp3", mp3Bytes)

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/analyze/recording", map[string]string{
		"url": talkURL, "file_name": "talk.mp3",
	}, headers)
	assertStatus(t, rec, http.StatusOK)
	events := parseStream(t, rec.Body.String())

	last := events[len(events)-1]
	if last.Type != stream.TypeError {
		t.Fatalf("last event before sentinel = %+v", last)
	}
	var msg stream.ErrorData
	decodeJSON(t, last.Data, &msg)
	if msg.Message != stream.UserMessage(ts.media.err) || strings.Contains(msg.Message, "503") {
		t.Fatalf("error message %q", msg.Message)
	}
	for _, ev := range events {
		if ev.Type == stream.TypeSummary {
			t.Fatalf("summary emitted after failure")
		}
	}
	assertScratchReleased(t, ts.media)
}

func TestRecordingStreamReportsChunkProgress(t *testing.T) {
	ts := newTestServer(t)
	headers := registerAndLogin(t, ts.router, "chunks@example.com")
	talkURL := uploadedURL(t, ts.router, headers, "talk.mp3", mp3Bytes)

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/analyze/recording", map[string]string{
		"url": talkURL, "file_name": "talk.mp3", "audience": "students",
	}, headers)
	assertStatus(t, rec, http.StatusOK)
	events := parseStream(t, rec.Body.String())

	var progress []int
	var summary coach.RecordingFeedback
	for _, ev := range events {
		switch ev.Type {
		case stream.TypeStatus:
			var st stream.Status
			decodeJSON(t, ev.Data, &st)
			if st.Step == stream.StepTranscribing && st.CompletedUnits != nil {
				progress = append(progress, *st.CompletedUnits)
			}
		case stream.TypeSummary:
			decodeJSON(t, ev.Data, &summary)
		}
	}
	if fmt.Sprint(progress) != "[0 1 2]" {
		t.Fatalf("transcription progress %v", progress)
	}
	if summary.Transcript != "hello and welcome" {
		t.Fatalf("summary %+v", summary)
	}
}

func TestAnalyzeChecksRunBeforeStreamOpens(t *testing.T) {
	ts := newTestServer(t)
	headers := registerAndLogin(t, ts.router, "quota@example.com")
	deck := map[string]string{"url": uploadedURL(t, ts.router, headers, "pitch.pdf", pdfBytes), "file_name": "pitch.pdf"}
	other := registerAndLogin(t, ts.router, "other@example.com")
	foreign := uploadedURL(t, ts.router, other, "theirs.pdf", pdfBytes)

	cases := []struct {
		name    string
		path    string
		body    map[string]string
		headers map[string]string
		status  int
	}{
		{"no credential", "/api/analyze/deck", deck, nil, http.StatusUnauthorized},
		{"missing url", "/api/analyze/deck", map[string]string{"file_name": "a.pdf"}, headers, http.StatusBadRequest},
		{"relative url", "/api/analyze/recording", map[string]string{"url": "/blobs/x", "file_name": "a.mp3"}, headers, http.StatusBadRequest},
		{"deck not pdf", "/api/analyze/deck", map[string]string{"url": "http://x/y", "file_name": "a.pptx"}, headers, http.StatusUnsupportedMediaType},
		{"foreign upload", "/api/analyze/deck", map[string]string{"url": foreign, "file_name": "theirs.pdf"}, headers, http.StatusNotFound},
		{"private host", "/api/analyze/deck", map[string]string{"url": "http://10.0.0.5/private.pdf", "file_name": "private.pdf"}, headers, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSONRequest(t, ts.router, http.MethodPost, tc.path, tc.body, tc.headers)
			assertStatus(t, rec, tc.status)
			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
				t.Fatalf("rejection was not plain json: %q", rec.Header().Get("Content-Type"))
			}
		})
	}

	for i := 0; i < 3; i++ {
		assertStatus(t, doJSONRequest(t, ts.router, http.MethodPost, "/api/analyze/deck", deck, headers), http.StatusOK)
	}
	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/analyze/deck", deck, headers)
	assertStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestTranscribeMapsFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"fetch", &media.FetchError{URL: "u", StatusCode: 500, Attempts: 3}, http.StatusBadGateway},
		{"transcode", fmt.Errorf("%w: bad codec", media.ErrTranscode), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.media.err = tc.err
			headers := registerAndLogin(t, ts.router, "tx@example.com")
			talkURL := uploadedURL(t, ts.router, headers, "talk.mp3", mp3Bytes)
			rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/transcribe", map[string]string{
				"url": talkURL, "file_name": "talk.mp3",
			}, headers)
			assertStatus(t, rec, tc.status)
			var body map[string]string
			decodeJSON(t, rec.Body.Bytes(), &body)
			if tc.err == nil && body["transcript"] != "hello and welcome" {
				t.Fatalf("body %v", body)
			}
			if tc.err != nil && body["error"] != stream.UserMessage(tc.err) {
				t.Fatalf("error %q", body["error"])
			}
			assertScratchReleased(t, ts.media)
		})
	}
}

func TestAnalysisOnlyFetchesOwnUploads(t *testing.T) {
	ts := newTestServer(t)
	headers := registerAndLogin(t, ts.router, "owner@example.com")
	other := registerAndLogin(t, ts.router, "stranger@example.com")
	foreign := uploadedURL(t, ts.router, other, "talk.mp3", mp3Bytes)
	own := uploadedURL(t, ts.router, headers, "mine.mp3", mp3Bytes)
	rehosted := "http://10.0.0.5" + strings.TrimPrefix(own, "http://podium.test")

	sources := []struct {
		name string
		url  string
	}{
		{"metadata address", "http://169.254.169.254/latest/meta-data/audio.mp3"},
		{"own token on a private host", rehosted},
		{"forged blob token", "http://podium.test/blobs/not-a-token"},
		{"another user's upload", foreign},
	}
	for _, src := range sources {
		for _, path := range []string{"/api/transcribe", "/api/analyze/recording"} {
			t.Run(src.name+" "+path, func(t *testing.T) {
				rec := doJSONRequest(t, ts.router, http.MethodPost, path, map[string]string{
					"url": src.url, "file_name": "talk.mp3",
				}, headers)
				assertStatus(t, rec, http.StatusNotFound)
				if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
					t.Fatalf("rejection was not plain json: %q", rec.Header().Get("Content-Type"))
				}
			})
		}
	}
	ts.media.mu.Lock()
	fetched := len(ts.media.acquired)
	ts.media.mu.Unlock()
	if fetched != 0 {
		t.Fatalf("media pipeline ran %d times for rejected sources", fetched)
	}

	// rejected requests consume no quota: the single transcription still works
	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/transcribe", map[string]string{
		"url": own, "file_name": "mine.mp3",
	}, headers)
	assertStatus(t, rec, http.StatusOK)
}

func TestUploadSniffsAndDeletes(t *testing.T) {
	ts := newTestServer(t)
	headers := registerAndLogin(t, ts.router, "blob@example.com")

	rec := uploadFile(t, ts.router, headers, "notes.pdf", []byte("just some text"))
	assertStatus(t, rec, http.StatusUnsupportedMediaType)

	rec = uploadFile(t, ts.router, headers, "huge.pdf", append([]byte("%PDF-1.4\n"), make([]byte, 1<<20)...))
	assertStatus(t, rec, http.StatusRequestEntityTooLarge)

	rec = uploadFile(t, ts.router, headers, "deck.pdf", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n"))
	assertStatus(t, rec, http.StatusCreated)
	var body struct {
		Blob blobstore.Object `json:"blob"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Blob.MimeType != "application/pdf" || !strings.HasPrefix(body.Blob.URL, "http://podium.test/blobs/") {
		t.Fatalf("blob %+v", body.Blob)
	}

	other := registerAndLogin(t, ts.router, "other@example.com")
	del := doJSONRequest(t, ts.router, http.MethodDelete, "/api/blobs", map[string]any{"urls": []string{body.Blob.URL}}, other)
	assertStatus(t, del, http.StatusOK)
	if !strings.Contains(del.Body.String(), `"deleted":0`) {
		t.Fatalf("foreign delete: %s", del.Body.String())
	}
	del = doJSONRequest(t, ts.router, http.MethodDelete, "/api/blobs", map[string]any{"urls": []string{body.Blob.URL, "garbage"}}, headers)
	assertStatus(t, del, http.StatusOK)
	if !strings.Contains(del.Body.String(), `"deleted":1`) {
		t.Fatalf("owner delete: %s", del.Body.String())
	}
}

func TestCoachConversationStreamsTokens(t *testing.T) {
	ts := newTestServer(t)
	headers := registerAndLogin(t, ts.router, "coach@example.com")

	create := doJSONRequest(t, ts.router, http.MethodPost, "/api/coach/sessions", map[string]string{"audience": "hiring panel"}, headers)
	assertStatus(t, create, http.StatusCreated)
	var session models.Session
	decodeJSON(t, create.Body.Bytes(), &session)

	missing := doJSONRequest(t, ts.router, http.MethodPost, "/api/coach/sessions/9999/messages", map[string]string{"content": "hi"}, headers)
	assertStatus(t, missing, http.StatusNotFound)

	rec := doJSONRequest(t, ts.router, http.MethodPost, fmt.Sprintf("/api/coach/sessions/%d/messages", session.ID),
		map[string]string{"content": "How did I do?"}, headers)
	assertStatus(t, rec, http.StatusOK)
	var reply strings.Builder
	for _, ev := range parseStream(t, rec.Body.String()) {
		if ev.Type == stream.TypeToken {
			var tok map[string]string
			decodeJSON(t, ev.Data, &tok)
			reply.WriteString(tok["content"])
		}
	}
	if reply.String() != "Tell me more." {
		t.Fatalf("streamed reply %q", reply.String())
	}

	del := doJSONRequest(t, ts.router, http.MethodDelete, fmt.Sprintf("/api/coach/sessions/%d", session.ID), nil, headers)
	assertStatus(t, del, http.StatusNoContent)
}

func TestUserLifecycleAndQuotaStatus(t *testing.T) {
	ts := newTestServer(t)
	dup := doJSONRequest(t, ts.router, http.MethodPost, "/api/users/register", map[string]string{
		"email": "me@example.com", "password": "password123",
	}, nil)
	assertStatus(t, dup, http.StatusCreated)
	dup = doJSONRequest(t, ts.router, http.MethodPost, "/api/users/register", map[string]string{
		"email": "me@example.com", "password": "password123",
	}, nil)
	assertStatus(t, dup, http.StatusConflict)

	bad := doJSONRequest(t, ts.router, http.MethodPost, "/api/users/login", map[string]string{
		"email": "me@example.com", "password": "nope",
	}, nil)
	assertStatus(t, bad, http.StatusUnauthorized)

	headers := login(t, ts.router, "me@example.com")
	me := doJSONRequest(t, ts.router, http.MethodGet, "/api/users/me", nil, headers)
	assertStatus(t, me, http.StatusOK)
	var body struct {
		User  models.User `json:"user"`
		Quota map[string]struct {
			Limit int64 `json:"limit"`
			Used  int64 `json:"used"`
		} `json:"quota"`
	}
	decodeJSON(t, me.Body.Bytes(), &body)
	if body.User.Email != "me@example.com" || body.Quota["analyses"].Limit != 3 || body.Quota["transcriptions"].Limit != 1 {
		t.Fatalf("me %+v", body)
	}

	assertStatus(t, doJSONRequest(t, ts.router, http.MethodPost, "/api/users/logout", nil, headers), http.StatusNoContent)
	assertStatus(t, doJSONRequest(t, ts.router, http.MethodGet, "/api/users/me", nil, headers), http.StatusUnauthorized)
}

func TestHealthReportsDependencies(t *testing.T) {
	ts := newTestServer(t)
	rec := doJSONRequest(t, ts.router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, rec, http.StatusServiceUnavailable)

	ts.ffmpeg = true
	rec = doJSONRequest(t, ts.router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"database":"ok"`) {
		t.Fatalf("health body %s", rec.Body.String())
	}
}

type sseEvent struct {
	Type string
	Data []byte
}

// parseStream decodes the frames of an analysis stream and checks the
// sentinel is present exactly once, as the final frame.
func parseStream(t *testing.T, payload string) []sseEvent {
	t.Helper()
	frames := strings.Split(strings.TrimSuffix(payload, "\n\n"), "\n\n")
	if len(frames) == 0 || frames[len(frames)-1] != "data: "+stream.Sentinel {
		t.Fatalf("stream does not end with the sentinel: %q", payload)
	}
	var events []sseEvent
	for _, frame := range frames[:len(frames)-1] {
		data, ok := strings.CutPrefix(frame, "data: ")
		if !ok || data == stream.Sentinel {
			t.Fatalf("unexpected frame %q", frame)
		}
		var ev stream.Event
		decodeJSON(t, []byte(data), &ev)
		events = append(events, sseEvent{Type: ev.Type, Data: ev.Data})
	}
	return events
}

func assertScratchReleased(t *testing.T, m *fakeMedia) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.acquired) == 0 {
		t.Fatalf("no scratch files were acquired")
	}
	for _, h := range m.acquired {
		if _, err := os.Stat(h.Path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("scratch file %s left behind (err=%v)", h.Path, err)
		}
	}
}

var (
	pdfBytes = []byte("%PDF-1.4 deck")
	mp3Bytes = []byte("ID3\x03\x00\x00\x00\x00\x00\x00audio")
)

// uploadedURL stores content as the caller and returns its blob URL.
func uploadedURL(t *testing.T, router *gin.Engine, headers map[string]string, name string, content []byte) string {
	t.Helper()
	rec := uploadFile(t, router, headers, name, content)
	assertStatus(t, rec, http.StatusCreated)
	var body struct {
		Blob blobstore.Object `json:"blob"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Blob.URL == "" {
		t.Fatalf("upload returned no url: %s", rec.Body.String())
	}
	return body.Blob.URL
}

func uploadFile(t *testing.T, router *gin.Engine, headers map[string]string, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(content)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/blobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json %q: %v", data, err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, want %d, body: %s", rec.Code, want, rec.Body.String())
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine, email string) map[string]string {
	t.Helper()
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"email":    email,
		"password": "password123",
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	return login(t, router, email)
}

func login(t *testing.T, router *gin.Engine, email string) map[string]string {
	t.Helper()
	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"email":    email,
		"password": "password123",
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token after login")
	}
	return map[string]string{"Authorization": fmt.Sprintf("Bearer %s", loginBody.AuthToken)}
}
