package review

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"podiumgo/internal/client"
	"podiumgo/internal/stream"
)

type fakeStream struct {
	events chan client.Event
	acks   chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan client.Event), acks: make(chan struct{})}
}

// push hands ev to the running Analyze call and waits until it was applied.
func (s *fakeStream) push(t *testing.T, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.events <- client.Event{Type: typ, Data: raw}
	<-s.acks
}

type fakeAPI struct {
	mu       sync.Mutex
	streams  map[string]*fakeStream
	uploads  []string
	requests []client.AnalyzeRequest
	deleted  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{streams: make(map[string]*fakeStream)}
}

func (f *fakeAPI) stream(fileName string) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[fileName]
	if !ok {
		s = newFakeStream()
		f.streams[fileName] = s
	}
	return s
}

func (f *fakeAPI) Upload(_ context.Context, fileName string, r io.Reader) (*client.Blob, error) {
	body, _ := io.ReadAll(r)
	f.mu.Lock()
	f.uploads = append(f.uploads, fileName)
	f.mu.Unlock()
	return &client.Blob{URL: "http://x/blobs/" + fileName, FileName: fileName, Size: int64(len(body))}, nil
}

func (f *fakeAPI) Analyze(_ context.Context, _ client.Kind, in client.AnalyzeRequest, fn func(client.Event) error) error {
	f.mu.Lock()
	f.requests = append(f.requests, in)
	f.mu.Unlock()
	s := f.stream(in.FileName)
	for ev := range s.events {
		fn(ev)
		s.acks <- struct{}{}
	}
	return nil
}

func (f *fakeAPI) DeleteBlobs(_ context.Context, urls []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, urls...)
	return len(urls), nil
}

type fakeRenderer map[int][]byte

func (r fakeRenderer) Render(context.Context, string) (map[int][]byte, error) { return r, nil }

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func unitSlides(t *testing.T, units []json.RawMessage) []string {
	t.Helper()
	out := make([]string, 0, len(units))
	for _, u := range units {
		var v struct {
			Headline string `json:"headline"`
		}
		if err := json.Unmarshal(u, &v); err != nil {
			t.Fatalf("unit %s: %v", u, err)
		}
		out = append(out, v.Headline)
	}
	return out
}

func TestBackgroundRunDoesNotLeakIntoDisplayedSession(t *testing.T) {
	api := newFakeAPI()
	var updates int
	var umu sync.Mutex
	c := New(api, WithOnUpdate(func(string, State) {
		umu.Lock()
		updates++
		umu.Unlock()
	}))
	ctx := context.Background()
	deck := writeFile(t, "a.pdf", "%PDF-1.4")
	talk := writeFile(t, "b.mp3", "ID3")
	a, b := api.stream("a.pdf"), api.stream("b.mp3")

	errA := make(chan error, 1)
	go func() { errA <- c.UploadAndAnalyze(ctx, deck, "investors", "a") }()
	a.push(t, stream.TypeStatus, stream.Status{Step: stream.StepDownloading})
	a.push(t, stream.TypeUnit, map[string]any{"slide": 1, "headline": "a1"})

	errB := make(chan error, 1)
	go func() { errB <- c.UploadAndAnalyze(ctx, talk, "students", "b") }()
	b.push(t, stream.TypeStatus, stream.Status{Step: stream.StepTranscribing})

	a.push(t, stream.TypeUnit, map[string]any{"slide": 2, "headline": "a2"})

	key, view := c.View()
	if key != "b" || len(view.Units) != 0 || view.Progress.Step != stream.StepTranscribing {
		t.Fatalf("view of %q leaked background events: %+v", key, view)
	}
	if running, live := c.Live(); running != "b" || len(live.Units) != 0 {
		t.Fatalf("live state follows %q with %d units", running, len(live.Units))
	}
	sa, _ := c.Session("a")
	if got := unitSlides(t, sa.State.Units); strings.Join(got, ",") != "a1,a2" {
		t.Fatalf("session a units = %v", got)
	}

	b.push(t, stream.TypeUnit, map[string]any{"headline": "b1"})
	close(a.events)
	if err := <-errA; err != nil {
		t.Fatalf("run a: %v", err)
	}

	if !c.OpenReview("a") {
		t.Fatalf("OpenReview(a) reported unknown key")
	}
	_, view = c.View()
	if got := unitSlides(t, view.Units); strings.Join(got, ",") != "a1,a2" || view.Progress.Step != stream.StepDone {
		t.Fatalf("reopened a = %v step %q", got, view.Progress.Step)
	}

	b.push(t, stream.TypeUnit, map[string]any{"headline": "b2"})
	_, view = c.View()
	if len(view.Units) != 2 {
		t.Fatalf("b events reached the view of a: %v", unitSlides(t, view.Units))
	}

	if !c.OpenReview("b") {
		t.Fatalf("OpenReview(b) reported unknown key")
	}
	_, view = c.View()
	if got := unitSlides(t, view.Units); strings.Join(got, ",") != "b1,b2" || view.Progress.Step != stream.StepTranscribing {
		t.Fatalf("reopened running b = %v step %q", got, view.Progress.Step)
	}
	close(b.events)
	if err := <-errB; err != nil {
		t.Fatalf("run b: %v", err)
	}

	if c.OpenReview("missing") {
		t.Fatalf("unknown key opened")
	}
	if key, _ := c.View(); key != "b" {
		t.Fatalf("unknown key changed the displayed session to %q", key)
	}
	umu.Lock()
	defer umu.Unlock()
	if updates == 0 {
		t.Fatalf("no view updates delivered")
	}
}

func TestReopenedBackgroundRunKeepsUpdatingView(t *testing.T) {
	api := newFakeAPI()
	var mu sync.Mutex
	var lastKey string
	var lastView State
	c := New(api, WithOnUpdate(func(key string, view State) {
		mu.Lock()
		lastKey, lastView = key, view
		mu.Unlock()
	}))
	ctx := context.Background()
	deck := writeFile(t, "a.pdf", "%PDF-1.4")
	talk := writeFile(t, "b.mp3", "ID3")
	a, b := api.stream("a.pdf"), api.stream("b.mp3")

	errA := make(chan error, 1)
	go func() { errA <- c.UploadAndAnalyze(ctx, deck, "investors", "a") }()
	a.push(t, stream.TypeUnit, map[string]any{"slide": 1, "headline": "a1"})

	errB := make(chan error, 1)
	go func() { errB <- c.UploadAndAnalyze(ctx, talk, "students", "b") }()
	b.push(t, stream.TypeStatus, stream.Status{Step: stream.StepTranscribing})

	if !c.OpenReview("a") {
		t.Fatalf("OpenReview(a) reported unknown key")
	}
	a.push(t, stream.TypeUnit, map[string]any{"slide": 2, "headline": "a2"})

	key, view := c.View()
	if got := unitSlides(t, view.Units); key != "a" || strings.Join(got, ",") != "a1,a2" {
		t.Fatalf("view of %q = %v, want a1,a2", key, got)
	}
	mu.Lock()
	if lastKey != "a" || len(lastView.Units) != 2 {
		t.Fatalf("last update = %q with %d units", lastKey, len(lastView.Units))
	}
	mu.Unlock()
	if running, live := c.Live(); running != "b" || len(live.Units) != 0 {
		t.Fatalf("superseded run reached live state of %q: %d units", running, len(live.Units))
	}

	b.push(t, stream.TypeUnit, map[string]any{"headline": "b1"})
	_, view = c.View()
	if got := unitSlides(t, view.Units); strings.Join(got, ",") != "a1,a2" {
		t.Fatalf("running b changed the view of a: %v", got)
	}
	if _, live := c.Live(); len(live.Units) != 1 {
		t.Fatalf("live state missed b1: %d units", len(live.Units))
	}

	close(a.events)
	close(b.events)
	if err := <-errA; err != nil {
		t.Fatalf("run a: %v", err)
	}
	if err := <-errB; err != nil {
		t.Fatalf("run b: %v", err)
	}
	sa, _ := c.Session("a")
	if !sa.Done || len(sa.State.Units) != 2 {
		t.Fatalf("session a = %+v", sa)
	}
}

func TestResetDetachesRunInFlight(t *testing.T) {
	api := newFakeAPI()
	var mu sync.Mutex
	updates := 0
	c := New(api, WithOnUpdate(func(string, State) {
		mu.Lock()
		updates++
		mu.Unlock()
	}))
	ctx := context.Background()
	deck := writeFile(t, "a.pdf", "%PDF-1.4")
	a := api.stream("a.pdf")

	errA := make(chan error, 1)
	go func() { errA <- c.UploadAndAnalyze(ctx, deck, "investors", "a") }()
	a.push(t, stream.TypeUnit, map[string]any{"slide": 1, "headline": "a1"})

	c.Reset()
	mu.Lock()
	before := updates
	mu.Unlock()

	a.push(t, stream.TypeUnit, map[string]any{"slide": 2, "headline": "a2"})
	a.push(t, stream.TypeSummary, map[string]any{"score": 7})
	close(a.events)
	if err := <-errA; err != nil {
		t.Fatalf("run a: %v", err)
	}

	if keys := c.Keys(); len(keys) != 0 {
		t.Fatalf("detached run recreated sessions: %v", keys)
	}
	if key, view := c.View(); key != "" || len(view.Units) != 0 || view.Summary != nil {
		t.Fatalf("detached run reached the view: %q %+v", key, view)
	}
	if running, live := c.Live(); running != "" || len(live.Units) != 0 {
		t.Fatalf("detached run reached live state: %q %+v", running, live)
	}
	if c.OpenReview("a") {
		t.Fatalf("reset session reopened")
	}
	mu.Lock()
	defer mu.Unlock()
	if updates != before {
		t.Fatalf("detached run delivered %d updates", updates-before)
	}
}

func TestValidationFailsWithoutContactingServer(t *testing.T) {
	api := newFakeAPI()
	c := New(api, WithMaxBytes(4))
	ctx := context.Background()

	cases := []struct {
		name string
		path string
		want error
	}{
		{"unsupported", writeFile(t, "notes.txt", "hi"), ErrUnsupportedFile},
		{"empty", writeFile(t, "empty.pdf", ""), ErrEmptyFile},
		{"too large", writeFile(t, "big.wav", "123456"), ErrFileTooLarge},
		{"missing", filepath.Join(t.TempDir(), "gone.mp4"), os.ErrNotExist},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.UploadAndAnalyze(ctx, tc.path, "", "k"); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if len(api.uploads) != 0 || len(c.Keys()) != 0 {
		t.Fatalf("invalid files reached the server: %v", api.uploads)
	}
}

func TestReanalyzeReusesUploadAndThumbnails(t *testing.T) {
	api := newFakeAPI()
	c := New(api, WithRenderer(fakeRenderer{1: []byte("png")}))
	ctx := context.Background()

	if err := c.Reanalyze(ctx, "board"); !errors.Is(err, ErrNoPreviousUpload) {
		t.Fatalf("Reanalyze without upload = %v", err)
	}

	deck := writeFile(t, "deck.pdf", "%PDF-1.4")
	s := api.stream("deck.pdf")
	done := make(chan error, 1)
	go func() { done <- c.UploadAndAnalyze(ctx, deck, "investors", "") }()
	s.push(t, stream.TypeSummary, map[string]any{"score": 6})
	close(s.events)
	if err := <-done; err != nil {
		t.Fatalf("UploadAndAnalyze: %v", err)
	}
	c.Wait()

	key, view := c.View()
	if key == "" {
		t.Fatalf("empty key not replaced")
	}
	if string(view.Thumbnails[1]) != "png" {
		t.Fatalf("thumbnails not merged into view: %v", view.Thumbnails)
	}
	sess, _ := c.Session(key)
	if string(sess.State.Thumbnails[1]) != "png" || !sess.Done || sess.State.Summary == nil {
		t.Fatalf("stored session = %+v", sess)
	}

	s2 := newFakeStream()
	api.mu.Lock()
	api.streams["deck.pdf"] = s2
	api.mu.Unlock()
	go func() { done <- c.Reanalyze(ctx, "board") }()
	s2.push(t, stream.TypeError, stream.ErrorData{Message: "slide 2 could not be analyzed"})
	close(s2.events)
	if err := <-done; err != nil {
		t.Fatalf("Reanalyze: %v", err)
	}

	if len(api.uploads) != 1 {
		t.Fatalf("reanalyze uploaded again: %v", api.uploads)
	}
	last := api.requests[len(api.requests)-1]
	if last.Audience != "board" || last.URL != "http://x/blobs/deck.pdf" {
		t.Fatalf("reanalyze request = %+v", last)
	}
	sess, _ = c.Session(key)
	if sess.State.Summary != nil || len(sess.State.Errors) != 1 || string(sess.State.Thumbnails[1]) != "png" {
		t.Fatalf("reanalyzed session = %+v", sess)
	}
}

func TestCloseDeletesCreatedBlobsAndResetClears(t *testing.T) {
	api := newFakeAPI()
	c := New(api)
	ctx := context.Background()
	talk := writeFile(t, "talk.m4a", "audio")
	s := api.stream("talk.m4a")
	close(s.events)
	if err := c.UploadAndAnalyze(ctx, talk, "", "t"); err != nil {
		t.Fatalf("UploadAndAnalyze: %v", err)
	}

	c.Reset()
	if len(c.Keys()) != 0 || c.OpenReview("t") {
		t.Fatalf("sessions survived Reset")
	}
	if key, view := c.View(); key != "" || view.Units != nil {
		t.Fatalf("view survived Reset: %q %+v", key, view)
	}

	c.Close()
	c.Wait()
	if len(api.deleted) != 1 || api.deleted[0] != "http://x/blobs/talk.m4a" {
		t.Fatalf("deleted = %v", api.deleted)
	}
	c.Close()
	c.Wait()
	if len(api.deleted) != 1 {
		t.Fatalf("second Close deleted again: %v", api.deleted)
	}
}
