package ai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"podiumgo/internal/limiter"
	"podiumgo/internal/models"
)

type fakeModel struct {
	reply  string
	chunks []string
	err    error
	lastIn []*schema.Message
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.lastIn = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.lastIn = input
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func TestChatStreamDeliversDeltas(t *testing.T) {
	m := &fakeModel{chunks: []string{"Good ", "", "opening."}}
	chat, err := NewChat(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	var deltas []string
	full, err := chat.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil || full != "Good opening." {
		t.Fatalf("Stream = %q, %v", full, err)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %v", deltas)
	}

	stop := errors.New("client gone")
	if _, err := chat.Stream(context.Background(), nil, func(string) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("callback error not propagated: %v", err)
	}
}

func TestChatGenerate(t *testing.T) {
	chat, _ := NewChat(context.Background(), &fakeModel{reply: "  {\"ok\":true} "}, nil, nil)
	out, err := chat.Generate(context.Background(), nil)
	if err != nil || out != `{"ok":true}` {
		t.Fatalf("Generate = %q, %v", out, err)
	}
	chat, _ = NewChat(context.Background(), &fakeModel{reply: "   "}, nil, nil)
	if _, err := chat.Generate(context.Background(), nil); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

func TestToSchemaMapsRoles(t *testing.T) {
	msgs := ToSchema([]*models.Message{
		{Role: models.RoleSystem, Content: "persona"},
		nil,
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	})
	if len(msgs) != 3 || msgs[0].Role != schema.System || msgs[1].Role != schema.User || msgs[2].Role != schema.Assistant {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestChunkText(t *testing.T) {
	text := strings.Repeat("a", 1200)
	chunk, idx, total := chunkText(text, 5, 500)
	if total != 3 || idx != 2 || len(chunk) != 200 {
		t.Fatalf("chunk=%d idx=%d total=%d", len(chunk), idx, total)
	}
	if _, _, total := chunkText("", 0, 0); total != 0 {
		t.Fatalf("empty text has %d chunks", total)
	}
	if _, _, total := chunkText(text, 0, 10); total != 3 {
		t.Fatalf("size below minimum not clamped: %d", total)
	}
}

func TestToolContextHelpers(t *testing.T) {
	ctx := context.Background()
	if docs := DocumentsFromContext(ctx); docs != nil {
		t.Fatalf("unexpected docs")
	}
	ctx = WithDocuments(ctx, []Document{{ID: "d1"}})
	if docs := DocumentsFromContext(ctx); len(docs) != 1 || docs[0].ID != "d1" {
		t.Fatalf("docs = %+v", docs)
	}
	if _, _, ok := ToolSessionFromContext(WithToolSession(ctx, 0, 1)); ok {
		t.Fatalf("invalid ids should not be stored")
	}
	u, s, ok := ToolSessionFromContext(WithToolSession(ctx, 3, 9))
	if !ok || u != 3 || s != 9 {
		t.Fatalf("session = %d %d %v", u, s, ok)
	}
}

func TestDeckReaderReadsAndRateLimits(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("Slide one: why this matters.\n\nSlide two: numbers."), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reader := initDeckReader(ctx, limiter.New(limiter.NewMemoryStore(), time.Minute), nil)
	if reader == nil {
		t.Fatalf("deck reader not initialised")
	}
	ctx = WithToolSession(WithDocuments(ctx, []Document{{ID: "notes", FileName: "notes.txt", Path: path}}), 1, 1)

	out, err := reader.InvokableRun(ctx, `{"document_id":"notes"}`)
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	if !strings.Contains(out, "Chunk 1/1") || !strings.Contains(out, "Slide two") {
		t.Fatalf("output = %q", out)
	}
	if _, err := reader.InvokableRun(ctx, `{"document_id":"other"}`); err == nil {
		t.Fatalf("unknown document accepted")
	}
	for i := 1; i < DeckReaderRateLimit; i++ {
		if _, err := reader.InvokableRun(ctx, `{"document_id":"notes"}`); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if _, err := reader.InvokableRun(ctx, `{"document_id":"notes"}`); err == nil {
		t.Fatalf("rate limit not enforced")
	}
}
