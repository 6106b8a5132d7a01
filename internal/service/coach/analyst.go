package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"podiumgo/internal/logger"
	"podiumgo/internal/media"
	"podiumgo/internal/models"
)

const (
	DefaultAudience = "a general professional audience"
	// transcripts beyond this are cut before prompting.
	maxTranscriptRunes = 60000
)

var ErrMalformedReply = errors.New("model reply is not valid analysis json")

// Generator produces one completion for a list of messages.
type Generator interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
}

// SlideFeedback is the audience's reaction to one slide.
type SlideFeedback struct {
	Slide            int      `json:"slide"`
	Headline         string   `json:"headline"`
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	AudienceReaction string   `json:"audience_reaction"`
	Score            int      `json:"score"`
}

// DeckSummary is the whole-deck synthesis emitted after every slide.
type DeckSummary struct {
	Overall        string   `json:"overall"`
	Strengths      []string `json:"strengths"`
	Improvements   []string `json:"improvements"`
	LikelyQuestion []string `json:"likely_questions"`
	Score          int      `json:"score"`
}

// RecordingFeedback reviews a transcribed talk.
type RecordingFeedback struct {
	Summary        string   `json:"summary"`
	Strengths      []string `json:"strengths"`
	Improvements   []string `json:"improvements"`
	LikelyQuestion []string `json:"likely_questions"`
	Pacing         string   `json:"pacing"`
	Score          int      `json:"score"`
	Transcript     string   `json:"transcript"`
}

// DeckResult is what a finished deck review stores.
type DeckResult struct {
	Slides  []SlideFeedback `json:"slides"`
	Summary *DeckSummary    `json:"summary"`
}

// Analyst turns slides and transcripts into structured feedback written from
// the point of view of the stated audience.
type Analyst struct {
	gen Generator
	log *slog.Logger
}

func NewAnalyst(gen Generator, log *slog.Logger) *Analyst {
	return &Analyst{gen: gen, log: logger.OrNop(log)}
}

func (a *Analyst) ReviewSlide(ctx context.Context, audience string, page media.SlidePage, total int) (*SlideFeedback, error) {
	prompt := fmt.Sprintf(
		"Slide %d of %d.\n\nSlide text:\n%s\n\n"+
			`Reply with JSON: {"headline": string, "strengths": [string], "improvements": [string], "audience_reaction": string, "score": 1-10}`,
		page.Number, total, page.Text,
	)
	var fb SlideFeedback
	if err := a.complete(ctx, audiencePrompt(audience, "You review one presentation slide at a time."), prompt, &fb); err != nil {
		return nil, fmt.Errorf("review slide %d: %w", page.Number, err)
	}
	fb.Slide = page.Number
	fb.Score = clampScore(fb.Score)
	return &fb, nil
}

func (a *Analyst) SummarizeDeck(ctx context.Context, audience string, slides []SlideFeedback) (*DeckSummary, error) {
	if len(slides) == 0 {
		return nil, errors.New("no slide feedback to summarize")
	}
	notes, err := json.Marshal(slides)
	if err != nil {
		return nil, fmt.Errorf("encode slide feedback: %w", err)
	}
	prompt := "Per-slide notes:\n" + string(notes) + "\n\n" +
		`Reply with JSON: {"overall": string, "strengths": [string], "improvements": [string], "likely_questions": [string], "score": 1-10}`
	var sum DeckSummary
	if err := a.complete(ctx, audiencePrompt(audience, "You judge a whole slide deck from notes taken slide by slide."), prompt, &sum); err != nil {
		return nil, fmt.Errorf("summarize deck: %w", err)
	}
	sum.Score = clampScore(sum.Score)
	return &sum, nil
}

func (a *Analyst) ReviewRecording(ctx context.Context, audience, transcript string) (*RecordingFeedback, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, errors.New("transcript is empty")
	}
	prompt := "Transcript:\n" + truncateRunes(transcript, maxTranscriptRunes) + "\n\n" +
		`Reply with JSON: {"summary": string, "strengths": [string], "improvements": [string], "likely_questions": [string], "pacing": string, "score": 1-10}`
	var fb RecordingFeedback
	if err := a.complete(ctx, audiencePrompt(audience, "You listened to a recorded talk and now give feedback on it."), prompt, &fb); err != nil {
		return nil, fmt.Errorf("review recording: %w", err)
	}
	fb.Score = clampScore(fb.Score)
	fb.Transcript = transcript
	return &fb, nil
}

// GenerateTitle names a coaching session from its opening exchange.
func (a *Analyst) GenerateTitle(ctx context.Context, messages []*models.Message) (string, error) {
	if len(messages) == 0 {
		return DefaultSessionTitle, nil
	}
	var convo strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			fmt.Fprintf(&convo, "Presenter: %s\n", msg.Content)
		case models.RoleAssistant:
			fmt.Fprintf(&convo, "Audience: %s\n", msg.Content)
		}
	}
	title, err := a.gen.Generate(ctx, []*schema.Message{
		schema.SystemMessage("You name coaching conversations. Output a title of at most six words and nothing else."),
		schema.UserMessage(convo.String()),
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if title == "" {
		return DefaultSessionTitle, nil
	}
	return truncateRunes(title, 80), nil
}

func (a *Analyst) complete(ctx context.Context, system, prompt string, out any) error {
	reply, err := a.gen.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return err
	}
	if err := decodeJSONReply(reply, out); err != nil {
		a.log.Warn("unparseable analysis reply", "error", err, "reply_len", len(reply))
		return err
	}
	return nil
}

func audiencePrompt(audience, task string) string {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		audience = DefaultAudience
	}
	return "You are " + audience + ". " + task +
		" Speak as that audience would, be specific, and answer only with a single JSON object."
}

// decodeJSONReply accepts a bare object or one wrapped in a markdown fence.
func decodeJSONReply(reply string, out any) error {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ErrMalformedReply
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}

func clampScore(v int) int {
	return max(0, min(v, 10))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
