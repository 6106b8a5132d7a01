package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"podiumgo/internal/logger"
	"podiumgo/internal/models"
	"podiumgo/internal/service/ai"
)

const maxReviewContextRunes = 20000

// Streamer streams one reply for a list of messages.
type Streamer interface {
	Stream(ctx context.Context, messages []*schema.Message, onDelta func(string) error) (string, error)
}

// DocumentLookup resolves a review's source URL to files the agent may read.
type DocumentLookup func(ctx context.Context, userID int64, sourceURL string) []ai.Document

// Coach answers the presenter as the audience they are rehearsing for.
type Coach struct {
	svc     *Service
	chat    Streamer
	analyst *Analyst
	docs    DocumentLookup
	log     *slog.Logger
}

// NewCoach wires the persona conversation. analyst may be nil, in which case
// sessions keep their default title.
func NewCoach(svc *Service, chat Streamer, analyst *Analyst, log *slog.Logger) *Coach {
	return &Coach{svc: svc, chat: chat, analyst: analyst, log: logger.OrNop(log)}
}

func (c *Coach) WithDocuments(lookup DocumentLookup) *Coach {
	c.docs = lookup
	return c
}

// Reply stores the presenter's message, streams the persona's answer through
// onDelta and stores it once complete.
func (c *Coach) Reply(ctx context.Context, userID, sessionID int64, content string, onDelta func(string) error) (*models.Message, error) {
	session, history, err := c.svc.GetSessionWithMessages(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	userMsg, err := c.svc.AddMessage(ctx, session.ID, models.RoleUser, content)
	if err != nil {
		return nil, err
	}

	review := c.loadReview(ctx, session)
	messages := append([]*schema.Message{schema.SystemMessage(personaPrompt(session, review))},
		ai.ToSchema(append(history, userMsg))...)

	ctx = ai.WithToolSession(ctx, userID, session.ID)
	if review != nil && c.docs != nil && review.Kind == models.ReviewDeck {
		ctx = ai.WithDocuments(ctx, c.docs(ctx, userID, review.SourceURL))
	}

	reply, err := c.chat.Stream(ctx, messages, onDelta)
	if err != nil {
		return nil, fmt.Errorf("coach reply: %w", err)
	}
	assistantMsg, err := c.svc.AddMessage(ctx, session.ID, models.RoleAssistant, reply)
	if err != nil {
		return nil, err
	}

	if c.analyst != nil && session.Title == DefaultSessionTitle {
		title, err := c.analyst.GenerateTitle(ctx, []*models.Message{userMsg, assistantMsg})
		if err != nil {
			c.log.Warn("title generation failed", "session_id", session.ID, "error", err)
		} else if title != DefaultSessionTitle {
			if err := c.svc.UpdateSessionTitle(ctx, userID, session.ID, title); err != nil {
				c.log.Warn("update session title", "session_id", session.ID, "error", err)
			}
		}
	}
	return assistantMsg, nil
}

func (c *Coach) loadReview(ctx context.Context, session *models.Session) *models.Review {
	if session.ReviewID == "" {
		return nil
	}
	review, err := c.svc.GetReview(ctx, session.UserID, session.ReviewID)
	if err != nil {
		c.log.Warn("load session review", "session_id", session.ID, "review_id", session.ReviewID, "error", err)
		return nil
	}
	return review
}

func personaPrompt(session *models.Session, review *models.Review) string {
	audience := strings.TrimSpace(session.Audience)
	if audience == "" && review != nil {
		audience = review.Audience
	}
	if audience == "" {
		audience = DefaultAudience
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. A presenter is rehearsing a talk for you. ", audience)
	b.WriteString("Stay in character: react the way this audience would, ask the questions it would ask, ")
	b.WriteString("and when asked for advice give concrete, actionable suggestions.\n")
	if review == nil {
		return b.String()
	}

	switch review.Kind {
	case models.ReviewRecording:
		var fb RecordingFeedback
		if json.Unmarshal(review.Result, &fb) == nil && fb.Transcript != "" {
			fmt.Fprintf(&b, "\nYou heard this talk (%s):\n%s\n", review.FileName, truncateRunes(fb.Transcript, maxReviewContextRunes))
			if fb.Summary != "" {
				fmt.Fprintf(&b, "\nYour earlier verdict: %s\n", fb.Summary)
			}
		}
	case models.ReviewDeck:
		var deck DeckResult
		if json.Unmarshal(review.Result, &deck) == nil {
			fmt.Fprintf(&b, "\nYou reviewed the slide deck %s. Your notes per slide:\n", review.FileName)
			for _, s := range deck.Slides {
				fmt.Fprintf(&b, "- slide %d: %s\n", s.Slide, s.Headline)
			}
			if deck.Summary != nil {
				fmt.Fprintf(&b, "Overall: %s\n", deck.Summary.Overall)
			}
			b.WriteString("Use the deck_reader tool when you need the full slide text.\n")
		}
	}
	return b.String()
}
