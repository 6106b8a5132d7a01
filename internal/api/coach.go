package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"podiumgo/internal/media"
	"podiumgo/internal/service/coach"
	"podiumgo/internal/stream"
)

func (h *Handler) listReviews(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	reviews, err := h.coach.ListReviews(c.Request.Context(), user.ID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

func (h *Handler) getReview(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	review, err := h.coach.GetReview(c.Request.Context(), user.ID, c.Param("review_id"))
	if err != nil {
		if errors.Is(err, coach.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, review)
}

func (h *Handler) createCoachSession(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req struct {
		Title    string `json:"title"`
		Audience string `json:"audience"`
		ReviewID string `json:"review_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.coach.CreateSession(c.Request.Context(), user.ID, req.Title, req.Audience, strings.TrimSpace(req.ReviewID))
	if err != nil {
		if errors.Is(err, coach.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) listCoachSessions(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	sessions, err := h.coach.ListSessions(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) renameCoachSession(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.coach.UpdateSessionTitle(c.Request.Context(), user.ID, sessionID, req.Title); err != nil {
		if errors.Is(err, coach.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteCoachSession(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.coach.DeleteSession(c.Request.Context(), user.ID, sessionID); err != nil {
		if errors.Is(err, coach.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getCoachMessages(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	session, messages, err := h.coach.GetSessionWithMessages(c.Request.Context(), user.ID, sessionID)
	if err != nil {
		if errors.Is(err, coach.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"messages": messages,
	})
}

// sendCoachMessage streams the persona's reply as token events.
func (h *Handler) sendCoachMessage(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if _, err := h.coach.GetSession(c.Request.Context(), user.ID, sessionID); err != nil {
		if errors.Is(err, coach.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.runStream(c, "coach", func(ctx context.Context, _ *media.Scope, emit *stream.Emitter) error {
		_, err := h.chat.Reply(ctx, user.ID, sessionID, req.Content, emit.Token)
		return err
	})
}
