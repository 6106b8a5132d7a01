package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"podiumgo/internal/limiter"
	"podiumgo/internal/models"
)

type quotaKind string

const (
	quotaAnalyses       quotaKind = "analyses"
	quotaTranscriptions quotaKind = "transcriptions"
)

// planLimit returns the allowance of kind for the user's plan. Plans without
// configured limits are unlimited.
func (h *Handler) planLimit(user *models.User, kind quotaKind) int64 {
	limits, ok := h.plans[string(user.Plan)]
	if !ok {
		return -1
	}
	switch kind {
	case quotaAnalyses:
		return limits.Analyses
	case quotaTranscriptions:
		return limits.Transcriptions
	}
	return -1
}

func quotaKey(user *models.User, kind quotaKind) string {
	return fmt.Sprintf("%s:%d", kind, user.ID)
}

// consumeQuota spends one unit of kind or answers 429. It must run before a
// stream opens so the rejection is a plain JSON error.
func (h *Handler) consumeQuota(c *gin.Context, user *models.User, kind quotaKind) bool {
	if h.quota == nil {
		return true
	}
	d, err := h.quota.Allow(c.Request.Context(), quotaKey(user, kind), h.planLimit(user, kind))
	if err != nil {
		h.log.Error("quota check failed", "user_id", user.ID, "kind", kind, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota service unavailable, please retry"})
		return false
	}
	if !d.Allowed {
		c.Header("Retry-After", strconv.Itoa(int(d.ResetIn.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("%s limit reached for the %s plan", kind, user.Plan),
			"limit": d.Limit,
			"used":  d.Used,
		})
		return false
	}
	return true
}

func (h *Handler) quotaStatus(c *gin.Context, user *models.User) gin.H {
	out := gin.H{}
	if h.quota == nil {
		return out
	}
	for _, kind := range []quotaKind{quotaAnalyses, quotaTranscriptions} {
		d, err := h.quota.Check(c.Request.Context(), quotaKey(user, kind), h.planLimit(user, kind))
		if err != nil {
			h.log.Warn("quota status", "user_id", user.ID, "kind", kind, "error", err)
			continue
		}
		out[string(kind)] = decisionJSON(d)
	}
	return out
}

func decisionJSON(d limiter.Decision) gin.H {
	return gin.H{
		"allowed":          d.Allowed,
		"used":             d.Used,
		"limit":            d.Limit,
		"reset_in_seconds": int(d.ResetIn.Seconds()),
	}
}
