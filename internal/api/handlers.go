package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"podiumgo/internal/auth"
	"podiumgo/internal/blobstore"
	"podiumgo/internal/config"
	"podiumgo/internal/limiter"
	"podiumgo/internal/logger"
	"podiumgo/internal/media"
	"podiumgo/internal/metrics"
	"podiumgo/internal/models"
	"podiumgo/internal/service/coach"
	"podiumgo/internal/worker"
)

// MediaPipeline turns remote uploads into model-ready text.
type MediaPipeline interface {
	NewScope() *media.Scope
	Transcript(ctx context.Context, scope *media.Scope, remoteURL, fileName string, report media.ProgressFunc) (string, error)
	Slides(ctx context.Context, scope *media.Scope, remoteURL, fileName string, report media.ProgressFunc) ([]media.SlidePage, error)
}

// Analyst produces structured audience feedback.
type Analyst interface {
	ReviewSlide(ctx context.Context, audience string, page media.SlidePage, total int) (*coach.SlideFeedback, error)
	SummarizeDeck(ctx context.Context, audience string, slides []coach.SlideFeedback) (*coach.DeckSummary, error)
	ReviewRecording(ctx context.Context, audience, transcript string) (*coach.RecordingFeedback, error)
}

// ChatCoach streams the audience persona's replies.
type ChatCoach interface {
	Reply(ctx context.Context, userID, sessionID int64, content string, onDelta func(string) error) (*models.Message, error)
}

// JobRunner schedules model calls fairly across users.
type JobRunner interface {
	Submit(ctx context.Context, userID int64, fn func(ctx context.Context) error) (<-chan error, error)
	Do(ctx context.Context, userID int64, fn func(ctx context.Context) error) error
	Stats() worker.Stats
}

type Deps struct {
	DB      *sql.DB
	Coach   *coach.Service
	Auth    *auth.Service
	Blobs   *blobstore.Store
	Media   MediaPipeline
	Analyst Analyst
	Chat    ChatCoach
	Jobs    JobRunner
	Quota   *limiter.Limiter
	Plans   map[string]config.PlanLimits
	Metrics *metrics.Metrics
	Log     *slog.Logger
	// FFmpegReady reports transcoder availability for health checks.
	FFmpegReady      func() bool
	MaxUploadBytes   int64
	UserStorageBytes int64
	StreamTimeout    time.Duration
}

// Handler wires HTTP routes to the coaching services and the analysis
// streams.
type Handler struct {
	db      *sql.DB
	coach   *coach.Service
	auth    *auth.Service
	blobs   *blobstore.Store
	media   MediaPipeline
	analyst Analyst
	chat    ChatCoach
	jobs    JobRunner
	quota   *limiter.Limiter
	plans   map[string]config.PlanLimits
	metrics *metrics.Metrics
	log     *slog.Logger

	ffmpegReady      func() bool
	maxUploadBytes   int64
	userStorageLimit int64
	streamTimeout    time.Duration
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		db:               d.DB,
		coach:            d.Coach,
		auth:             d.Auth,
		blobs:            d.Blobs,
		media:            d.Media,
		analyst:          d.Analyst,
		chat:             d.Chat,
		jobs:             d.Jobs,
		quota:            d.Quota,
		plans:            d.Plans,
		metrics:          d.Metrics,
		log:              logger.OrNop(d.Log),
		ffmpegReady:      d.FFmpegReady,
		maxUploadBytes:   d.MaxUploadBytes,
		userStorageLimit: d.UserStorageBytes,
		streamTimeout:    d.StreamTimeout,
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = 200 << 20
	}
	if h.userStorageLimit <= 0 {
		h.userStorageLimit = 1 << 30
	}
	if h.streamTimeout <= 0 {
		h.streamTimeout = 30 * time.Minute
	}
	return h
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	if h.blobs != nil {
		blobs := gin.WrapH(http.StripPrefix("/blobs", h.blobs.Handler()))
		router.GET("/blobs/:token", blobs)
		router.HEAD("/blobs/:token", blobs)
	}

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	authed.GET("/users/me", h.currentUserInfo)
	authed.POST("/users/logout", h.logoutUser)
	authed.DELETE("/users/me", h.deleteUser)

	authed.POST("/blobs", h.uploadBlob)
	authed.DELETE("/blobs", h.deleteBlobs)

	authed.POST("/transcribe", h.transcribe)
	authed.POST("/analyze/deck", h.analyzeDeck)
	authed.POST("/analyze/recording", h.analyzeRecording)

	authed.GET("/reviews", h.listReviews)
	authed.GET("/reviews/:review_id", h.getReview)

	authed.POST("/coach/sessions", h.createCoachSession)
	authed.GET("/coach/sessions", h.listCoachSessions)
	authed.PATCH("/coach/sessions/:session_id", h.renameCoachSession)
	authed.DELETE("/coach/sessions/:session_id", h.deleteCoachSession)
	authed.GET("/coach/sessions/:session_id/messages", h.getCoachMessages)
	authed.POST("/coach/sessions/:session_id/messages", h.sendCoachMessage)
}

func (h *Handler) authorizedUser(c *gin.Context) (*models.User, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok || user.ID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	return user, true
}

func sessionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}
	ffmpeg := h.ffmpegReady != nil && h.ffmpegReady()
	body["ffmpeg"] = ffmpeg
	if !ffmpeg {
		status = http.StatusServiceUnavailable
	}
	if h.jobs != nil {
		body["workers"] = h.jobs.Stats()
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
