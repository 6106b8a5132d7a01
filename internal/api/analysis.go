package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"podiumgo/internal/blobstore"
	"podiumgo/internal/media"
	"podiumgo/internal/models"
	"podiumgo/internal/service/coach"
	"podiumgo/internal/stream"
	"podiumgo/internal/worker"
)

var deckExtensions = map[string]bool{".pdf": true}

const errBusy = "The server is busy right now. Please try again shortly."

type analyzeRequest struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	Audience string `json:"audience"`
}

// ownedSource checks that the request points at one of the caller's own
// uploads. Only blob store URLs are ever fetched.
func (h *Handler) ownedSource(c *gin.Context, user *models.User, req *analyzeRequest) bool {
	if h.blobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads are unavailable"})
		return false
	}
	_, err := h.blobs.Owned(c.Request.Context(), user.ID, req.URL)
	switch {
	case err == nil:
		return true
	case errors.Is(err, blobstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found, please upload it again"})
	default:
		h.log.Error("resolve analysis source", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load the file"})
	}
	return false
}

func (r *analyzeRequest) validate() error {
	r.URL = strings.TrimSpace(r.URL)
	r.FileName = strings.TrimSpace(r.FileName)
	r.Audience = strings.TrimSpace(r.Audience)
	if r.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an absolute http(s) url")
	}
	if r.FileName == "" {
		return errors.New("file_name is required")
	}
	return nil
}

// deckSummaryPayload is the summary event of a deck stream.
type deckSummaryPayload struct {
	*coach.DeckSummary
	ReviewID string `json:"review_id,omitempty"`
}

type recordingSummaryPayload struct {
	*coach.RecordingFeedback
	ReviewID string `json:"review_id,omitempty"`
}

func (h *Handler) transcribe(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.ownedSource(c, user, &req) {
		return
	}
	if !h.consumeQuota(c, user, quotaTranscriptions) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.streamTimeout)
	defer cancel()
	scope := h.media.NewScope()
	defer scope.Release()

	transcript, err := h.media.Transcript(ctx, scope, req.URL, req.FileName, nil)
	if err != nil {
		h.log.Warn("transcribe failed", "user_id", user.ID, "file", req.FileName, "error", err)
		c.JSON(transcribeStatus(err), gin.H{"error": stream.UserMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcript": transcript})
}

func transcribeStatus(err error) int {
	switch {
	case media.IsFetchError(err):
		return http.StatusBadGateway
	case errors.Is(err, media.ErrTranscode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) analyzeDeck(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !deckExtensions[strings.ToLower(filepath.Ext(req.FileName))] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "slide decks must be PDF files"})
		return
	}
	if !h.ownedSource(c, user, &req) {
		return
	}
	if !h.consumeQuota(c, user, quotaAnalyses) {
		return
	}

	h.runStream(c, string(models.ReviewDeck), func(ctx context.Context, scope *media.Scope, emit *stream.Emitter) error {
		pages, err := h.media.Slides(ctx, scope, req.URL, req.FileName, progressTo(emit))
		if err != nil {
			return err
		}
		slides, err := h.reviewSlides(ctx, user.ID, req.Audience, pages, emit)
		if err != nil {
			return err
		}

		var summary *coach.DeckSummary
		err = h.jobs.Do(ctx, user.ID, func(jctx context.Context) error {
			var err error
			summary, err = h.analyst.SummarizeDeck(jctx, req.Audience, slides)
			return err
		})
		if err != nil {
			return busyOr(err)
		}
		reviewID := h.saveReview(ctx, user.ID, models.ReviewDeck, req, coach.DeckResult{Slides: slides, Summary: summary})
		return emit.Summary(deckSummaryPayload{DeckSummary: summary, ReviewID: reviewID})
	})
}

// reviewSlides fans the pages out to the dispatcher and emits each result as
// soon as it lands. A failed slide is reported in-band and skipped; the run
// fails only when no slide could be reviewed.
func (h *Handler) reviewSlides(ctx context.Context, userID int64, audience string, pages []media.SlidePage, emit *stream.Emitter) ([]coach.SlideFeedback, error) {
	total := len(pages)
	if total == 0 {
		return nil, stream.Public("This document has no pages to review.", media.ErrExtract)
	}
	if err := emit.Progress(stream.StepAnalyzing, 0, total); err != nil {
		return nil, err
	}

	type outcome struct {
		index int
		err   error
	}
	results := make([]*coach.SlideFeedback, total)
	done := make(chan outcome, total)
	for i, page := range pages {
		res, err := h.jobs.Submit(ctx, userID, func(jctx context.Context) error {
			fb, err := h.analyst.ReviewSlide(jctx, audience, page, total)
			results[i] = fb
			return err
		})
		if err != nil {
			return nil, busyOr(err)
		}
		go func() {
			done <- outcome{index: i, err: <-res}
		}()
	}

	completed, failed := 0, 0
	var firstErr error
	for range total {
		var out outcome
		select {
		case out = <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if out.err != nil || results[out.index] == nil {
			failed++
			if firstErr == nil {
				firstErr = out.err
			}
			h.log.Warn("slide review failed", "user_id", userID, "slide", pages[out.index].Number, "error", out.err)
			_ = emit.Error(fmt.Sprintf("Slide %d could not be reviewed.", pages[out.index].Number))
			continue
		}
		if err := emit.Unit(results[out.index]); err != nil {
			return nil, err
		}
		completed++
		if err := emit.Progress(stream.StepAnalyzing, completed, total); err != nil {
			return nil, err
		}
	}
	if failed == total {
		return nil, fmt.Errorf("all %d slides failed: %w", total, firstErr)
	}

	slides := make([]coach.SlideFeedback, 0, completed)
	for _, fb := range results {
		if fb != nil {
			slides = append(slides, *fb)
		}
	}
	return slides, nil
}

func (h *Handler) analyzeRecording(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.ownedSource(c, user, &req) {
		return
	}
	if !h.consumeQuota(c, user, quotaAnalyses) {
		return
	}

	h.runStream(c, string(models.ReviewRecording), func(ctx context.Context, scope *media.Scope, emit *stream.Emitter) error {
		transcript, err := h.media.Transcript(ctx, scope, req.URL, req.FileName, progressTo(emit))
		if err != nil {
			return err
		}
		// scratch audio is no longer needed once the transcript exists
		scope.Release()

		if err := emit.Status(stream.StepAnalyzing); err != nil {
			return err
		}
		var fb *coach.RecordingFeedback
		err = h.jobs.Do(ctx, user.ID, func(jctx context.Context) error {
			var err error
			fb, err = h.analyst.ReviewRecording(jctx, req.Audience, transcript)
			return err
		})
		if err != nil {
			return busyOr(err)
		}
		reviewID := h.saveReview(ctx, user.ID, models.ReviewRecording, req, fb)
		return emit.Summary(recordingSummaryPayload{RecordingFeedback: fb, ReviewID: reviewID})
	})
}

type streamJob func(ctx context.Context, scope *media.Scope, emit *stream.Emitter) error

// runStream holds the response open for job. From here on every failure is
// reported in-band and the scope is released before the sentinel.
func (h *Handler) runStream(c *gin.Context, kind string, job streamJob) {
	w, err := stream.Open(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.streamTimeout)
	defer cancel()

	h.metrics.StreamOpened(kind)
	scope := h.media.NewScope()
	err = stream.Run(ctx, w, scope.Release, func(ctx context.Context, emit *stream.Emitter) error {
		return job(ctx, scope, emit)
	})
	h.metrics.StreamClosed(kind, err != nil)
	if err != nil {
		h.log.Warn("analysis stream failed", "kind", kind, "error", err)
	}
}

// progressTo forwards pipeline stages as status events.
func progressTo(emit *stream.Emitter) media.ProgressFunc {
	return func(stage string, done, total int) {
		if total > 0 {
			_ = emit.Progress(stage, done, total)
			return
		}
		_ = emit.Status(stage)
	}
}

func busyOr(err error) error {
	if errors.Is(err, worker.ErrDispatcherBusy) || errors.Is(err, worker.ErrDispatcherClosed) {
		return stream.Public(errBusy, err)
	}
	return err
}

func (h *Handler) saveReview(ctx context.Context, userID int64, kind models.ReviewKind, req analyzeRequest, result any) string {
	raw, err := json.Marshal(result)
	if err != nil {
		h.log.Error("encode review", "error", err)
		return ""
	}
	review := &models.Review{
		UserID:    userID,
		Kind:      kind,
		FileName:  req.FileName,
		SourceURL: req.URL,
		Audience:  req.Audience,
		Result:    raw,
	}
	if err := h.coach.SaveReview(ctx, review); err != nil {
		h.log.Error("save review", "user_id", userID, "kind", kind, "error", err)
		return ""
	}
	return review.ID
}
