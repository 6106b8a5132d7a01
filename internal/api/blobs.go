package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"podiumgo/internal/blobstore"
)

// sniffed content types accepted for upload; entries ending in "/" match a
// whole family.
var allowedContentTypes = []string{
	"application/pdf",
	"application/ogg",
	"audio/",
	"video/",
}

// containers DetectContentType does not recognise.
var extensionContentTypes = map[string]string{
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".flac": "audio/flac",
}

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

// sniffContentType classifies an upload from its first bytes, falling back
// to the extension for formats the sniffer reports as opaque binary.
func sniffContentType(head []byte, fileName string) string {
	ct := http.DetectContentType(head)
	if ct == "application/octet-stream" {
		if byExt, ok := extensionContentTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
			return byExt
		}
	}
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

func (h *Handler) uploadBlob(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
		return
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	usage, err := h.blobs.Usage(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calculate usage failed"})
		return
	}
	if usage+file.Size > h.userStorageLimit {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "storage quota exceeded"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	contentType := sniffContentType(head[:n], file.Filename)
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported file type"})
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
		return
	}

	obj, err := h.blobs.Upload(c.Request.Context(), user.ID, filepath.Base(file.Filename), contentType, f)
	if err != nil {
		if errors.Is(err, blobstore.ErrTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		h.log.Error("store upload", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"blob":  obj,
		"used":  usage + obj.Size,
		"limit": h.userStorageLimit,
	})
}

func (h *Handler) deleteBlobs(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	deleted := h.blobs.Delete(c.Request.Context(), user.ID, req.URLs)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
