package blobstore

import (
	"errors"
	"mime"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

// Handler serves GET /{token}. Mount it under the /blobs prefix.
func (s *Store) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/{token}", s.serveBlob)
	r.Head("/{token}", s.serveBlob)
	return r
}

func (s *Store) serveBlob(w http.ResponseWriter, r *http.Request) {
	blob, err := s.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.log.Error("resolve blob", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	f, err := os.Open(blob.StoredPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	if blob.MimeType != "" {
		w.Header().Set("Content-Type", blob.MimeType)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": blob.FileName}))
	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeContent(w, r, blob.FileName, blob.CreatedAt, f)
}
