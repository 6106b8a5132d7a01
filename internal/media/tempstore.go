// Package media turns uploaded recordings and slide decks into model-ready
// text: it fetches remote uploads into scratch files, normalizes and splits
// audio under the speech-to-text ceilings, transcribes chunks in order and
// extracts per-page text from PDF decks.
package media

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"podiumgo/internal/logger"
)

// Handle points at one scratch file.
type Handle struct {
	Path string
	Ext  string
}

// Acquirer hands out fresh scratch files.
type Acquirer interface {
	Acquire(ext string) (Handle, error)
}

// Store creates and removes scratch files below a single directory. Names are
// random so concurrent requests never share a file and need no locking.
type Store struct {
	dir    string
	prefix string
	log    *slog.Logger
}

func NewStore(dir string, log *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve temp dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Store{dir: abs, prefix: "podium", log: logger.OrNop(log)}, nil
}

func (s *Store) Dir() string { return s.dir }

// Acquire creates an empty file named <prefix>-<32 hex><ext>.
func (s *Store) Acquire(ext string) (Handle, error) {
	ext = normalizeExt(ext)
	for i := 0; i < 3; i++ {
		var buf [16]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return Handle{}, fmt.Errorf("temp name: %w", err)
		}
		path := filepath.Join(s.dir, s.prefix+"-"+hex.EncodeToString(buf[:])+ext)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return Handle{}, fmt.Errorf("create temp file: %w", err)
		}
		f.Close()
		return Handle{Path: path, Ext: ext}, nil
	}
	return Handle{}, errors.New("create temp file: name collision")
}

// Release removes every handle. Missing files are ignored and other failures
// are logged; nothing is returned to the caller.
func (s *Store) Release(handles ...Handle) {
	for _, h := range handles {
		if h.Path == "" {
			continue
		}
		if err := os.Remove(h.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("remove temp file", "path", h.Path, "error", err)
		}
	}
}

// Sweep removes scratch files older than maxAge that a crashed request left
// behind. It returns how many were removed.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), s.prefix+"-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("sweep temp file", "name", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Scope tracks the handles one job acquires so a single deferred Release
// cleans all of them up, whatever path the job exits through.
type Scope struct {
	store *Store

	mu       sync.Mutex
	handles  []Handle
	released bool
}

func (s *Store) NewScope() *Scope {
	return &Scope{store: s}
}

func (sc *Scope) Acquire(ext string) (Handle, error) {
	h, err := sc.store.Acquire(ext)
	if err != nil {
		return Handle{}, err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.released {
		sc.store.Release(h)
		return Handle{}, errors.New("temp scope already released")
	}
	sc.handles = append(sc.handles, h)
	return h, nil
}

// Release frees every recorded handle. Later calls do nothing.
func (sc *Scope) Release() {
	sc.mu.Lock()
	if sc.released {
		sc.mu.Unlock()
		return
	}
	sc.released = true
	handles := sc.handles
	sc.handles = nil
	sc.mu.Unlock()
	sc.store.Release(handles...)
}

// Handles returns a copy of the handles still held.
func (sc *Scope) Handles() []Handle {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]Handle(nil), sc.handles...)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// extFromName derives the scratch extension from an original file name.
func extFromName(name string) string {
	ext := normalizeExt(filepath.Ext(name))
	if ext == "" || ext == "." {
		return ".bin"
	}
	return ext
}
