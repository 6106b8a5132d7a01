// Package blobstore is the remote object storage used for uploads: files on
// disk indexed in the database and served through sealed, expiring URLs.
package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"podiumgo/internal/logger"
	"podiumgo/internal/models"
)

var (
	ErrNotFound = errors.New("blob not found")
	ErrTooLarge = errors.New("blob exceeds size limit")
)

type Config struct {
	Dir     string
	BaseURL string
	TTL     time.Duration
	Key     string
	// MaxSize caps a single upload; zero means unlimited.
	MaxSize int64
}

// Object describes a stored upload as returned to clients.
type Object struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store struct {
	db      *sql.DB
	dir     string
	baseURL string
	ttl     time.Duration
	maxSize int64
	sealer  *sealer
	log     *slog.Logger
	now     func() time.Time
}

func New(db *sql.DB, cfg Config, log *slog.Logger) (*Store, error) {
	log = logger.OrNop(log)
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	s, generated, err := newSealer(cfg.Key)
	if err != nil {
		return nil, err
	}
	if generated {
		log.Warn("no blob key configured, using a random key; blob URLs will not survive a restart")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		db:      db,
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		ttl:     ttl,
		maxSize: cfg.MaxSize,
		sealer:  s,
		log:     log,
		now:     time.Now,
	}, nil
}

// Upload stores r for userID and returns its public URL.
func (s *Store) Upload(ctx context.Context, userID int64, fileName, mimeType string, r io.Reader) (Object, error) {
	id := uuid.NewString()
	stored := filepath.Join(s.dir, id+strings.ToLower(filepath.Ext(fileName)))
	f, err := os.OpenFile(stored, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Object{}, fmt.Errorf("create blob file: %w", err)
	}
	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	size, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxSize > 0 && size > s.maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(stored)
		if errors.Is(err, ErrTooLarge) {
			return Object{}, err
		}
		return Object{}, fmt.Errorf("write blob: %w", err)
	}

	now := s.now().UTC()
	blob := models.Blob{
		ID:         id,
		UserID:     userID,
		FileName:   filepath.Base(fileName),
		StoredPath: stored,
		MimeType:   mimeType,
		Size:       size,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blobs (id, user_id, file_name, stored_path, mime_type, size, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		blob.ID, blob.UserID, blob.FileName, blob.StoredPath, blob.MimeType, blob.Size, blob.CreatedAt, blob.ExpiresAt)
	if err != nil {
		os.Remove(stored)
		return Object{}, fmt.Errorf("insert blob: %w", err)
	}
	link, err := s.URLFor(id)
	if err != nil {
		return Object{}, err
	}
	return Object{
		ID:        blob.ID,
		URL:       link,
		FileName:  blob.FileName,
		MimeType:  blob.MimeType,
		Size:      blob.Size,
		ExpiresAt: blob.ExpiresAt,
	}, nil
}

// URLFor builds the public URL of a blob id.
func (s *Store) URLFor(id string) (string, error) {
	token, err := s.sealer.Seal(id)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/blobs/" + token, nil
}

// Resolve returns the live blob behind a URL token.
func (s *Store) Resolve(ctx context.Context, token string) (*models.Blob, error) {
	id, err := s.sealer.Open(token)
	if err != nil {
		return nil, ErrNotFound
	}
	blob, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if blob.Expired(s.now().UTC()) {
		return nil, ErrNotFound
	}
	return blob, nil
}

// Owned resolves a full blob URL issued by this store and checks it belongs
// to userID.
func (s *Store) Owned(ctx context.Context, userID int64, rawURL string) (*models.Blob, error) {
	token := s.tokenFromURL(rawURL)
	if token == "" {
		return nil, ErrNotFound
	}
	blob, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if blob.UserID != userID {
		return nil, ErrNotFound
	}
	return blob, nil
}

func (s *Store) get(ctx context.Context, id string) (*models.Blob, error) {
	var b models.Blob
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, file_name, stored_path, mime_type, size, created_at, expires_at
		FROM blobs WHERE id = ?`, id).
		Scan(&b.ID, &b.UserID, &b.FileName, &b.StoredPath, &b.MimeType, &b.Size, &b.CreatedAt, &b.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load blob: %w", err)
	}
	return &b, nil
}

// Delete removes the blobs behind urls that belong to userID. It is best
// effort: unknown, foreign or malformed URLs are skipped and failures are
// logged. It reports how many blobs were removed.
func (s *Store) Delete(ctx context.Context, userID int64, urls []string) int {
	deleted := 0
	for _, raw := range urls {
		token := s.tokenFromURL(raw)
		if token == "" {
			continue
		}
		id, err := s.sealer.Open(token)
		if err != nil {
			continue
		}
		blob, err := s.get(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.Warn("delete blob lookup", "id", id, "error", err)
			}
			continue
		}
		if blob.UserID != userID {
			continue
		}
		if err := s.remove(ctx, blob); err != nil {
			s.log.Warn("delete blob", "id", id, "error", err)
			continue
		}
		deleted++
	}
	return deleted
}

// SweepExpired removes every blob past its expiry.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stored_path FROM blobs WHERE expires_at <= ?`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired blobs: %w", err)
	}
	var expired []*models.Blob
	for rows.Next() {
		var b models.Blob
		if err := rows.Scan(&b.ID, &b.StoredPath); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired blob: %w", err)
		}
		expired = append(expired, &b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, b := range expired {
		if err := s.remove(ctx, b); err != nil {
			s.log.Warn("sweep blob", "id", b.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Usage reports the bytes currently stored for userID.
func (s *Store) Usage(ctx context.Context, userID int64) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM blobs WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("blob usage: %w", err)
	}
	return total.Int64, nil
}

func (s *Store) remove(ctx context.Context, b *models.Blob) error {
	if err := os.Remove(b.StoredPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, b.ID)
	return err
}

// tokenFromURL extracts the token of a URL this store issued. A URL on any
// other origin or path yields "".
func (s *Store) tokenFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return ""
	}
	base, err := url.Parse(s.baseURL)
	if err != nil || !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return ""
	}
	token, ok := strings.CutPrefix(u.Path, base.Path+"/blobs/")
	if !ok || token == "" || strings.Contains(token, "/") {
		return ""
	}
	return token
}
