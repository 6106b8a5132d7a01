package coach

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"podiumgo/internal/models"
)

const defaultReviewListLimit = 50

// SaveReview stores the outcome of a finished analysis.
func (s *Service) SaveReview(ctx context.Context, review *models.Review) error {
	if review == nil || review.UserID <= 0 {
		return errors.New("review with user_id is required")
	}
	if review.Kind != models.ReviewDeck && review.Kind != models.ReviewRecording {
		return fmt.Errorf("unknown review kind %q", review.Kind)
	}
	if len(review.Result) == 0 || !json.Valid(review.Result) {
		return errors.New("review result must be valid json")
	}
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, user_id, kind, file_name, source_url, audience, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		review.ID, review.UserID, review.Kind, review.FileName, review.SourceURL, review.Audience,
		string(review.Result), review.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save review: %w", err)
	}
	return nil
}

// ListReviews returns the user's newest reviews first.
func (s *Service) ListReviews(ctx context.Context, userID int64, limit int) ([]models.Review, error) {
	if limit <= 0 {
		limit = defaultReviewListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, file_name, source_url, audience, result, created_at
		 FROM reviews WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *r)
	}
	return reviews, rows.Err()
}

func (s *Service) GetReview(ctx context.Context, userID int64, id string) (*models.Review, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, file_name, source_url, audience, result, created_at
		 FROM reviews WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*models.Review, error) {
	var (
		r      models.Review
		result string
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Kind, &r.FileName, &r.SourceURL, &r.Audience, &result, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}
	r.Result = json.RawMessage(result)
	return &r, nil
}
