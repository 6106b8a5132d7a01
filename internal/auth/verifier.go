package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"podiumgo/internal/models"
)

// Result is the outcome of verifying a credential: either an authenticated
// user or a rejection carrying the HTTP status to answer with.
type Result struct {
	user    *models.User
	status  int
	message string
}

func Ok(user *models.User) Result {
	return Result{user: user}
}

func Rejected(status int, message string) Result {
	return Result{status: status, message: message}
}

// User returns the verified user when the result is Ok.
func (r Result) User() (*models.User, bool) {
	return r.user, r.user != nil
}

// Rejection returns the status and message when the result is Rejected.
func (r Result) Rejection() (int, string, bool) {
	if r.user != nil {
		return 0, "", false
	}
	status := r.status
	if status == 0 {
		status = http.StatusUnauthorized
	}
	return status, r.message, true
}

// Verify resolves an opaque credential to the user it belongs to.
func (s *Service) Verify(ctx context.Context, credential string) Result {
	if credential == "" {
		return Rejected(http.StatusUnauthorized, "authorization required")
	}
	userID, err := s.ValidateToken(ctx, credential)
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenRequired):
		return Rejected(http.StatusUnauthorized, err.Error())
	case err != nil:
		s.log.Error("validate token", "error", err)
		return Rejected(http.StatusInternalServerError, "authentication unavailable")
	}

	var user models.User
	err = s.db.QueryRowContext(ctx,
		`SELECT id, email, plan, created_at FROM users WHERE id = ?`, userID,
	).Scan(&user.ID, &user.Email, &user.Plan, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.RevokeToken(ctx, credential)
			return Rejected(http.StatusUnauthorized, "account no longer exists")
		}
		s.log.Error("load user", "user_id", userID, "error", err)
		return Rejected(http.StatusInternalServerError, "authentication unavailable")
	}
	return Ok(&user)
}
