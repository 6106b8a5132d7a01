package stream

import (
	"context"
	"errors"

	"podiumgo/internal/media"
)

const genericMessage = "Something went wrong while analyzing your presentation. Please try again."

// PublicError carries a message that is safe to show to the user.
type PublicError struct {
	Message string
	Err     error
}

func (e *PublicError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *PublicError) Unwrap() error { return e.Err }

// Public wraps err with a user-facing message.
func Public(message string, err error) error {
	return &PublicError{Message: message, Err: err}
}

// UserMessage maps err to text that never leaks internal details.
func UserMessage(err error) string {
	var pe *PublicError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Message
	case media.IsFetchError(err):
		return "We could not download your upload. Please try again in a moment."
	case errors.Is(err, media.ErrTranscode):
		return "We could not process this media file. Please try a different recording."
	case errors.Is(err, media.ErrExtract):
		return "We could not read text from this document. Please try a different file."
	case errors.Is(err, context.DeadlineExceeded):
		return "The analysis took too long. Please try again."
	default:
		return genericMessage
	}
}
