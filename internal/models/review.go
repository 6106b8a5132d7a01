package models

import (
	"encoding/json"
	"time"
)

type ReviewKind string

const (
	ReviewDeck      ReviewKind = "deck"
	ReviewRecording ReviewKind = "recording"
)

// Review is the persisted outcome of one finished analysis stream.
type Review struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"user_id"`
	Kind      ReviewKind      `json:"kind"`
	FileName  string          `json:"file_name"`
	SourceURL string          `json:"source_url"`
	Audience  string          `json:"audience"`
	Result    json.RawMessage `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}
