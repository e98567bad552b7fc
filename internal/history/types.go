package history

import (
	"context"
	"time"
)

// Entry records one completed synthesis request.
type Entry struct {
	ID                string    `json:"id"`
	Voice             string    `json:"voice"`
	Text              string    `json:"text"`
	Mode              string    `json:"mode"`
	Outcome           string    `json:"outcome"`
	Words             int       `json:"words"`
	AudioSeconds      float64   `json:"audio_seconds"`
	ProcessingSeconds float64   `json:"processing_seconds"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store persists and retrieves the synthesis ledger.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
