package models

import "time"

// MediaStatus enumerates lifecycle states persisted for a media item.
const (
	MediaPending    = "pending"
	MediaProcessing = "processing"
	MediaCompleted  = "completed"
	MediaFailed     = "failed"
)

// MediaItem is the caller-level unit of work tracked across stage jobs.
type MediaItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SourceURL string    `json:"source_url"`
	Status    string    `json:"status"`
	LastError *string   `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Observation is a single labeled finding the analysis stage produced for
// one sampled frame.
type Observation struct {
	FrameKey    string  `json:"frame_key"`
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}
