package models

import (
	"time"
)

// Stage identifies one phase of the processing pipeline.
type Stage string

const (
	StageExtract      Stage = "extract"
	StageAnalyze      Stage = "analyze"
	StageIntelligence Stage = "derive_intelligence"
	// StageComplete marks the end of the pipeline. No job is ever created
	// for it; the routing table returns it when nothing remains to run.
	StageComplete Stage = "complete"
)

// JobStatus enumerates the lifecycle states of a stage job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is one stage of work for a media item. Jobs live entirely in memory;
// only the media item's lifecycle is persisted.
type Job struct {
	ID          string        `json:"id"`
	MediaID     string        `json:"media_id"`
	Stage       Stage         `json:"stage"`
	Status      JobStatus     `json:"status"`
	Priority    int           `json:"priority"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Progress    int           `json:"progress"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Options     SubmitOptions `json:"options"`
}

// StageFlags selects which optional pipeline stages run for a submission.
// All stages are enabled by default; flags only turn stages off.
type StageFlags struct {
	SkipExtract      bool `json:"skip_extract,omitempty"`
	SkipAnalyze      bool `json:"skip_analyze,omitempty"`
	SkipIntelligence bool `json:"skip_intelligence,omitempty"`
}

// Enabled reports whether the given stage is part of this submission's
// pipeline. StageComplete is always enabled since it is the terminal marker.
func (f StageFlags) Enabled(s Stage) bool {
	switch s {
	case StageExtract:
		return !f.SkipExtract
	case StageAnalyze:
		return !f.SkipAnalyze
	case StageIntelligence:
		return !f.SkipIntelligence
	default:
		return true
	}
}

// StageParams carries per-stage tuning across the whole pipeline run.
type StageParams struct {
	// SampleIntervalSec is the spacing between sampled frames in seconds.
	SampleIntervalSec float64 `json:"sample_interval_sec,omitempty"`
	// MaxFrames caps how many frames the extract stage produces.
	MaxFrames int `json:"max_frames,omitempty"`
	// FrameWidth is the resize target for sampled frames in pixels.
	FrameWidth int `json:"frame_width,omitempty"`
	// MaxObservations caps how many observations analysis keeps per item.
	MaxObservations int `json:"max_observations,omitempty"`
}

// SubmitOptions is the payload a submission carries through every stage job
// spawned for it. Descendant jobs of one submission share the same options.
type SubmitOptions struct {
	Priority    int         `json:"priority"`
	MaxAttempts int         `json:"max_attempts"`
	Stages      StageFlags  `json:"stages"`
	Params      StageParams `json:"params"`
}

// Normalize fills unset priority and attempt limits with the given defaults.
func (o *SubmitOptions) Normalize(defaultPriority, defaultMaxAttempts int) {
	if o.Priority == 0 {
		o.Priority = defaultPriority
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
}
