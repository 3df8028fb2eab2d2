package stages

import (
	"context"
	"fmt"

	"media-pipeline-orchestrator/internal/config"
	"media-pipeline-orchestrator/internal/models"
	"media-pipeline-orchestrator/internal/scheduler"
)

// FrameSource lists the frame keys extraction produced for a media item.
type FrameSource interface {
	ListFrames(ctx context.Context, mediaID string) ([]string, error)
}

// ObservationWriter persists analysis results.
type ObservationWriter interface {
	SaveObservations(ctx context.Context, mediaID string, obs []models.Observation) error
}

// Analyzer sends a media item's sampled frames to the external AI service
// and stores the labeled observations it returns.
type Analyzer struct {
	client *aiClient
	frames FrameSource
	sink   ObservationWriter
	pacer  Pacer
}

// NewAnalyzer builds the analyze-stage executor. pacer may be nil.
func NewAnalyzer(cfg config.Config, frames FrameSource, sink ObservationWriter, pacer Pacer) *Analyzer {
	return &Analyzer{
		client: newAIClient(cfg.AIServiceURL, cfg.AIServiceTimeout),
		frames: frames,
		sink:   sink,
		pacer:  pacer,
	}
}

type analyzeRequest struct {
	MediaID         string   `json:"media_id"`
	Frames          []string `json:"frames"`
	MaxObservations int      `json:"max_observations,omitempty"`
}

type analyzeResponse struct {
	Observations []models.Observation `json:"observations"`
}

// Execute analyzes the item's frames. Frames may be empty when extraction
// was skipped; the AI service then analyzes from the media reference alone.
func (a *Analyzer) Execute(ctx context.Context, job models.Job, report scheduler.ProgressFunc) error {
	keys, err := a.frames.ListFrames(ctx, job.MediaID)
	if err != nil {
		return fmt.Errorf("list frames: %w", err)
	}
	if report != nil {
		report(25)
	}

	if a.pacer != nil {
		if err := a.pacer.WaitForSlot(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req := analyzeRequest{
		MediaID:         job.MediaID,
		Frames:          keys,
		MaxObservations: job.Options.Params.MaxObservations,
	}
	var resp analyzeResponse
	if err := a.client.postJSON(ctx, "/v1/analyze", req, &resp); err != nil {
		return err
	}
	if report != nil {
		report(75)
	}

	obs := resp.Observations
	if limit := job.Options.Params.MaxObservations; limit > 0 && len(obs) > limit {
		obs = obs[:limit]
	}
	if err := a.sink.SaveObservations(ctx, job.MediaID, obs); err != nil {
		return fmt.Errorf("save observations: %w", err)
	}
	return nil
}
