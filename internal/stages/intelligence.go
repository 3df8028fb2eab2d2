package stages

import (
	"context"
	"errors"
	"fmt"

	"media-pipeline-orchestrator/internal/config"
	"media-pipeline-orchestrator/internal/models"
	"media-pipeline-orchestrator/internal/scheduler"
)

// ObservationSource lists stored analysis observations.
type ObservationSource interface {
	ListObservations(ctx context.Context, mediaID string) ([]models.Observation, error)
}

// InsightWriter persists the derived summary.
type InsightWriter interface {
	SaveInsight(ctx context.Context, mediaID, summary string) error
}

// IntelligenceDeriver asks the AI service for a summary over a media item's
// observations and stores the result.
type IntelligenceDeriver struct {
	client       *aiClient
	observations ObservationSource
	sink         InsightWriter
	pacer        Pacer
}

// NewIntelligenceDeriver builds the derive-intelligence executor. pacer may
// be nil.
func NewIntelligenceDeriver(cfg config.Config, observations ObservationSource, sink InsightWriter, pacer Pacer) *IntelligenceDeriver {
	return &IntelligenceDeriver{
		client:       newAIClient(cfg.AIServiceURL, cfg.AIServiceTimeout),
		observations: observations,
		sink:         sink,
		pacer:        pacer,
	}
}

type summarizeRequest struct {
	MediaID      string               `json:"media_id"`
	Observations []models.Observation `json:"observations"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

func (d *IntelligenceDeriver) Execute(ctx context.Context, job models.Job, report scheduler.ProgressFunc) error {
	obs, err := d.observations.ListObservations(ctx, job.MediaID)
	if err != nil {
		return fmt.Errorf("list observations: %w", err)
	}
	if report != nil {
		report(25)
	}

	if d.pacer != nil {
		if err := d.pacer.WaitForSlot(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var resp summarizeResponse
	if err := d.client.postJSON(ctx, "/v1/summarize", summarizeRequest{MediaID: job.MediaID, Observations: obs}, &resp); err != nil {
		return err
	}
	if resp.Summary == "" {
		return errors.New("ai service returned an empty summary")
	}
	if err := d.sink.SaveInsight(ctx, job.MediaID, resp.Summary); err != nil {
		return fmt.Errorf("save insight: %w", err)
	}
	if report != nil {
		report(100)
	}
	return nil
}
