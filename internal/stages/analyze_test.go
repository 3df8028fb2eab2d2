package stages

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"media-pipeline-orchestrator/internal/config"
	"media-pipeline-orchestrator/internal/models"
)

type fakeFrameSource struct {
	keys []string
}

func (s fakeFrameSource) ListFrames(context.Context, string) ([]string, error) {
	return s.keys, nil
}

type fakeObsWriter struct {
	mu    sync.Mutex
	saved []models.Observation
}

func (w *fakeObsWriter) SaveObservations(_ context.Context, _ string, obs []models.Observation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saved = obs
	return nil
}

type countingPacer struct {
	mu    sync.Mutex
	waits int
}

func (p *countingPacer) WaitForSlot(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return nil
}

func TestAnalyzerSendsFramesAndStoresObservations(t *testing.T) {
	var gotReq analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyze" {
			t.Errorf("path = %s, want /v1/analyze", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(analyzeResponse{Observations: []models.Observation{
			{FrameKey: "frames/m1/t0000.0.jpg", Label: "person", Confidence: 0.92},
			{FrameKey: "frames/m1/t0010.0.jpg", Label: "car", Confidence: 0.71},
			{FrameKey: "frames/m1/t0020.0.jpg", Label: "tree", Confidence: 0.44},
		}})
	}))
	defer srv.Close()

	cfg := config.Config{AIServiceURL: srv.URL}
	writer := &fakeObsWriter{}
	pacer := &countingPacer{}
	a := NewAnalyzer(cfg, fakeFrameSource{keys: []string{"frames/m1/t0000.0.jpg", "frames/m1/t0010.0.jpg"}}, writer, pacer)

	job := models.Job{
		MediaID: "m1",
		Stage:   models.StageAnalyze,
		Options: models.SubmitOptions{Params: models.StageParams{MaxObservations: 2}},
	}
	if err := a.Execute(context.Background(), job, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if gotReq.MediaID != "m1" || len(gotReq.Frames) != 2 {
		t.Fatalf("request = %+v, want media m1 with 2 frames", gotReq)
	}
	if pacer.waits != 1 {
		t.Fatalf("pacer waits = %d, want 1", pacer.waits)
	}
	// Output limit trims the response.
	if len(writer.saved) != 2 || writer.saved[0].Label != "person" {
		t.Fatalf("saved observations = %+v, want first 2", writer.saved)
	}
}

func TestAnalyzerPropagatesServiceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewAnalyzer(config.Config{AIServiceURL: srv.URL}, fakeFrameSource{}, &fakeObsWriter{}, nil)
	job := models.Job{MediaID: "m1", Stage: models.StageAnalyze}
	if err := a.Execute(context.Background(), job, nil); err == nil {
		t.Fatal("expected error from failing ai service")
	}
}
