package stages

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-pipeline-orchestrator/internal/config"
	"media-pipeline-orchestrator/internal/models"
)

type fakeCatalog struct {
	item models.MediaItem
}

func (c fakeCatalog) GetMediaItem(context.Context, string) (models.MediaItem, error) {
	return c.item, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	frames map[string]float64
}

func (r *fakeRecorder) SaveFrame(_ context.Context, _ string, key string, ts float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frames == nil {
		r.frames = make(map[string]float64)
	}
	r.frames[key] = ts
	return nil
}

func testFrameServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Query().Get("t"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv, &requested
}

func TestExtractorSamplesAndStoresFrames(t *testing.T) {
	srv, requested := testFrameServer(t)
	tempDir := t.TempDir()

	cfg := config.Config{
		FrameOutputDir:       tempDir,
		FrameDownloadTimeout: 2 * time.Second,
		FrameMaxBytes:        2 * 1024 * 1024,
		FrameDefaultWidth:    8,
	}
	recorder := &fakeRecorder{}
	catalog := fakeCatalog{item: models.MediaItem{ID: "m1", SourceURL: srv.URL}}

	ex, err := NewExtractor(context.Background(), cfg, catalog, recorder)
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}

	var progress []int
	job := models.Job{
		ID:      "job-1",
		MediaID: "m1",
		Stage:   models.StageExtract,
		Options: models.SubmitOptions{
			Params: models.StageParams{SampleIntervalSec: 2.5, MaxFrames: 3, FrameWidth: 8},
		},
	}
	if err := ex.Execute(context.Background(), job, func(p int) { progress = append(progress, p) }); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(recorder.frames) != 3 {
		t.Fatalf("recorded frames = %d, want 3", len(recorder.frames))
	}
	want := []string{"0.0", "2.5", "5.0"}
	if len(*requested) != len(want) {
		t.Fatalf("frame requests = %v, want timestamps %v", *requested, want)
	}
	for i, ts := range want {
		if (*requested)[i] != ts {
			t.Fatalf("frame requests = %v, want timestamps %v", *requested, want)
		}
	}

	for key := range recorder.frames {
		data, err := os.ReadFile(filepath.Join(tempDir, filepath.FromSlash(key)))
		if err != nil {
			t.Fatalf("frame %s not written: %v", key, err)
		}
		out, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode frame %s: %v", key, err)
		}
		if out.Bounds().Dx() != 8 {
			t.Fatalf("frame width = %d, want 8", out.Bounds().Dx())
		}
	}

	if len(progress) != 3 || progress[len(progress)-1] != 100 {
		t.Fatalf("progress reports = %v, want 3 reports ending at 100", progress)
	}
}

func TestExtractorRejectsMissingSource(t *testing.T) {
	cfg := config.Config{FrameOutputDir: t.TempDir()}
	ex, err := NewExtractor(context.Background(), cfg, fakeCatalog{item: models.MediaItem{ID: "m1"}}, &fakeRecorder{})
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	job := models.Job{MediaID: "m1", Stage: models.StageExtract}
	if err := ex.Execute(context.Background(), job, nil); err == nil {
		t.Fatal("expected error for media item without a source url")
	}
}
