// Package stages implements the pipeline's stage executors. Each executor
// performs the I/O for one stage and reports success or failure back to the
// scheduler; orchestration policy lives entirely outside this package.
package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"media-pipeline-orchestrator/internal/config"
	"media-pipeline-orchestrator/internal/models"
	"media-pipeline-orchestrator/internal/scheduler"
)

// MediaCatalog resolves a media item's source location.
type MediaCatalog interface {
	GetMediaItem(ctx context.Context, id string) (models.MediaItem, error)
}

// FrameRecorder persists references to sampled frames.
type FrameRecorder interface {
	SaveFrame(ctx context.Context, mediaID, frameKey string, tsSeconds float64) error
}

type frameUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

const (
	defaultSampleInterval = 10.0
	defaultMaxFrames      = 10
)

// Extractor samples frames from a media item's source, resizes them, and
// uploads them to local disk or S3. The source URL is expected to render a
// frame for a given timestamp via its "t" query parameter.
type Extractor struct {
	catalog      MediaCatalog
	frames       FrameRecorder
	httpClient   *http.Client
	uploader     frameUploader
	defaultWidth int
	maxBytes     int64
}

// NewExtractor builds the extract-stage executor, choosing an uploader from
// config (S3 when a bucket is set, local disk otherwise).
func NewExtractor(ctx context.Context, cfg config.Config, catalog MediaCatalog, frames FrameRecorder) (*Extractor, error) {
	timeout := cfg.FrameDownloadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var uploader frameUploader
	if cfg.FrameS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		uploader = &s3Uploader{client: client, bucket: cfg.FrameS3Bucket}
	} else {
		baseDir := cfg.FrameOutputDir
		if baseDir == "" {
			baseDir = "./frames"
		}
		uploader = &localUploader{baseDir: baseDir}
	}

	width := cfg.FrameDefaultWidth
	if width <= 0 {
		width = 640
	}
	maxBytes := cfg.FrameMaxBytes
	if maxBytes <= 0 {
		maxBytes = 25 * 1024 * 1024
	}

	return &Extractor{
		catalog:      catalog,
		frames:       frames,
		httpClient:   &http.Client{Timeout: timeout},
		uploader:     uploader,
		defaultWidth: width,
		maxBytes:     maxBytes,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.FrameS3Region),
	}
	if cfg.FrameS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.FrameS3Endpoint,
					HostnameImmutable: cfg.FrameS3PathStyle,
					SigningRegion:     cfg.FrameS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.FrameS3PathStyle
	}), nil
}

// Execute samples, resizes, and stores frames for the job's media item.
func (e *Extractor) Execute(ctx context.Context, job models.Job, report scheduler.ProgressFunc) error {
	item, err := e.catalog.GetMediaItem(ctx, job.MediaID)
	if err != nil {
		return fmt.Errorf("resolve media source: %w", err)
	}
	if item.SourceURL == "" {
		return errors.New("media item has no source url")
	}

	interval := job.Options.Params.SampleIntervalSec
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	maxFrames := job.Options.Params.MaxFrames
	if maxFrames <= 0 {
		maxFrames = defaultMaxFrames
	}
	width := job.Options.Params.FrameWidth
	if width <= 0 {
		width = e.defaultWidth
	}

	for i := 0; i < maxFrames; i++ {
		ts := float64(i) * interval
		frameSrc, err := frameURL(item.SourceURL, ts)
		if err != nil {
			return fmt.Errorf("build frame url: %w", err)
		}
		data, err := e.download(ctx, frameSrc)
		if err != nil {
			return fmt.Errorf("frame at %.1fs: %w", ts, err)
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decode frame at %.1fs: %w", ts, err)
		}
		img = imaging.Resize(img, width, 0, imaging.Lanczos)

		buf := &bytes.Buffer{}
		if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
			return fmt.Errorf("encode frame at %.1fs: %w", ts, err)
		}

		key := frameKey(job.MediaID, ts)
		if _, err := e.uploader.Upload(ctx, key, buf.Bytes(), "image/jpeg"); err != nil {
			return fmt.Errorf("upload frame %s: %w", key, err)
		}
		if err := e.frames.SaveFrame(ctx, job.MediaID, key, ts); err != nil {
			return fmt.Errorf("record frame %s: %w", key, err)
		}
		if report != nil {
			report((i + 1) * 100 / maxFrames)
		}
	}
	return nil
}

func (e *Extractor) download(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	limited := io.LimitReader(resp.Body, e.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > e.maxBytes {
		return nil, fmt.Errorf("frame too large (>%d bytes)", e.maxBytes)
	}
	return body, nil
}

// frameURL appends the sample timestamp as a "t" query parameter.
func frameURL(source string, ts float64) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("t", strconv.FormatFloat(ts, 'f', 1, 64))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func frameKey(mediaID string, ts float64) string {
	return fmt.Sprintf("frames/%s/t%07.1f.jpg", mediaID, ts)
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}
