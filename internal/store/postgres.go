// Package store persists media-item lifecycle state and stage outputs in
// Postgres. It implements the scheduler's resolver and status-sink
// collaborator contracts; the job queue itself is never persisted.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"media-pipeline-orchestrator/internal/models"
)

// ErrNotFound means the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateMediaParams collects inputs required to register a media item.
type CreateMediaParams struct {
	Title     string
	SourceURL string
}

// CreateMediaItem registers a media item in pending state.
func (s *Store) CreateMediaItem(ctx context.Context, p CreateMediaParams) (models.MediaItem, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO media_items (id, title, source_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, id, p.Title, p.SourceURL, models.MediaPending, now)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("insert media item: %w", err)
	}
	return models.MediaItem{
		ID:        id,
		Title:     p.Title,
		SourceURL: p.SourceURL,
		Status:    models.MediaPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetMediaItem fetches a media item by id.
func (s *Store) GetMediaItem(ctx context.Context, id string) (models.MediaItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, source_url, status, last_error, created_at, updated_at
		FROM media_items WHERE id = $1
	`, id)

	var item models.MediaItem
	var lastErr pgtype.Text
	if err := row.Scan(&item.ID, &item.Title, &item.SourceURL, &item.Status, &lastErr, &item.CreatedAt, &item.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.MediaItem{}, fmt.Errorf("media item %s: %w", id, ErrNotFound)
		}
		return models.MediaItem{}, fmt.Errorf("scan media item: %w", err)
	}
	item.LastError = textPtr(lastErr)
	return item, nil
}

// ListMediaItems returns media items newest first.
func (s *Store) ListMediaItems(ctx context.Context, limit int) ([]models.MediaItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, source_url, status, last_error, created_at, updated_at
		FROM media_items ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query media items: %w", err)
	}
	defer rows.Close()

	var items []models.MediaItem
	for rows.Next() {
		var item models.MediaItem
		var lastErr pgtype.Text
		if err := rows.Scan(&item.ID, &item.Title, &item.SourceURL, &item.Status, &lastErr, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan media item: %w", err)
		}
		item.LastError = textPtr(lastErr)
		items = append(items, item)
	}
	return items, rows.Err()
}

// MediaExists implements the scheduler's resolver contract.
func (s *Store) MediaExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM media_items WHERE id = $1`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("count media item: %w", err)
	}
	return n > 0, nil
}

// MarkProcessing records that a media item's pipeline has begun.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	if err := s.setStatus(ctx, id, models.MediaProcessing, nil); err != nil {
		return err
	}
	return s.AppendAudit(ctx, id, "processing", "pipeline submitted")
}

// MarkCompleted records that the pipeline finished its terminal stage.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	if err := s.setStatus(ctx, id, models.MediaCompleted, nil); err != nil {
		return err
	}
	return s.AppendAudit(ctx, id, "completed", "pipeline finished")
}

// MarkFailed records a terminal stage failure with its message.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	if err := s.setStatus(ctx, id, models.MediaFailed, &message); err != nil {
		return err
	}
	return s.AppendAudit(ctx, id, "failed", message)
}

func (s *Store) setStatus(ctx context.Context, id, status string, lastError *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE media_items SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1
	`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("update media status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("media item %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveFrame records one sampled frame produced by the extract stage.
func (s *Store) SaveFrame(ctx context.Context, mediaID, frameKey string, tsSeconds float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO frames (media_id, frame_key, ts_seconds)
		VALUES ($1, $2, $3)
		ON CONFLICT (media_id, frame_key) DO UPDATE SET ts_seconds = EXCLUDED.ts_seconds
	`, mediaID, frameKey, tsSeconds)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// ListFrames returns a media item's frame keys in timestamp order.
func (s *Store) ListFrames(ctx context.Context, mediaID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT frame_key FROM frames WHERE media_id = $1 ORDER BY ts_seconds
	`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// SaveObservations replaces a media item's analysis observations.
func (s *Store) SaveObservations(ctx context.Context, mediaID string, obs []models.Observation) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `DELETE FROM observations WHERE media_id = $1`, mediaID); err != nil {
		return fmt.Errorf("clear observations: %w", err)
	}
	for _, o := range obs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO observations (id, media_id, frame_key, label, confidence, description)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), mediaID, o.FrameKey, o.Label, o.Confidence, o.Description); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ListObservations returns a media item's observations.
func (s *Store) ListObservations(ctx context.Context, mediaID string) ([]models.Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT frame_key, label, confidence, description
		FROM observations WHERE media_id = $1 ORDER BY created_at
	`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var obs []models.Observation
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(&o.FrameKey, &o.Label, &o.Confidence, &o.Description); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// SaveInsight upserts the derived summary for a media item.
func (s *Store) SaveInsight(ctx context.Context, mediaID, summary string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO insights (media_id, summary)
		VALUES ($1, $2)
		ON CONFLICT (media_id) DO UPDATE SET summary = EXCLUDED.summary, updated_at = NOW()
	`, mediaID, summary)
	if err != nil {
		return fmt.Errorf("upsert insight: %w", err)
	}
	return nil
}

// AppendAudit adds an audit row for operational inspection.
func (s *Store) AppendAudit(ctx context.Context, mediaID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (media_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, mediaID, event, detail)
	return err
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
