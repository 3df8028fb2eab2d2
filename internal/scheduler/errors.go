package scheduler

import "errors"

var (
	// ErrMediaNotFound means a submission referenced a media item the
	// resolver does not know; nothing is enqueued.
	ErrMediaNotFound = errors.New("media item not found")

	// ErrNoStagesEnabled means a submission disabled every pipeline stage.
	ErrNoStagesEnabled = errors.New("no pipeline stages enabled")
)
