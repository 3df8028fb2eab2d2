package scheduler

import (
	"sync"

	"media-pipeline-orchestrator/internal/models"
)

// Event is the closed set of queue lifecycle notifications. Consumers switch
// on the concrete type; every variant carries the data it needs and nothing
// else.
type Event interface {
	isEvent()
}

// JobSubmitted fires when a job enters the pending queue, both for fresh
// submissions and for stage-advance jobs.
type JobSubmitted struct{ Job models.Job }

// JobStarted fires when the coordinator dispatches a job to its executor.
type JobStarted struct{ Job models.Job }

// JobProgress fires when an executor reports incremental progress.
type JobProgress struct{ Job models.Job }

// JobCompleted fires when a stage finishes successfully.
type JobCompleted struct{ Job models.Job }

// JobRetried fires when a failed job re-enters the pending queue.
type JobRetried struct{ Job models.Job }

// JobFailed fires when a job exhausts its attempts.
type JobFailed struct{ Job models.Job }

// JobCancelled fires when a pending job is removed by Cancel.
type JobCancelled struct{ Job models.Job }

// QueueStarted and QueueStopped fire on coordinator state changes.
type QueueStarted struct{}
type QueueStopped struct{}

// QueueCleared fires when Clear drops the pending queue.
type QueueCleared struct{ Removed int }

func (JobSubmitted) isEvent() {}
func (JobStarted) isEvent()   {}
func (JobProgress) isEvent()  {}
func (JobCompleted) isEvent() {}
func (JobRetried) isEvent()   {}
func (JobFailed) isEvent()    {}
func (JobCancelled) isEvent() {}
func (QueueStarted) isEvent() {}
func (QueueStopped) isEvent() {}
func (QueueCleared) isEvent() {}

// broadcaster fans events out to subscriber channels. Sends never block: a
// subscriber that falls behind its buffer misses events rather than stalling
// the scheduler.
type broadcaster struct {
	mu   sync.Mutex
	subs []chan Event
}

func (b *broadcaster) subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
