package scheduler

import (
	"media-pipeline-orchestrator/internal/models"
)

// pendingQueue keeps jobs ordered by descending priority, FIFO within one
// priority. Callers hold the scheduler mutex.
type pendingQueue struct {
	jobs []*models.Job
}

// insert places the job immediately after the last queued job whose priority
// is greater than or equal to its own, so higher priorities dispatch first
// and equal priorities keep arrival order. Retried jobs go through the same
// path and compete at their original priority.
func (q *pendingQueue) insert(job *models.Job) {
	idx := len(q.jobs)
	for i, existing := range q.jobs {
		if existing.Priority < job.Priority {
			idx = i
			break
		}
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[idx+1:], q.jobs[idx:])
	q.jobs[idx] = job
}

// pop removes and returns the head of the queue, or nil when empty.
func (q *pendingQueue) pop() *models.Job {
	if len(q.jobs) == 0 {
		return nil
	}
	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return job
}

// remove drops the job with the given id and returns it, or nil if absent.
func (q *pendingQueue) remove(id string) *models.Job {
	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return job
		}
	}
	return nil
}

// clear drops every queued job and returns how many were removed.
func (q *pendingQueue) clear() int {
	n := len(q.jobs)
	q.jobs = nil
	return n
}

func (q *pendingQueue) len() int {
	return len(q.jobs)
}

func (q *pendingQueue) find(id string) *models.Job {
	for _, job := range q.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}
