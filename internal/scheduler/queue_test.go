package scheduler

import (
	"testing"

	"media-pipeline-orchestrator/internal/models"
)

func queued(q *pendingQueue) []string {
	out := make([]string, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestPendingQueueOrdering(t *testing.T) {
	q := &pendingQueue{}
	q.insert(&models.Job{ID: "a", Priority: 1})
	q.insert(&models.Job{ID: "b", Priority: 5})
	q.insert(&models.Job{ID: "c", Priority: 3})
	q.insert(&models.Job{ID: "d", Priority: 5})
	q.insert(&models.Job{ID: "e", Priority: 3})

	want := []string{"b", "d", "c", "e", "a"}
	got := queued(q)
	if len(got) != len(want) {
		t.Fatalf("queue length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue order = %v, want %v", got, want)
		}
	}
}

func TestPendingQueuePop(t *testing.T) {
	q := &pendingQueue{}
	if q.pop() != nil {
		t.Fatal("pop on empty queue should return nil")
	}
	q.insert(&models.Job{ID: "low", Priority: 1})
	q.insert(&models.Job{ID: "high", Priority: 9})
	if j := q.pop(); j == nil || j.ID != "high" {
		t.Fatalf("pop = %v, want high", j)
	}
	if j := q.pop(); j == nil || j.ID != "low" {
		t.Fatalf("pop = %v, want low", j)
	}
	if q.len() != 0 {
		t.Fatalf("len = %d after draining", q.len())
	}
}

func TestPendingQueueRemove(t *testing.T) {
	q := &pendingQueue{}
	q.insert(&models.Job{ID: "a", Priority: 2})
	q.insert(&models.Job{ID: "b", Priority: 2})
	if q.remove("missing") != nil {
		t.Fatal("removing an unknown id should return nil")
	}
	if j := q.remove("a"); j == nil || j.ID != "a" {
		t.Fatalf("remove = %v, want a", j)
	}
	if q.find("a") != nil {
		t.Fatal("removed job still findable")
	}
	if q.find("b") == nil {
		t.Fatal("unrelated job lost on remove")
	}
}

func TestPendingQueueClear(t *testing.T) {
	q := &pendingQueue{}
	q.insert(&models.Job{ID: "a", Priority: 1})
	q.insert(&models.Job{ID: "b", Priority: 2})
	if n := q.clear(); n != 2 {
		t.Fatalf("clear = %d, want 2", n)
	}
	if q.len() != 0 || q.pop() != nil {
		t.Fatal("queue not empty after clear")
	}
}
