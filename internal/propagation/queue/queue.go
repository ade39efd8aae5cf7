// Package queue holds scheduled delivery attempts until they are due.
// Retries re-enter the queue instead of sleeping in a goroutine.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	id "nser/pkg/domain"
)

// Job is one scheduled attempt for one state version.
type Job struct {
	ExclusionID  id.ExclusionID
	OperatorID   id.OperatorID
	StateVersion int
}

func (j Job) String() string {
	return fmt.Sprintf("%s|%s|%d", j.ExclusionID, j.OperatorID, j.StateVersion)
}

// Memory is a process-local min-heap ordered by due time. Scheduling the
// same job again moves it to the new due time.
type Memory struct {
	mu    sync.Mutex
	items jobHeap
	index map[Job]*item
}

func NewMemory() *Memory {
	return &Memory{index: make(map[Job]*item)}
}

func (m *Memory) Push(_ context.Context, job Job, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.index[job]; ok {
		it.at = at
		heap.Fix(&m.items, it.pos)
		return nil
	}
	it := &item{job: job, at: at}
	heap.Push(&m.items, it)
	m.index[job] = it
	return nil
}

// PopDue removes and returns up to limit jobs due at now.
func (m *Memory) PopDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Job
	for m.items.Len() > 0 && (limit <= 0 || len(out) < limit) {
		next := m.items[0]
		if next.at.After(now) {
			break
		}
		heap.Pop(&m.items)
		delete(m.index, next.job)
		out = append(out, next.job)
	}
	return out, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Len()
}

type item struct {
	job Job
	at  time.Time
	pos int
}

type jobHeap []*item

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *jobHeap) Push(x any) {
	it := x.(*item)
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
