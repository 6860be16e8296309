package sched

import (
	"container/heap"
	"time"
)

// task is one pending entry. It lives in the store until it fires or is
// cancelled; the callback's ownership transfers with it.
type task struct {
	id       TaskID
	deadline time.Time
	callback Callback
	mode     Mode

	// seq breaks ties between equal deadlines: registration order wins.
	seq uint64

	// heapIdx is the task's current position in the heap slice, maintained by
	// taskHeap.Swap so removeByID can heap.Remove in O(log n).
	heapIdx int
}

// taskStore orders pending tasks by (deadline, seq) and indexes them by id.
// It is touched only by the shard goroutine, so it carries no locks.
type taskStore struct {
	h    taskHeap
	byID map[TaskID]*task
	seq  uint64
}

func newTaskStore() *taskStore {
	return &taskStore{byID: map[TaskID]*task{}}
}

func (s *taskStore) len() int { return len(s.h) }

func (s *taskStore) has(id TaskID) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *taskStore) get(id TaskID) (*task, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// insert adds t, assigning its insertion sequence. Fails when another task
// with the same id is still pending.
func (s *taskStore) insert(t *task) error {
	if _, ok := s.byID[t.id]; ok {
		return DuplicateIDError{ID: t.id}
	}
	s.seq++
	t.seq = s.seq
	s.byID[t.id] = t
	heap.Push(&s.h, t)
	return nil
}

// removeByID removes and returns the task with the given id, pending or not.
func (s *taskStore) removeByID(id TaskID) (*task, bool) {
	t, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	heap.Remove(&s.h, t.heapIdx)
	return t, true
}

// peekEarliest returns the minimum deadline among pending tasks.
func (s *taskStore) peekEarliest() (time.Time, bool) {
	if len(s.h) == 0 {
		return time.Time{}, false
	}
	return s.h[0].deadline, true
}

// popDue removes and returns every task with deadline <= now, ascending by
// (deadline, seq).
func (s *taskStore) popDue(now time.Time) []*task {
	var due []*task
	for len(s.h) > 0 && !s.h[0].deadline.After(now) {
		t := heap.Pop(&s.h).(*task)
		delete(s.byID, t.id)
		due = append(due, t)
	}
	return due
}

// updateDeadline moves t to a new deadline and re-fixes its heap position.
// t must be in the store.
func (s *taskStore) updateDeadline(t *task, deadline time.Time) {
	t.deadline = deadline
	heap.Fix(&s.h, t.heapIdx)
}

// taskHeap is a min-heap over (deadline, seq).
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.heapIdx = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // allow GC
	t.heapIdx = -1 // not in heap
	*h = old[:n-1]
	return t
}
