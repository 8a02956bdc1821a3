package scheduler

import (
	"container/heap"
	"sync"
)

// item is one runnable chapter in the queue.
type item struct {
	WorkID    string
	ChapterID string
	Ordinal   int
	Priority  int
}

// queue is a thread-safe priority queue of runnable chapters. Higher
// Priority values are dequeued first; equal priorities run FIFO.
type queue struct {
	mu     sync.Mutex
	items  itemHeap
	seq    uint64
	notify chan struct{}
}

func newQueue() *queue {
	q := &queue{notify: make(chan struct{}, 1)}
	heap.Init(&q.items)
	return q
}

func (q *queue) Push(it item) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &seqItem{item: it, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until an item is available or done closes. Returns false when
// done closed while waiting.
func (q *queue) Pop(done <-chan struct{}) (item, bool) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			it := heap.Pop(&q.items).(*seqItem)
			q.mu.Unlock()
			return it.item, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return item{}, false
		case <-q.notify:
		}
	}
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// seqItem carries the push sequence number for FIFO ordering within one
// priority level.
type seqItem struct {
	item item
	seq  uint64
}

type itemHeap []*seqItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*seqItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
