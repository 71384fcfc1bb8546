package pool

import "container/heap"

// entryHeap orders queued tasks by priority, then submission sequence.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority.IsHigherThan(h[j].task.Priority)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

func (h *entryHeap) push(e *entry) { heap.Push(h, e) }

func (h *entryHeap) pop() *entry { return heap.Pop(h).(*entry) }
