package graph

import (
	"container/heap"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
)

// positionQueue is a min-heap of task IDs keyed by declaration position.
type positionQueue struct {
	g     *Graph
	items []domain.TaskID
}

func newPositionQueue(g *Graph) *positionQueue {
	return &positionQueue{g: g}
}

func (q *positionQueue) Len() int { return len(q.items) }
func (q *positionQueue) Less(i, j int) bool {
	return q.g.position[q.items[i]] < q.g.position[q.items[j]]
}
func (q *positionQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *positionQueue) Push(x any)    { q.items = append(q.items, x.(domain.TaskID)) }
func (q *positionQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

func (q *positionQueue) push(id domain.TaskID) { heap.Push(q, id) }
func (q *positionQueue) pop() domain.TaskID    { return heap.Pop(q).(domain.TaskID) }
