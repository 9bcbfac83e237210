package render

import (
	"container/heap"
	"fmt"
	"strings"
)

// Priority orders queued renders; higher values are serviced first
type Priority int

const (
	// Prefetch renders pages the reader may scroll to later
	Prefetch Priority = iota
	// Nearby renders pages adjacent to the viewport
	Nearby
	// Visible renders pages on screen now
	Visible
)

func (p Priority) String() string {
	switch p {
	case Prefetch:
		return "prefetch"
	case Nearby:
		return "nearby"
	case Visible:
		return "visible"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority reads a priority name; an empty name means Visible
func ParsePriority(name string) (Priority, error) {
	switch strings.ToLower(name) {
	case "", "visible":
		return Visible, nil
	case "nearby":
		return Nearby, nil
	case "prefetch":
		return Prefetch, nil
	}
	return 0, fmt.Errorf("unknown render priority %q", name)
}

// jobQueue is a heap of queued jobs, highest priority first, then oldest first
type jobQueue []*job

var _ heap.Interface = (*jobQueue)(nil)

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	j := x.(*job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}
