package lod

import "github.com/Faultbox/tilestream/pkg/tile"

// node is a candidate leaf in the refinement queue.
type node struct {
	coord    tile.Coord
	priority float64
	index    int
}

// nodeHeap is a min-heap by priority. Equal priorities order by zoom, x, then y
// so the pop order is the same on every frame.
type nodeHeap []*node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if a.coord.Z != b.coord.Z {
		return a.coord.Z < b.coord.Z
	}
	if a.coord.X != b.coord.X {
		return a.coord.X < b.coord.X
	}
	return a.coord.Y < b.coord.Y
}
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *nodeHeap) Push(x any) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}

func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	last := old[n-1]
	old[n-1] = nil
	last.index = -1
	*h = old[:n-1]
	return last
}
