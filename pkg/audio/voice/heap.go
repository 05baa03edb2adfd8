package voice

// candidate is a virtual voice waiting for a free real slot.
type candidate struct {
	voice *Voice
}

// candidateHeap implements [container/heap.Interface] as a max-heap ordered by
// audibility (descending), then priority (descending), then age (older
// first), then slot index.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }

// Less reports whether element i should be promoted before element j.
func (h candidateHeap) Less(i, j int) bool {
	a, b := h[i].voice, h[j].voice
	if a.audibility != b.audibility {
		return a.audibility > b.audibility
	}
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.startTime != b.startTime {
		return a.startTime < b.startTime
	}
	return a.index < b.index
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(candidate))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = candidate{}
	*h = old[:n-1]
	return c
}
