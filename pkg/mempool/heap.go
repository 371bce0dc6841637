package mempool

import "sort"

// feeHeap implements heap.Interface as a min-heap over FeeRate. The
// mempool keeps it in step with its entries; evictLowestLocked does not
// consult it and scans the entries instead.
type feeHeap []*Entry

func (h feeHeap) Len() int { return len(h) }

func (h feeHeap) Less(i, j int) bool { return h[i].FeeRate < h[j].FeeRate }

func (h feeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *feeHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *feeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// remove drops an entry from the heap in O(log n) using its tracked index,
// mirroring container/heap.Remove without importing the package here for
// a single call site.
func (h *feeHeap) remove(e *Entry) {
	if e.index < 0 || e.index >= len(*h) {
		return
	}
	n := len(*h)
	last := n - 1
	h.Swap(e.index, last)
	*h = (*h)[:last]
	if e.index < len(*h) {
		fixHeap(h, e.index)
	}
	e.index = -1
}

func fixHeap(h *feeHeap, i int) {
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < h.Len() && h.Less(left, smallest) {
			smallest = left
		}
		if right < h.Len() && h.Less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.Swap(i, smallest)
		i = smallest
	}
}

// sortByFeeRateDesc orders entries from highest to lowest fee rate,
// breaking ties by insertion order (oldest first) for determinism.
func sortByFeeRateDesc(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].FeeRate != entries[j].FeeRate {
			return entries[i].FeeRate > entries[j].FeeRate
		}
		return entries[i].Added.Before(entries[j].Added)
	})
}
