// Package query implements the nearest-neighbor search the public API
// exposes: a single linear scan over the store's records, filtered by tag
// superset and ranked into a bounded top-k, with no index structure to
// maintain (the exact-scan design this spec calls for in place of the
// teacher's HNSW graph).
package query

import (
	"container/heap"
	"context"

	"github.com/victor-db/victor/internal/codec"
	verrors "github.com/victor-db/victor/internal/errors"
	"github.com/victor-db/victor/internal/tagset"
)

// Result is one ranked match. Distance is squared Euclidean — cheaper to
// compute than its square root and ordering-equivalent.
type Result struct {
	Content  string
	Tags     []string
	Distance float32
}

// Source is the streaming capability the query engine needs: visit every
// record currently in the database, in file order.
type Source interface {
	IterRecords(ctx context.Context, visit func(offset int64, rec codec.Packed) error) error
}

// Search scans source for the k records nearest to query, restricted to
// those whose tag set is a superset of requiredTags, returned nearest
// first. If the scan encounters corruption partway through, whatever
// partial top-k had accumulated is discarded and only the error is
// returned.
func Search(ctx context.Context, source Source, query []float32, requiredTags []string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	dict := tagset.NewDictionary()
	filter := tagset.NewFilter(dict, requiredTags)

	h := &resultHeap{}
	seq := 0

	err := source.IterRecords(ctx, func(offset int64, rec codec.Packed) error {
		if cerr := ctx.Err(); cerr != nil {
			return verrors.Cancelled("search cancelled mid-scan")
		}
		if !filter.Admits(rec.Tags()) {
			return nil
		}

		d, derr := rec.Distance(query)
		if derr != nil {
			return verrors.DimensionMismatch(rec.Dim(), len(query))
		}

		heap.Push(h, candidate{distance: d, seq: seq, content: rec.Content(), tags: rec.Tags()})
		seq++
		if h.Len() > k {
			heap.Pop(h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		c := heap.Pop(h).(candidate)
		results[i] = Result{Content: c.content, Tags: c.tags, Distance: c.distance}
	}
	return results, nil
}

type candidate struct {
	distance float32
	seq      int
	content  string
	tags     []string
}

// resultHeap is a max-heap ordered so the worst candidate currently held
// is always the Pop target: pushing past k and popping keeps the k best.
// Ties break by insertion order, with the earlier-inserted candidate
// favored to survive.
type resultHeap []candidate

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance > h[j].distance
	}
	return h[i].seq > h[j].seq
}

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(candidate))
}

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
