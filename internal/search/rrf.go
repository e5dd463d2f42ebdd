package search

import (
	"sort"

	"github.com/claudecontext/islandd/internal/vectorstore"
)

// rrfK is the reciprocal rank fusion constant. Qdrant uses the same
// default server-side, so fused scores are comparable.
const rrfK = 60

// fusedHit is a candidate after cross-collection fusion.
type fusedHit struct {
	id      string
	score   float64
	payload map[string]any
}

// fuseRRF merges per-collection ranked lists with reciprocal rank
// fusion: each appearance contributes 1/(k+rank), rank starting at 1.
// Results are ordered by fused score descending, ties broken by chunk id
// so the ordering is deterministic.
func fuseRRF(lists [][]vectorstore.ScoredPoint) []fusedHit {
	byID := make(map[string]*fusedHit)
	for _, list := range lists {
		for rank, point := range list {
			hit, ok := byID[point.ID]
			if !ok {
				hit = &fusedHit{id: point.ID, payload: point.Payload}
				byID[point.ID] = hit
			}
			hit.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	out := make([]fusedHit, 0, len(byID))
	for _, hit := range byID {
		out = append(out, *hit)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}
