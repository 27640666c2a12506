// Package memoryvis implements the memory visibility filter: after a
// rewind, memory search results referencing pruned turns must not leak back
// into context.
package memoryvis

import "strconv"

// Hit is one result returned by the external MemorySearch capability. TurnID
// is a string because the search index is free to store it however it
// likes; the filter only needs to compare it numerically against the
// watermark.
type Hit struct {
	TurnID  string
	Content string
	Score   float64
}

// Filter returns the subset of hits visible under watermark: those whose
// TurnID parses to an integer <= watermark. A watermark of zero (a fresh
// campaign that has never been rewound) makes Filter a no-op, since turn IDs
// are always positive. Hits whose TurnID cannot be parsed are dropped rather
// than surfaced, since an unparseable ID cannot be proven safe.
func Filter(hits []Hit, watermark int64) []Hit {
	if watermark <= 0 {
		return hits
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		turnID, err := strconv.ParseInt(h.TurnID, 10, 64)
		if err != nil {
			continue
		}
		if turnID <= watermark {
			out = append(out, h)
		}
	}
	return out
}
