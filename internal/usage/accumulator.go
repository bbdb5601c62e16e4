// Package usage tracks model token consumption two ways: an in-memory
// accumulator for the live totals a run reports when it finishes, and
// an append-only SQLite journal for history across runs.
package usage

import "sync"

// Totals holds accumulated token counts.
type Totals struct {
	Prompt     int64
	Completion int64
	Total      int64
}

// Accumulator sums token usage across model calls. Safe for concurrent
// use; counts only grow.
type Accumulator struct {
	mu sync.Mutex
	t  Totals
}

// Add records one model call's reported usage. The total is taken from
// the provider rather than derived, since some providers bill tokens
// that appear in neither prompt nor completion counts.
func (a *Accumulator) Add(prompt, completion, total int) {
	a.mu.Lock()
	a.t.Prompt += int64(prompt)
	a.t.Completion += int64(completion)
	a.t.Total += int64(total)
	a.mu.Unlock()
}

// Totals returns a snapshot of the running totals.
func (a *Accumulator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}
