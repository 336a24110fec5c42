package cost

import (
	"sync"
)

// Snapshot is an immutable view of per-call token usage
type Snapshot struct {
	LegAInput  int64 `json:"leg_a_input_tokens"`
	LegAOutput int64 `json:"leg_a_output_tokens"`
	LegBInput  int64 `json:"leg_b_input_tokens"`
	LegBOutput int64 `json:"leg_b_output_tokens"`
	Guardrail  int64 `json:"guardrail_tokens"`
}

// Total returns the sum of all counters
func (s Snapshot) Total() int64 {
	return s.LegAInput + s.LegAOutput + s.LegBInput + s.LegBOutput + s.Guardrail
}

// Tracker accumulates token usage for a single call across both translation
// legs and the guardrail. Counters only ever increase; updates from either
// leg may arrive concurrently. One Tracker is owned by each call and injected
// into both legs - never a process-wide singleton.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewTracker creates a tracker with all counters at zero
func NewTracker() *Tracker {
	return &Tracker{}
}

// AddLegAInput adds input tokens consumed by leg A. Negative deltas are ignored.
func (t *Tracker) AddLegAInput(n int64) {
	t.add(&t.snap.LegAInput, n)
}

// AddLegAOutput adds output tokens produced by leg A
func (t *Tracker) AddLegAOutput(n int64) {
	t.add(&t.snap.LegAOutput, n)
}

// AddLegBInput adds input tokens consumed by leg B
func (t *Tracker) AddLegBInput(n int64) {
	t.add(&t.snap.LegBInput, n)
}

// AddLegBOutput adds output tokens produced by leg B
func (t *Tracker) AddLegBOutput(n int64) {
	t.add(&t.snap.LegBOutput, n)
}

// AddGuardrail adds tokens spent by the guardrail fallback model
func (t *Tracker) AddGuardrail(n int64) {
	t.add(&t.snap.Guardrail, n)
}

func (t *Tracker) add(counter *int64, n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	*counter += n
	t.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Total returns the sum of all counters at this instant
func (t *Tracker) Total() int64 {
	return t.Snapshot().Total()
}
