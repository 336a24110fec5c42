package cost

import (
	"sync"
	"testing"
)

func TestTrackerTotals(t *testing.T) {
	tr := NewTracker()
	tr.AddLegAInput(10)
	tr.AddLegAOutput(20)
	tr.AddLegBInput(30)
	tr.AddLegBOutput(40)
	tr.AddGuardrail(5)

	snap := tr.Snapshot()
	if snap.LegAInput != 10 || snap.LegAOutput != 20 || snap.LegBInput != 30 || snap.LegBOutput != 40 || snap.Guardrail != 5 {
		t.Errorf("snapshot = %+v, want 10/20/30/40/5", snap)
	}

	want := int64(10 + 20 + 30 + 40 + 5)
	if got := tr.Total(); got != want {
		t.Errorf("Total = %d, want %d", got, want)
	}
	if got := snap.Total(); got != want {
		t.Errorf("Snapshot.Total = %d, want %d", got, want)
	}
}

func TestTrackerIgnoresNonPositiveDeltas(t *testing.T) {
	tr := NewTracker()
	tr.AddLegAInput(15)
	tr.AddLegAInput(-7)
	tr.AddLegAInput(0)
	tr.AddGuardrail(-1)

	snap := tr.Snapshot()
	if snap.LegAInput != 15 {
		t.Errorf("LegAInput = %d, want 15 (negative deltas must not decrease counters)", snap.LegAInput)
	}
	if snap.Guardrail != 0 {
		t.Errorf("Guardrail = %d, want 0", snap.Guardrail)
	}
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	tr.AddLegBOutput(3)

	snap := tr.Snapshot()
	tr.AddLegBOutput(4)

	if snap.LegBOutput != 3 {
		t.Errorf("earlier snapshot mutated: LegBOutput = %d, want 3", snap.LegBOutput)
	}
	if got := tr.Snapshot().LegBOutput; got != 7 {
		t.Errorf("LegBOutput = %d, want 7", got)
	}
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tr := NewTracker()

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr.AddLegAInput(1)
				tr.AddLegBOutput(2)
				tr.AddGuardrail(1)
			}
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	if snap.LegAInput != workers*perWorker {
		t.Errorf("LegAInput = %d, want %d", snap.LegAInput, workers*perWorker)
	}
	if snap.LegBOutput != 2*workers*perWorker {
		t.Errorf("LegBOutput = %d, want %d", snap.LegBOutput, 2*workers*perWorker)
	}
	if snap.Guardrail != workers*perWorker {
		t.Errorf("Guardrail = %d, want %d", snap.Guardrail, workers*perWorker)
	}

	want := int64(4 * workers * perWorker)
	if got := tr.Total(); got != want {
		t.Errorf("Total = %d, want %d", got, want)
	}
}
