package crawl

import "runtime"

// MemoryGauge decides whether dispatch should throttle. It reads the Go
// heap directly; no sampler dependency is worth a per-batch check.
type MemoryGauge struct {
	budgetBytes  uint64
	thresholdPct int

	// readMemStats is swapped out by tests.
	readMemStats func(*runtime.MemStats)
}

// NewMemoryGauge creates a gauge over a byte budget and a threshold
// percentage.
func NewMemoryGauge(budgetBytes uint64, thresholdPct int) *MemoryGauge {
	if thresholdPct <= 0 || thresholdPct > 100 {
		thresholdPct = 80
	}
	return &MemoryGauge{
		budgetBytes:  budgetBytes,
		thresholdPct: thresholdPct,
		readMemStats: runtime.ReadMemStats,
	}
}

// OverBudget reports whether heap usage crossed the threshold share of
// the budget. A zero budget never throttles.
func (g *MemoryGauge) OverBudget() bool {
	if g.budgetBytes == 0 {
		return false
	}
	var m runtime.MemStats
	g.readMemStats(&m)
	return m.HeapAlloc > g.budgetBytes*uint64(g.thresholdPct)/100
}
