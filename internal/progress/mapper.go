package progress

// Phase names, in pipeline order. Crawl-only phases are simply never
// entered by local or git indexing runs.
const (
	PhaseInitializing  = "initializing"
	PhaseDiscovery     = "discovery"
	PhaseCrawling      = "crawling"
	PhaseChunking      = "chunking"
	PhaseDeduplicating = "deduplicating"
	PhaseEmbedding     = "embedding"
	PhaseStoring       = "storing"
	PhaseCompleted     = "completed"
)

// phaseRange maps a phase onto a slice of the overall 0-100 scale.
type phaseRange struct {
	start, end int
}

var phaseRanges = map[string]phaseRange{
	PhaseInitializing:  {0, 5},
	PhaseDiscovery:     {5, 15},
	PhaseCrawling:      {15, 60},
	PhaseChunking:      {60, 70},
	PhaseDeduplicating: {70, 80},
	PhaseEmbedding:     {80, 92},
	PhaseStoring:       {92, 98},
	PhaseCompleted:     {98, 100},
}

// Mapper translates phase-local progress to a monotonic overall
// percentage. Overall progress never moves backwards even when a run
// revisits a phase or reports out-of-order updates.
type Mapper struct {
	high int
}

// NewMapper creates a mapper at 0%.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Map converts phase-local progress (0-100) within the named phase to an
// overall percentage. Unknown phases hold the current high-water mark.
func (m *Mapper) Map(phase string, phaseProgress int) int {
	r, ok := phaseRanges[phase]
	if !ok {
		return m.high
	}
	if phaseProgress < 0 {
		phaseProgress = 0
	}
	if phaseProgress > 100 {
		phaseProgress = 100
	}
	overall := r.start + (r.end-r.start)*phaseProgress/100
	if overall > m.high {
		m.high = overall
	}
	return m.high
}
