package domain

import "context"

// ProgressCallback is the contract phases and the Plan Executor emit
// updates through. Implementations fan this out to SSE/WebSocket/CLI
// listeners; the core never depends on a concrete transport.
type ProgressCallback func(ctx context.Context, phase string, message string, data map[string]any)

// StepMetrics is recorded per executed plan step.
type StepMetrics struct {
	StepID          int
	ToolName        string
	UniqueCount     int
	DuplicatesRemoved int
	Duration        float64 // seconds
	CacheHit        bool
	Failed          bool
	Error           string
}

// RelevanceBand buckets papers by relevance score for the progress
// aggregate.
type RelevanceBand string

const (
	BandLow    RelevanceBand = "3-5"
	BandMid    RelevanceBand = "6-7"
	BandHigh   RelevanceBand = "8-10"
)

// ProgressAggregate tracks plan-wide execution metrics.
type ProgressAggregate struct {
	TotalCollected   int
	TotalUnique      int
	TotalDuplicates  int
	RelevanceBands   map[RelevanceBand]int
	HighRelevance    int
	CacheHits        int
	CacheMisses      int
	TotalDuration    float64 // seconds
	CompletedSteps   int
	FailedSteps      int
}

// SuccessRate returns completed / (completed + failed), or 1.0 when no
// steps have run yet.
func (a ProgressAggregate) SuccessRate() float64 {
	total := a.CompletedSteps + a.FailedSteps
	if total == 0 {
		return 1.0
	}
	return float64(a.CompletedSteps) / float64(total)
}

// CacheHitRate returns hits / (hits+misses), or 0 when neither occurred.
func (a ProgressAggregate) CacheHitRate() float64 {
	total := a.CacheHits + a.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(a.CacheHits) / float64(total)
}
