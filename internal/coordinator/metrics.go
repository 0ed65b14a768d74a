package coordinator

import "context"

// MetricsSummary represents aggregated run insights.
type MetricsSummary struct {
	TotalRuns               int64   `json:"total_runs"`
	CompletedRuns           int64   `json:"completed_runs"`
	CompletionRate          float64 `json:"completion_rate"`
	AverageScore            float64 `json:"average_score"`
	AverageCaptureLatencyMs float64 `json:"average_capture_latency_ms"`
	AverageScoringLatencyMs float64 `json:"average_scoring_latency_ms"`
}

// MetricsSummary aggregates run metrics from the journal.
func (c *Coordinator) MetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if c.journal == nil {
		return nil, ErrJournalDisabled
	}
	aggregation, err := c.journal.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRuns:               aggregation.TotalCount,
		CompletedRuns:           aggregation.CompletedCount,
		AverageScore:            aggregation.AverageScore,
		AverageCaptureLatencyMs: aggregation.AverageCaptureLatencyMs,
		AverageScoringLatencyMs: aggregation.AverageScoringLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.CompletionRate = float64(aggregation.CompletedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
