package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	MatchedRequests            int64            `json:"matched_requests"`
	MatchRate                  float64          `json:"match_rate"`
	SpoofSuspected             int64            `json:"spoof_suspected"`
	AverageConfidence          float64          `json:"average_confidence"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	RejectionsByStage          map[string]int64 `json:"rejections_by_stage"`
}

// GetMetricsSummary aggregates verification metrics from persisted logs.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}
	stages, err := uc.repo.RejectionsByStage(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		MatchedRequests:            aggregation.MatchCount,
		SpoofSuspected:             aggregation.SpoofCount,
		AverageConfidence:          aggregation.AverageConfidence,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
		RejectionsByStage:          make(map[string]int64, len(stages)),
	}
	for _, s := range stages {
		summary.RejectionsByStage[s.Stage] = s.Count
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
