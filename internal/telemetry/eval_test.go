package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexcite/corpuscore/internal/model"
)

func TestComputeAggregate_EmptyRunsIsZeroValue(t *testing.T) {
	agg := ComputeAggregate(nil)
	assert.Equal(t, 0, agg.RunCount)
	assert.Equal(t, 0.0, agg.VerifiedRate)
}

func TestComputeAggregate_RollsUpVerifiedAndUnverified(t *testing.T) {
	runs := []model.QueryRun{
		{
			LatencyMS: 500,
			CitationVerifications: []model.CitationVerification{
				{Tier: model.TierStrong},
				{Tier: model.TierUnverified},
			},
		},
		{
			LatencyMS: 1500,
			CitationVerifications: []model.CitationVerification{
				{Tier: model.TierModerate},
			},
		},
	}

	agg := ComputeAggregate(runs)
	assert.Equal(t, 2, agg.RunCount)
	assert.Equal(t, 3, agg.TotalCitations)
	assert.Equal(t, 2, agg.VerifiedCitations)
	assert.Equal(t, 1, agg.UnverifiedCitations)
	assert.InDelta(t, 66.67, agg.VerifiedRate, 0.01)
}

func TestComputeAggregate_CountsFailureReasons(t *testing.T) {
	runs := []model.QueryRun{
		{FailureReason: model.FailureLLMTimeout},
		{FailureReason: model.FailureLLMTimeout},
		{FailureReason: model.FailureNoCandidatePassages},
		{},
	}
	agg := ComputeAggregate(runs)
	assert.Equal(t, 2, agg.FailureReasonCounts[model.FailureLLMTimeout])
	assert.Equal(t, 1, agg.FailureReasonCounts[model.FailureNoCandidatePassages])
}

func TestAlerts_VerifiedRateBelow90Fires(t *testing.T) {
	agg := Aggregate{TotalCitations: 100, VerifiedCitations: 80, VerifiedRate: 80, UnverifiedCitations: 20}
	alerts := Alerts(agg)

	found := false
	for _, a := range alerts {
		if a.Name == "verified_rate_below_90" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAlerts_P95LatencyAbove30sFires(t *testing.T) {
	agg := Aggregate{LatencyP95Ms: 45_000}
	alerts := Alerts(agg)

	found := false
	for _, a := range alerts {
		if a.Name == "p95_latency_above_30s" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAlerts_HealthyAggregateFiresNothing(t *testing.T) {
	agg := Aggregate{TotalCitations: 100, VerifiedCitations: 95, VerifiedRate: 95, UnverifiedCitations: 5, LatencyP95Ms: 5_000}
	assert.Empty(t, Alerts(agg))
}
