package telemetry

import (
	"sort"

	"github.com/lexcite/corpuscore/internal/model"
)

// Aggregate rolls up a batch of QueryRuns into the verification-rate and
// latency figures the eval harness (C8) reports per doctrine and overall.
type Aggregate struct {
	RunCount            int
	TotalCitations      int
	VerifiedCitations   int
	UnverifiedCitations int
	VerifiedRate        float64 // percentage, 0..100
	// CaseAttributedUnsupportedRate stays 0 until proposition-level
	// SupportAudit accounting is persisted per QueryRun; it is exposed here
	// so Alerts has a stable field to threshold against once that lands.
	CaseAttributedUnsupportedRate float64
	LatencyP50Ms                  int64
	LatencyP95Ms                  int64
	FailureReasonCounts           map[model.FailureReason]int
}

// ComputeAggregate summarizes runs. A nil or empty runs slice yields a
// zero-value Aggregate rather than dividing by zero.
func ComputeAggregate(runs []model.QueryRun) Aggregate {
	agg := Aggregate{
		RunCount:            len(runs),
		FailureReasonCounts: make(map[model.FailureReason]int),
	}
	if len(runs) == 0 {
		return agg
	}

	latencies := make([]int64, 0, len(runs))
	for _, run := range runs {
		latencies = append(latencies, run.LatencyMS)
		if run.FailureReason != "" {
			agg.FailureReasonCounts[run.FailureReason]++
		}
		for _, v := range run.CitationVerifications {
			agg.TotalCitations++
			if v.Tier == model.TierUnverified {
				agg.UnverifiedCitations++
			} else {
				agg.VerifiedCitations++
			}
		}
	}

	if agg.TotalCitations > 0 {
		agg.VerifiedRate = float64(agg.VerifiedCitations) / float64(agg.TotalCitations) * 100
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	agg.LatencyP50Ms = percentile(latencies, 0.50)
	agg.LatencyP95Ms = percentile(latencies, 0.95)

	return agg
}

// percentile returns the value at the given percentile (0..1) of a sorted
// slice, using nearest-rank interpolation.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// Alert is one breached threshold from spec §4.7: overall verification rate
// < 90%, case-attributed-unsupported > 0.5%, unverified rate > 10%, or p95
// latency > 30s.
type Alert struct {
	Name      string
	Threshold string
	Observed  float64
}

// Alerts evaluates agg against the four fixed thresholds, returning only
// the ones that are breached.
func Alerts(agg Aggregate) []Alert {
	var alerts []Alert

	if agg.TotalCitations > 0 && agg.VerifiedRate < 90 {
		alerts = append(alerts, Alert{Name: "verified_rate_below_90", Threshold: "< 90%", Observed: agg.VerifiedRate})
	}
	if agg.CaseAttributedUnsupportedRate > 0.5 {
		alerts = append(alerts, Alert{Name: "case_attributed_unsupported_above_0.5pct", Threshold: "> 0.5%", Observed: agg.CaseAttributedUnsupportedRate})
	}
	if agg.TotalCitations > 0 {
		unverifiedRate := float64(agg.UnverifiedCitations) / float64(agg.TotalCitations) * 100
		if unverifiedRate > 10 {
			alerts = append(alerts, Alert{Name: "unverified_rate_above_10pct", Threshold: "> 10%", Observed: unverifiedRate})
		}
	}
	if agg.LatencyP95Ms > 30_000 {
		alerts = append(alerts, Alert{Name: "p95_latency_above_30s", Threshold: "> 30000ms", Observed: float64(agg.LatencyP95Ms)})
	}

	return alerts
}
