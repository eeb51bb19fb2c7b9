package risk

import (
	"math"

	"github.com/OFFIS-RIT/diligence/pkg/common"
)

// Valid reports whether q can take part in scoring.
func Valid(q common.Question) bool {
	return q.ID != "" &&
		q.Category != "" &&
		q.Category != common.TotalKey &&
		q.Weight > 0 &&
		!math.IsInf(q.Weight, 0)
}

// Aggregate computes the weighted risk percentage per category and the
// global TOTAL. Questions absent from classifications are left out of both
// numerator and denominator. Every category of a valid critical question is
// reported; one without any classified question scores 0.0. Invalid and
// repeated question ids are ignored.
func Aggregate(critical []common.Question, classifications map[string]Classification) map[string]float64 {
	sum := make(map[string]float64)
	weight := make(map[string]float64)
	seen := make(map[string]struct{}, len(critical))
	var totalSum, totalWeight float64

	for _, q := range critical {
		if !Valid(q) {
			continue
		}
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}

		if _, ok := sum[q.Category]; !ok {
			sum[q.Category] = 0
			weight[q.Category] = 0
		}
		c, ok := classifications[q.ID]
		if !ok {
			continue
		}
		sum[q.Category] += c.Risk() * q.Weight
		weight[q.Category] += q.Weight
		totalSum += c.Risk() * q.Weight
		totalWeight += q.Weight
	}

	scores := make(map[string]float64, len(sum)+1)
	for cat := range sum {
		scores[cat] = percentage(sum[cat], weight[cat])
	}
	scores[common.TotalKey] = percentage(totalSum, totalWeight)
	return scores
}

func percentage(sum, weight float64) float64 {
	if weight == 0 {
		return 0.0
	}
	return round2(100 * sum / weight)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
