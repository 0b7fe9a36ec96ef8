package aggregate

import (
	"math"
	"strings"

	"github.com/evigraph/backend/pkg/common"
)

// Factor weights. The five boosters carry 0.02 each, so all weights sum
// to 1.0 and the weighted sum of 1-5 factors stays inside [1,5].
const (
	weightPaperCount = 0.40
	weightConfidence = 0.30
	weightEvidence   = 0.20
	weightBooster    = 0.02

	recentYearWindow = 3
)

func paperCountTier(count int) float64 {
	switch {
	case count >= 10:
		return 5
	case count >= 7:
		return 4
	case count >= 4:
		return 3
	case count >= 2:
		return 2
	default:
		return 1
	}
}

func confidenceTier(c common.Confidence) float64 {
	switch c {
	case common.ConfidenceHigh:
		return 5
	case common.ConfidenceMedium:
		return 3
	default:
		return 1
	}
}

func boosterValue(active bool) float64 {
	if active {
		return 5
	}
	return 1
}

func hasClinicalStudy(studyTypes []string) bool {
	for _, st := range studyTypes {
		if strings.Contains(strings.ToLower(st), "clinical") {
			return true
		}
	}
	return false
}

// ComputeStrength scores an aggregate relation on the 1-5 scale. It is a
// pure function of the relation's fields and the given current year, so
// recomputing it for an unchanged relation always yields the same value.
//
// After the weighted sum is rounded and clamped, one consistency pass keeps
// strength inside the band its confidence implies: High never scores below
// 3 and Low never scores above 2.
func ComputeStrength(rel *common.AggregateRelation, currentYear int) int {
	dominant := rel.DominantRelationship()

	sum := weightPaperCount*paperCountTier(rel.TotalPapers) +
		weightConfidence*confidenceTier(rel.Confidence) +
		weightEvidence*float64(clampScore(rel.LastEvidenceScore)) +
		weightBooster*boosterValue(rel.FullTextSourceCount > 0) +
		weightBooster*boosterValue(hasClinicalStudy(rel.StudyTypes)) +
		weightBooster*boosterValue(rel.HasSignificance) +
		weightBooster*boosterValue(rel.LastYear > 0 && currentYear-rel.LastYear <= recentYearWindow) +
		weightBooster*boosterValue(dominant == common.RelationshipPositive || dominant == common.RelationshipNegative)

	strength := int(math.Round(sum))
	if strength < 1 {
		strength = 1
	}
	if strength > 5 {
		strength = 5
	}

	if rel.Confidence == common.ConfidenceHigh && strength < 3 {
		strength = 3
	}
	if rel.Confidence == common.ConfidenceLow && strength > 2 {
		strength = 2
	}

	return strength
}

func clampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 5 {
		return 5
	}
	return score
}
