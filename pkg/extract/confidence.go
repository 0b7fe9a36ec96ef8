package extract

import (
	"regexp"

	"github.com/evigraph/backend/pkg/common"
)

var concreteNumberRe = regexp.MustCompile(`(?i)(n\s*=\s*\d+|\d+(\.\d+)?\s*(%|mg|g|ml|patients|participants|subjects|weeks|months|years))`)

// classifyConfidence applies the deterministic confidence policy:
// full text plus at least two supporting details gives High, any supporting
// detail or a concrete number in the abstract gives Medium, otherwise Low.
// Supporting details are dose, duration, sample size, and significance.
func classifyConfidence(cand *common.CandidateRelation, paper *common.Paper) common.Confidence {
	details := 0
	if cand.Dose != "" {
		details++
	}
	if cand.Duration != "" {
		details++
	}
	if cand.SampleSize > 0 {
		details++
	}
	if cand.PValue != "" {
		details++
	}

	if paper.HasFullText() && details >= 2 {
		return common.ConfidenceHigh
	}
	if details > 0 || concreteNumberRe.MatchString(paper.Abstract) {
		return common.ConfidenceMedium
	}
	return common.ConfidenceLow
}
