package extract

import (
	"hash/fnv"
	"math/rand"

	"github.com/evigraph/backend/pkg/common"
)

var mockSubjects = []string{
	"metformin",
	"aspirin",
	"atorvastatin",
	"resveratrol",
	"rapamycin",
	"curcumin",
	"omega-3 fatty acids",
	"vitamin D",
}

var mockOutcomes = []string{
	"type 2 diabetes",
	"cardiovascular disease",
	"longevity",
	"cognitive decline",
	"inflammation",
	"hypertension",
	"insulin resistance",
	"oxidative stress",
}

var mockStudyTypes = []string{
	"randomized controlled trial",
	"cohort study",
	"clinical trial",
	"meta-analysis",
	"case-control study",
	"",
}

var mockRelationships = []common.Relationship{
	common.RelationshipPositive,
	common.RelationshipPositive,
	common.RelationshipNegative,
	common.RelationshipNeutral,
	common.RelationshipInconclusive,
}

// MockRelations generates 1-5 plausible candidate relations for a paper
// without any external call. The generator is seeded with the paper id, so
// the same paper always yields the same records. Used whenever extraction
// fails, so the pipeline never stalls on provider errors.
func MockRelations(paper *common.Paper) []common.CandidateRelation {
	h := fnv.New64a()
	h.Write([]byte(paper.ID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	count := 1 + rng.Intn(5)
	candidates := make([]common.CandidateRelation, 0, count)
	for i := 0; i < count; i++ {
		cand := common.CandidateRelation{
			Subject:       mockSubjects[rng.Intn(len(mockSubjects))],
			Outcome:       mockOutcomes[rng.Intn(len(mockOutcomes))],
			Relationship:  mockRelationships[rng.Intn(len(mockRelationships))],
			EvidenceScore: 1 + rng.Intn(5),
			StudyType:     mockStudyTypes[rng.Intn(len(mockStudyTypes))],
			PaperID:       paper.ID,
			PaperYear:     paper.Year,
			HasFullText:   paper.HasFullText(),
			IsMock:        true,
			Source:        "mock",
		}
		if rng.Intn(2) == 0 {
			cand.SampleSize = 20 + rng.Intn(2000)
		}
		if rng.Intn(3) == 0 {
			cand.PValue = "p<0.05"
		}
		cand.Confidence = classifyConfidence(&cand, paper)
		candidates = append(candidates, cand)
	}

	return candidates
}
