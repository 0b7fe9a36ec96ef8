package aggregate

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/evigraph/backend/pkg/common"
)

func candidateFixture(paperID string) common.CandidateRelation {
	return common.CandidateRelation{
		Subject:       "Metformin",
		Outcome:       "Longevity",
		Relationship:  common.RelationshipPositive,
		Confidence:    common.ConfidenceHigh,
		EvidenceScore: 4,
		PaperID:       paperID,
		PaperYear:     2022,
		HasFullText:   true,
		Source:        "llm",
	}
}

func TestMerge_DistinctPaperCount(t *testing.T) {
	store := NewStore()

	// 9 candidates citing only 3 distinct papers.
	var rel *common.AggregateRelation
	for i := 0; i < 9; i++ {
		rel, _ = store.Merge("user1", candidateFixture(fmt.Sprintf("PMC%d", i%3)))
	}

	if rel.TotalPapers != 3 {
		t.Fatalf("TotalPapers = %d, want 3 (distinct papers only)", rel.TotalPapers)
	}
	if len(rel.SupportingPaperIDs) != 3 {
		t.Fatalf("SupportingPaperIDs = %v, want 3 entries", rel.SupportingPaperIDs)
	}
	if rel.FullTextSourceCount != 3 {
		t.Fatalf("FullTextSourceCount = %d, want 3 (one per distinct paper)", rel.FullTextSourceCount)
	}
}

func TestMerge_OrderIndependent(t *testing.T) {
	ids := []string{"A", "B", "C", "D", "A", "B"}

	run := func(order []string) *common.AggregateRelation {
		store := NewStore()
		var rel *common.AggregateRelation
		for _, id := range order {
			rel, _ = store.Merge("user1", candidateFixture(id))
		}
		return rel
	}

	forward := run(ids)

	shuffled := append([]string(nil), ids...)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := run(shuffled)
		if got.TotalPapers != forward.TotalPapers || got.Strength != forward.Strength || got.Confidence != forward.Confidence {
			t.Fatalf("merge order changed the aggregate: %+v vs %+v", got, forward)
		}
	}
}

func TestMerge_KeyIsCaseInsensitive(t *testing.T) {
	store := NewStore()

	first := candidateFixture("P1")
	second := candidateFixture("P2")
	second.Subject = "METFORMIN"
	second.Outcome = "  longevity "

	store.Merge("user1", first)
	rel, created := store.Merge("user1", second)

	if created {
		t.Fatalf("Merge() created a second relation for a case variant key")
	}
	if rel.TotalPapers != 2 {
		t.Fatalf("TotalPapers = %d, want 2", rel.TotalPapers)
	}
}

func TestMerge_UsersAreIsolated(t *testing.T) {
	store := NewStore()

	store.Merge("user1", candidateFixture("P1"))
	store.Merge("user2", candidateFixture("P1"))

	if got := len(store.Relations("user1")); got != 1 {
		t.Fatalf("user1 relations = %d, want 1", got)
	}
	if got := len(store.Relations("user2")); got != 1 {
		t.Fatalf("user2 relations = %d, want 1", got)
	}
}

func TestMerge_ConfidenceNeverDowngrades(t *testing.T) {
	store := NewStore()

	high := candidateFixture("P1")
	low := candidateFixture("P2")
	low.Confidence = common.ConfidenceLow

	store.Merge("user1", high)
	rel, _ := store.Merge("user1", low)

	if rel.Confidence != common.ConfidenceHigh {
		t.Fatalf("Confidence = %q, want High (max of merged candidates)", rel.Confidence)
	}
}

func TestMerge_MetforminEndToEnd(t *testing.T) {
	store := NewStore()

	store.Merge("user1", candidateFixture("PMC100"))
	rel, created := store.Merge("user1", candidateFixture("PMC200"))

	if created {
		t.Fatalf("second candidate should merge into the existing relation")
	}
	if rel.TotalPapers != 2 {
		t.Fatalf("TotalPapers = %d, want 2", rel.TotalPapers)
	}
	if rel.Strength < 3 || rel.Strength > 5 {
		t.Fatalf("Strength = %d, want in [3,5] for two High-confidence papers", rel.Strength)
	}
}

func TestComputeStrength_PureAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	confidences := []common.Confidence{common.ConfidenceLow, common.ConfidenceMedium, common.ConfidenceHigh}
	relationships := []common.Relationship{
		common.RelationshipPositive, common.RelationshipNegative,
		common.RelationshipNeutral, common.RelationshipInconclusive,
	}
	currentYear := time.Now().Year()

	for i := 0; i < 500; i++ {
		papers := rng.Intn(15)
		studyTypes := []string{"cohort study"}
		if rng.Intn(2) == 0 {
			studyTypes = append(studyTypes, "clinical trial")
		}
		rel := &common.AggregateRelation{
			TotalPapers:         papers,
			Confidence:          confidences[rng.Intn(len(confidences))],
			LastEvidenceScore:   1 + rng.Intn(5),
			FullTextSourceCount: rng.Intn(papers + 1),
			HasSignificance:     rng.Intn(2) == 0,
			LastYear:            2010 + rng.Intn(17),
			Relationships:       []common.Relationship{relationships[rng.Intn(len(relationships))]},
			StudyTypes:          studyTypes,
		}

		first := ComputeStrength(rel, currentYear)
		second := ComputeStrength(rel, currentYear)
		if first != second {
			t.Fatalf("ComputeStrength() not deterministic: %d vs %d for %+v", first, second, rel)
		}
		if first < 1 || first > 5 {
			t.Fatalf("ComputeStrength() = %d, out of [1,5] for %+v", first, rel)
		}
		if rel.Confidence == common.ConfidenceHigh && first < 3 {
			t.Fatalf("High confidence relation scored %d, want >= 3: %+v", first, rel)
		}
		if rel.Confidence == common.ConfidenceLow && first > 2 {
			t.Fatalf("Low confidence relation scored %d, want <= 2: %+v", first, rel)
		}
	}
}

func TestComputeStrength_PaperCountTiers(t *testing.T) {
	tests := []struct {
		papers int
		want   float64
	}{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {6, 3}, {7, 4}, {9, 4}, {10, 5}, {25, 5},
	}
	for _, tc := range tests {
		if got := paperCountTier(tc.papers); got != tc.want {
			t.Fatalf("paperCountTier(%d) = %v, want %v", tc.papers, got, tc.want)
		}
	}
}
