package extract

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/evigraph/backend/pkg/ai"
	"github.com/evigraph/backend/pkg/common"
)

type fakeClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return ai.UnmarshalFlexible(f.response, out)
}

func (f *fakeClient) ResetMetrics()               {}
func (f *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func TestExtract_ParsesRelations(t *testing.T) {
	client := &fakeClient{
		response: `{"relations":[
			{"subject":"Metformin","outcome":"Longevity","relationship":"positive","evidence_score":4,"sample_size":1200,"p_value":"p<0.01"},
			{"subject":"","outcome":"dropped","relationship":"neutral","evidence_score":3}
		]}`,
	}
	extractor := NewExtractor(NewExtractorParams{Client: client})

	paper := &common.Paper{
		ID:       "PMC1",
		Title:    "Metformin and longevity",
		Abstract: "A cohort of 1200 patients followed for 10 years.",
		FullText: "Full text body with methods and results sections.",
		Year:     2023,
	}

	candidates := extractor.Extract(context.Background(), paper)
	if len(candidates) != 1 {
		t.Fatalf("Extract() returned %d candidates, want 1 (empty subject dropped)", len(candidates))
	}

	got := candidates[0]
	if got.Subject != "Metformin" || got.Outcome != "Longevity" {
		t.Fatalf("Extract() candidate = %+v", got)
	}
	if got.Relationship != common.RelationshipPositive {
		t.Fatalf("Extract() relationship = %q", got.Relationship)
	}
	if got.EvidenceScore != 4 {
		t.Fatalf("Extract() evidence score = %d", got.EvidenceScore)
	}
	if got.Confidence != common.ConfidenceHigh {
		t.Fatalf("Extract() confidence = %q, want High (full text + sample size + p-value)", got.Confidence)
	}
	if got.IsMock || got.Source != "llm" {
		t.Fatalf("Extract() candidate not tagged as llm output: %+v", got)
	}
	if got.PaperID != "PMC1" || !got.HasFullText {
		t.Fatalf("Extract() paper linkage wrong: %+v", got)
	}
}

func TestExtract_FallsBackToMockOnError(t *testing.T) {
	client := &fakeClient{err: errors.New("provider timeout")}
	extractor := NewExtractor(NewExtractorParams{Client: client})

	paper := &common.Paper{ID: "PMC2", Title: "T", Abstract: "A", Year: 2020}
	candidates := extractor.Extract(context.Background(), paper)

	if len(candidates) < 1 || len(candidates) > 5 {
		t.Fatalf("Extract() mock fallback returned %d candidates, want 1-5", len(candidates))
	}
	for _, cand := range candidates {
		if !cand.IsMock || cand.Source != "mock" {
			t.Fatalf("Extract() fallback candidate not tagged mock: %+v", cand)
		}
	}
}

// blockingClient hangs until its context is cancelled, like a stalled
// provider that accepts the connection but never answers.
type blockingClient struct{}

func (b *blockingClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingClient) ResetMetrics()               {}
func (b *blockingClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func TestExtract_TimesOutStalledClientAndFallsBackToMock(t *testing.T) {
	extractor := NewExtractor(NewExtractorParams{
		Client:  &blockingClient{},
		Timeout: 50 * time.Millisecond,
	})

	paper := &common.Paper{ID: "PMC9", Title: "T", Abstract: "A", Year: 2019}

	start := time.Now()
	candidates := extractor.Extract(context.Background(), paper)
	elapsed := time.Since(start)

	if elapsed > 5*time.Second {
		t.Fatalf("Extract() took %v, provider hang was not bounded", elapsed)
	}
	if len(candidates) == 0 {
		t.Fatalf("Extract() expected mock fallback candidates after timeout")
	}
	for _, cand := range candidates {
		if !cand.IsMock || cand.Source != "mock" {
			t.Fatalf("Extract() timeout fallback candidate not tagged mock: %+v", cand)
		}
	}
}

func TestExtract_FallsBackToMockOnMalformedJSON(t *testing.T) {
	client := &fakeClient{response: "the model refused to answer"}
	extractor := NewExtractor(NewExtractorParams{Client: client})

	paper := &common.Paper{ID: "PMC3", Title: "T", Abstract: "A"}
	candidates := extractor.Extract(context.Background(), paper)

	if len(candidates) == 0 {
		t.Fatalf("Extract() expected mock fallback candidates")
	}
	if !candidates[0].IsMock {
		t.Fatalf("Extract() expected mock-tagged candidates")
	}
}

func TestMockRelations_DeterministicPerPaper(t *testing.T) {
	paper := &common.Paper{ID: "PMC42", Year: 2021}

	first := MockRelations(paper)
	second := MockRelations(paper)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("MockRelations() not deterministic for the same paper id")
	}

	other := MockRelations(&common.Paper{ID: "PMC43", Year: 2021})
	if reflect.DeepEqual(first, other) {
		t.Fatalf("MockRelations() identical output for different paper ids")
	}
}

func TestClassifyConfidence(t *testing.T) {
	fullText := &common.Paper{Abstract: "vague prose", FullText: "body"}
	abstractOnly := &common.Paper{Abstract: "vague prose"}
	numericAbstract := &common.Paper{Abstract: "a trial with n=250 over 12 weeks"}

	tests := []struct {
		name  string
		cand  common.CandidateRelation
		paper *common.Paper
		want  common.Confidence
	}{
		{
			name:  "full text with two details",
			cand:  common.CandidateRelation{Dose: "500mg", SampleSize: 100},
			paper: fullText,
			want:  common.ConfidenceHigh,
		},
		{
			name:  "full text with one detail",
			cand:  common.CandidateRelation{Dose: "500mg"},
			paper: fullText,
			want:  common.ConfidenceMedium,
		},
		{
			name:  "abstract with two details stays medium",
			cand:  common.CandidateRelation{Duration: "6 months", PValue: "p<0.05"},
			paper: abstractOnly,
			want:  common.ConfidenceMedium,
		},
		{
			name:  "concrete number in abstract",
			cand:  common.CandidateRelation{},
			paper: numericAbstract,
			want:  common.ConfidenceMedium,
		},
		{
			name:  "vague and speculative",
			cand:  common.CandidateRelation{},
			paper: abstractOnly,
			want:  common.ConfidenceLow,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyConfidence(&tc.cand, tc.paper); got != tc.want {
				t.Fatalf("classifyConfidence() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeRelationship(t *testing.T) {
	tests := []struct {
		input string
		want  common.Relationship
	}{
		{"positive", common.RelationshipPositive},
		{" Negative ", common.RelationshipNegative},
		{"NEUTRAL", common.RelationshipNeutral},
		{"inconclusive", common.RelationshipInconclusive},
		{"unknown garbage", common.RelationshipInconclusive},
	}

	for _, tc := range tests {
		if got := normalizeRelationship(tc.input); got != tc.want {
			t.Fatalf("normalizeRelationship(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
