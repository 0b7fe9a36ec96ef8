package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evigraph/backend/pkg/ai"
	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultMaxPromptTokens = 24000
	defaultTimeout         = 2 * time.Minute
)

// Extractor turns one paper into candidate drug/outcome relations via an
// AI client. Extraction never fails the paper: any provider or parse error
// falls back to the deterministic mock generator.
type Extractor struct {
	client          ai.Client
	model           string
	maxPromptTokens int
	timeout         time.Duration
}

// NewExtractorParams configures an Extractor. Model may be empty to use the
// client's default; MaxPromptTokens caps how much full text is sent; Timeout
// bounds each provider call.
type NewExtractorParams struct {
	Client          ai.Client
	Model           string
	MaxPromptTokens int
	Timeout         time.Duration
}

// NewExtractor creates an Extractor.
func NewExtractor(params NewExtractorParams) *Extractor {
	maxTokens := params.MaxPromptTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxPromptTokens
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Extractor{
		client:          params.Client,
		model:           params.Model,
		maxPromptTokens: maxTokens,
		timeout:         timeout,
	}
}

type extractedRelation struct {
	Subject       string `json:"subject"`
	Outcome       string `json:"outcome"`
	Relationship  string `json:"relationship"`
	EvidenceScore int    `json:"evidence_score"`
	Dose          string `json:"dose"`
	Duration      string `json:"duration"`
	SampleSize    int    `json:"sample_size"`
	PValue        string `json:"p_value"`
	StudyType     string `json:"study_type"`
}

type extractResponse struct {
	Relations []extractedRelation `json:"relations"`
}

// Extract returns the candidate relations of one paper. The result may be
// empty; it is never an error. Full text is preferred over the abstract and
// truncated to the extractor's token budget.
func (e *Extractor) Extract(ctx context.Context, paper *common.Paper) []common.CandidateRelation {
	contextKind := abstractContext
	document := fmt.Sprintf("Title: %s\n\nAbstract:\n%s", paper.Title, paper.Abstract)
	if paper.HasFullText() {
		contextKind = fullTextContext
		document = fmt.Sprintf(
			"Title: %s\n\nAbstract:\n%s\n\nFull text:\n%s",
			paper.Title, paper.Abstract, paper.FullText,
		)
	}
	document = truncateToTokens(document, e.maxPromptTokens)

	systemPrompt := fmt.Sprintf(ExtractRelationsPrompt, contextKind)

	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(systemPrompt),
	}
	if e.model != "" {
		opts = append(opts, ai.WithModel(e.model))
	}

	// A stalled provider must not block the session loop; the deadline
	// turns a hang into the mock fallback below.
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var res extractResponse
	err := e.client.GenerateCompletionWithFormat(
		callCtx,
		"extract_drug_relations",
		"Extract drug to health-issue relationships from a scientific paper.",
		document,
		&res,
		opts...,
	)
	if err != nil {
		logger.Warn("[Extract] Extraction failed, falling back to mock generator", "paper", paper.ID, "error", err)
		return MockRelations(paper)
	}

	candidates := make([]common.CandidateRelation, 0, len(res.Relations))
	for _, rel := range res.Relations {
		subject := strings.TrimSpace(rel.Subject)
		outcome := strings.TrimSpace(rel.Outcome)
		if subject == "" || outcome == "" {
			continue
		}

		cand := common.CandidateRelation{
			Subject:       subject,
			Outcome:       outcome,
			Relationship:  normalizeRelationship(rel.Relationship),
			EvidenceScore: clampScore(rel.EvidenceScore),
			Dose:          strings.TrimSpace(rel.Dose),
			Duration:      strings.TrimSpace(rel.Duration),
			SampleSize:    rel.SampleSize,
			PValue:        strings.TrimSpace(rel.PValue),
			StudyType:     strings.TrimSpace(rel.StudyType),
			PaperID:       paper.ID,
			PaperYear:     paper.Year,
			HasFullText:   paper.HasFullText(),
			Source:        "llm",
		}
		cand.Confidence = classifyConfidence(&cand, paper)
		candidates = append(candidates, cand)
	}

	logger.Debug("[Extract] Extraction completed", "paper", paper.ID, "relations", len(candidates))
	return candidates
}

func normalizeRelationship(value string) common.Relationship {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "positive":
		return common.RelationshipPositive
	case "negative":
		return common.RelationshipNegative
	case "neutral":
		return common.RelationshipNeutral
	default:
		return common.RelationshipInconclusive
	}
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

// truncateToTokens cuts text to at most budget tokens. When the tokenizer is
// unavailable it falls back to a conservative rune cut (4 runes per token).
func truncateToTokens(text string, budget int) string {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		runes := []rune(text)
		if len(runes) <= budget*4 {
			return text
		}
		return string(runes[:budget*4])
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return enc.Decode(tokens[:budget])
}
