package common

import (
	"strings"
	"time"
)

// Relationship classifies the direction of a drug/health-issue link as
// reported by a single paper or by the aggregated evidence.
type Relationship string

const (
	RelationshipPositive     Relationship = "positive"
	RelationshipNegative     Relationship = "negative"
	RelationshipNeutral      Relationship = "neutral"
	RelationshipInconclusive Relationship = "inconclusive"
)

// Confidence is the three-level extraction confidence scale.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// ConfidenceRank orders confidences Low < Medium < High. Unknown values
// rank below Low so they never win a merge.
func ConfidenceRank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// Paper is one bibliographic record. Immutable once fetched; cached by ID.
type Paper struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Abstract  string    `json:"abstract"`
	FullText  string    `json:"full_text,omitempty"`
	Year      int       `json:"year"`
	Journal   string    `json:"journal"`
	Authors   []string  `json:"authors"`
	FetchedAt time.Time `json:"fetched_at"`
}

// HasFullText reports whether a usable full-text body was resolved.
func (p *Paper) HasFullText() bool {
	return len(p.FullText) > 0
}

// CandidateRelation is one unverified subject/outcome link extracted from a
// single paper. A paper yields zero or more candidates; candidates are
// ephemeral and only live until they are merged into an AggregateRelation.
type CandidateRelation struct {
	Subject       string       `json:"subject"`
	Outcome       string       `json:"outcome"`
	Relationship  Relationship `json:"relationship"`
	Confidence    Confidence   `json:"confidence"`
	EvidenceScore int          `json:"evidence_score"`

	Dose       string `json:"dose,omitempty"`
	Duration   string `json:"duration,omitempty"`
	SampleSize int    `json:"sample_size,omitempty"`
	PValue     string `json:"p_value,omitempty"`
	StudyType  string `json:"study_type,omitempty"`

	PaperID     string `json:"paper_id"`
	PaperYear   int    `json:"paper_year"`
	HasFullText bool   `json:"has_full_text"`
	IsMock      bool   `json:"is_mock"`
	Source      string `json:"source"`
}

// AggregateRelation combines all candidates for one (user, subject, outcome)
// across all processed papers. Mutated in place by merges, never deleted by
// the pipeline.
type AggregateRelation struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Outcome string `json:"outcome"`

	SupportingPaperIDs  []string       `json:"supporting_paper_ids"`
	TotalPapers         int            `json:"total_papers"`
	FirstYear           int            `json:"first_year"`
	LastYear            int            `json:"last_year"`
	Relationships       []Relationship `json:"relationships"`
	ExtractionSources   []string       `json:"extraction_sources"`
	StudyTypes          []string       `json:"study_types"`
	FullTextSourceCount int            `json:"full_text_source_count"`
	HasSignificance     bool           `json:"has_significance"`

	// LastEvidenceScore is the evidence score of the most recent triggering
	// candidate; it is part of the record so strength stays a pure function
	// of the record's own fields.
	LastEvidenceScore int `json:"last_evidence_score"`

	Strength   int        `json:"strength"`
	Confidence Confidence `json:"confidence"`

	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NormalizeTerm lowercases and collapses whitespace; the aggregation key is
// case-insensitive on (subject, outcome).
func NormalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Key returns the arena key for the relation: normalized "subject|outcome".
func (a *AggregateRelation) Key() string {
	return RelationKey(a.Subject, a.Outcome)
}

// RelationKey builds the normalized "subject|outcome" aggregation key.
func RelationKey(subject, outcome string) string {
	return NormalizeTerm(subject) + "|" + NormalizeTerm(outcome)
}

// DominantRelationship picks the relationship shown on a graph edge:
// positive/negative win over neutral/inconclusive, first-seen breaks ties.
func (a *AggregateRelation) DominantRelationship() Relationship {
	for _, r := range a.Relationships {
		if r == RelationshipPositive || r == RelationshipNegative {
			return r
		}
	}
	if len(a.Relationships) > 0 {
		return a.Relationships[0]
	}
	return RelationshipInconclusive
}

// SessionStatus is the lifecycle state of a processing session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
	SessionStopped   SessionStatus = "stopped"
)

// SessionResults summarizes the work a terminal session actually completed.
type SessionResults struct {
	PapersProcessed  int    `json:"papers_processed"`
	PapersFailed     int    `json:"papers_failed"`
	NewConnections   int    `json:"new_connections"`
	TotalConnections int    `json:"total_connections"`
	DurationMs       int64  `json:"duration_ms"`
	Message          string `json:"message,omitempty"`
}

// Session is one run of the pipeline for one user/query/paper budget.
// Progress is monotonic while the session is running.
type Session struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Query         string          `json:"query"`
	MaxPapers     int             `json:"max_papers"`
	Status        SessionStatus   `json:"status"`
	Progress      int             `json:"progress"`
	CurrentStep   string          `json:"current_step"`
	StopRequested bool            `json:"stop_requested"`
	Results       *SessionResults `json:"results,omitempty"`
	Logs          []SessionLog    `json:"logs,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int64           `json:"version"`
}

// SessionLog is one append-only log line attached to a session.
type SessionLog struct {
	SessionID string    `json:"session_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// NodeType distinguishes the two node classes in the knowledge graph.
type NodeType string

const (
	NodeDrug        NodeType = "drug"
	NodeHealthIssue NodeType = "health_issue"
)

// Node is one typed vertex in the knowledge graph. Size grows monotonically
// with the number of aggregate relations incident to the entity.
type Node struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Type  NodeType `json:"type"`
	Size  int      `json:"size"`
}

// Edge is one subject/outcome connection carrying the aggregate's current
// strength, supporting paper count, and dominant relationship.
type Edge struct {
	Source       string       `json:"source"`
	Target       string       `json:"target"`
	Strength     int          `json:"strength"`
	PaperCount   int          `json:"paper_count"`
	Relationship Relationship `json:"relationship"`
}

// GraphStats is the analytics snapshot computed for a built graph.
type GraphStats struct {
	NodeCount             int         `json:"node_count"`
	EdgeCount             int         `json:"edge_count"`
	MinDegree             int         `json:"min_degree"`
	MaxDegree             int         `json:"max_degree"`
	AvgDegree             float64     `json:"avg_degree"`
	Density               float64     `json:"density"`
	StrengthHistogram     map[int]int `json:"strength_histogram"`
	ComponentCount        int         `json:"component_count"`
	LargestComponent      int         `json:"largest_component"`
	LargestComponentRatio float64     `json:"largest_component_ratio"`
}

// Graph is the knowledge graph rebuilt wholesale from a user's aggregate
// relation set at the end of each run.
type Graph struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	SessionID string     `json:"session_id"`
	Nodes     []Node     `json:"nodes"`
	Edges     []Edge     `json:"edges"`
	Stats     GraphStats `json:"stats"`
	CreatedAt time.Time  `json:"created_at"`
}
