package aggregate

import (
	"slices"
	"sync"
	"time"

	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Store is an explicit keyed arena of aggregate relations, one map per user
// keyed by the normalized "subject|outcome" key. All mutation happens inside
// Merge under the owning user's mutex, so two sessions of the same user can
// never interleave a read-modify-write on the same relation.
type Store struct {
	mu    sync.Mutex
	users map[string]*userArena
}

type userArena struct {
	mu        sync.Mutex
	relations map[string]*common.AggregateRelation
}

// NewStore creates an empty aggregate store.
func NewStore() *Store {
	return &Store{
		users: make(map[string]*userArena),
	}
}

func (s *Store) arena(userID string) *userArena {
	s.mu.Lock()
	defer s.mu.Unlock()

	arena, ok := s.users[userID]
	if !ok {
		arena = &userArena{relations: make(map[string]*common.AggregateRelation)}
		s.users[userID] = arena
	}
	return arena
}

// Hydrate loads previously persisted relations into a user's arena. Existing
// in-memory entries for the same key are replaced.
func (s *Store) Hydrate(userID string, relations []*common.AggregateRelation) {
	arena := s.arena(userID)
	arena.mu.Lock()
	defer arena.mu.Unlock()

	for _, rel := range relations {
		copied := cloneRelation(rel)
		arena.relations[copied.Key()] = copied
	}
}

// Merge folds one candidate into the user's aggregate set and recomputes the
// relation's strength. Returns a snapshot of the merged relation and whether
// the candidate created a new relation.
func (s *Store) Merge(userID string, cand common.CandidateRelation) (*common.AggregateRelation, bool) {
	arena := s.arena(userID)
	arena.mu.Lock()
	defer arena.mu.Unlock()

	key := common.RelationKey(cand.Subject, cand.Outcome)
	rel, exists := arena.relations[key]
	created := false

	if !exists {
		id, err := gonanoid.New()
		if err != nil {
			// gonanoid only fails when the OS entropy source does; a key
			// collision from the fallback is acceptable over losing the merge.
			logger.Error("[Aggregate] Failed to generate relation id", "error", err)
			id = key
		}
		rel = &common.AggregateRelation{
			ID:      id,
			UserID:  userID,
			Subject: cand.Subject,
			Outcome: cand.Outcome,
		}
		arena.relations[key] = rel
		created = true
	}

	if !slices.Contains(rel.SupportingPaperIDs, cand.PaperID) {
		rel.SupportingPaperIDs = append(rel.SupportingPaperIDs, cand.PaperID)
		if cand.HasFullText {
			rel.FullTextSourceCount++
		}
	}
	rel.TotalPapers = len(rel.SupportingPaperIDs)

	if !slices.Contains(rel.Relationships, cand.Relationship) {
		rel.Relationships = append(rel.Relationships, cand.Relationship)
	}
	if cand.Source != "" && !slices.Contains(rel.ExtractionSources, cand.Source) {
		rel.ExtractionSources = append(rel.ExtractionSources, cand.Source)
	}
	if cand.StudyType != "" && !slices.Contains(rel.StudyTypes, cand.StudyType) {
		rel.StudyTypes = append(rel.StudyTypes, cand.StudyType)
	}

	if cand.PaperYear > 0 {
		if rel.FirstYear == 0 || cand.PaperYear < rel.FirstYear {
			rel.FirstYear = cand.PaperYear
		}
		if cand.PaperYear > rel.LastYear {
			rel.LastYear = cand.PaperYear
		}
	}

	if cand.PValue != "" {
		rel.HasSignificance = true
	}
	if common.ConfidenceRank(cand.Confidence) > common.ConfidenceRank(rel.Confidence) {
		rel.Confidence = cand.Confidence
	}

	rel.LastEvidenceScore = clampScore(cand.EvidenceScore)
	rel.Strength = ComputeStrength(rel, time.Now().Year())
	rel.UpdatedAt = time.Now()

	return cloneRelation(rel), created
}

// Relations returns a snapshot of all aggregate relations of a user.
func (s *Store) Relations(userID string) []*common.AggregateRelation {
	arena := s.arena(userID)
	arena.mu.Lock()
	defer arena.mu.Unlock()

	relations := make([]*common.AggregateRelation, 0, len(arena.relations))
	for _, rel := range arena.relations {
		relations = append(relations, cloneRelation(rel))
	}

	slices.SortFunc(relations, func(a, b *common.AggregateRelation) int {
		if a.Key() < b.Key() {
			return -1
		}
		if a.Key() > b.Key() {
			return 1
		}
		return 0
	})
	return relations
}

// SetVersion records the persisted version of a relation after a successful
// upsert, so the next merge carries the version the store expects.
func (s *Store) SetVersion(userID, key string, version int64) {
	arena := s.arena(userID)
	arena.mu.Lock()
	defer arena.mu.Unlock()

	if rel, ok := arena.relations[key]; ok {
		rel.Version = version
	}
}

func cloneRelation(rel *common.AggregateRelation) *common.AggregateRelation {
	copied := *rel
	copied.SupportingPaperIDs = slices.Clone(rel.SupportingPaperIDs)
	copied.Relationships = slices.Clone(rel.Relationships)
	copied.ExtractionSources = slices.Clone(rel.ExtractionSources)
	copied.StudyTypes = slices.Clone(rel.StudyTypes)
	return &copied
}
