package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/store"
)

// Storage is an in-memory Gateway implementation with the same optimistic
// concurrency semantics as the Postgres gateway. Used by tests and local
// single-process runs.
type Storage struct {
	mu sync.Mutex

	sessions    map[string]*common.Session
	sessionLogs map[string][]common.SessionLog
	relations   map[string]map[string]*common.AggregateRelation
	graphs      []*common.Graph
	processed   map[string]map[string]string
}

// NewStorage creates an empty in-memory gateway.
func NewStorage() *Storage {
	return &Storage{
		sessions:    make(map[string]*common.Session),
		sessionLogs: make(map[string][]common.SessionLog),
		relations:   make(map[string]map[string]*common.AggregateRelation),
		processed:   make(map[string]map[string]string),
	}
}

func (s *Storage) UpsertSession(ctx context.Context, session *common.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[session.ID]
	if !ok {
		if session.Version != 0 {
			return fmt.Errorf("session %s: %w", session.ID, store.ErrVersionConflict)
		}
		session.Version = 1
		s.sessions[session.ID] = cloneSession(session)
		return nil
	}

	if existing.Version != session.Version {
		return fmt.Errorf("session %s at version %d, caller has %d: %w",
			session.ID, existing.Version, session.Version, store.ErrVersionConflict)
	}
	session.Version++
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *Storage) GetSession(ctx context.Context, id string) (*common.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return cloneSession(session), nil
}

func (s *Storage) AppendSessionLog(ctx context.Context, entry common.SessionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionLogs[entry.SessionID] = append(s.sessionLogs[entry.SessionID], entry)
	return nil
}

func (s *Storage) GetSessionLogs(ctx context.Context, sessionID string, limit int) ([]common.SessionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := s.sessionLogs[sessionID]
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return slices.Clone(logs), nil
}

func (s *Storage) UpsertAggregateRelation(ctx context.Context, relation *common.AggregateRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userRelations, ok := s.relations[relation.UserID]
	if !ok {
		userRelations = make(map[string]*common.AggregateRelation)
		s.relations[relation.UserID] = userRelations
	}

	key := relation.Key()
	existing, ok := userRelations[key]
	if !ok {
		if relation.Version != 0 {
			return fmt.Errorf("relation %s: %w", key, store.ErrVersionConflict)
		}
		relation.Version = 1
		userRelations[key] = cloneRelation(relation)
		return nil
	}

	if existing.Version != relation.Version {
		return fmt.Errorf("relation %s at version %d, caller has %d: %w",
			key, existing.Version, relation.Version, store.ErrVersionConflict)
	}
	relation.Version++
	userRelations[key] = cloneRelation(relation)
	return nil
}

func (s *Storage) ListAggregateRelations(ctx context.Context, userID string) ([]*common.AggregateRelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userRelations := s.relations[userID]
	relations := make([]*common.AggregateRelation, 0, len(userRelations))
	for _, rel := range userRelations {
		relations = append(relations, cloneRelation(rel))
	}
	slices.SortFunc(relations, func(a, b *common.AggregateRelation) int {
		switch {
		case a.Key() < b.Key():
			return -1
		case a.Key() > b.Key():
			return 1
		default:
			return 0
		}
	})
	return relations, nil
}

func (s *Storage) InsertGraphSnapshot(ctx context.Context, graph *common.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.graphs = append(s.graphs, cloneGraph(graph))
	return nil
}

func (s *Storage) GetGraphSnapshot(ctx context.Context, id string) (*common.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, graph := range s.graphs {
		if graph.ID == id {
			return cloneGraph(graph), nil
		}
	}
	return nil, fmt.Errorf("graph %s: %w", id, store.ErrNotFound)
}

func (s *Storage) GetLatestGraph(ctx context.Context, userID string) (*common.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.graphs) - 1; i >= 0; i-- {
		if s.graphs[i].UserID == userID {
			return cloneGraph(s.graphs[i]), nil
		}
	}
	return nil, fmt.Errorf("no graph for user %s: %w", userID, store.ErrNotFound)
}

func (s *Storage) ListGraphSnapshots(ctx context.Context, userID string, page, pageSize int) ([]*common.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	var userGraphs []*common.Graph
	for i := len(s.graphs) - 1; i >= 0; i-- {
		if s.graphs[i].UserID == userID {
			userGraphs = append(userGraphs, s.graphs[i])
		}
	}

	start := (page - 1) * pageSize
	if start >= len(userGraphs) {
		return []*common.Graph{}, nil
	}
	end := min(start+pageSize, len(userGraphs))

	result := make([]*common.Graph, 0, end-start)
	for _, graph := range userGraphs[start:end] {
		result = append(result, cloneGraph(graph))
	}
	return result, nil
}

func (s *Storage) MarkPaperProcessed(ctx context.Context, userID, paperID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userProcessed, ok := s.processed[userID]
	if !ok {
		userProcessed = make(map[string]string)
		s.processed[userID] = userProcessed
	}
	userProcessed[paperID] = status
	return nil
}

func (s *Storage) ListProcessedPapers(ctx context.Context, userID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]string, len(s.processed[userID]))
	for paperID, status := range s.processed[userID] {
		result[paperID] = status
	}
	return result, nil
}

func cloneSession(session *common.Session) *common.Session {
	copied := *session
	copied.Logs = slices.Clone(session.Logs)
	if session.Results != nil {
		results := *session.Results
		copied.Results = &results
	}
	return &copied
}

func cloneRelation(rel *common.AggregateRelation) *common.AggregateRelation {
	copied := *rel
	copied.SupportingPaperIDs = slices.Clone(rel.SupportingPaperIDs)
	copied.Relationships = slices.Clone(rel.Relationships)
	copied.ExtractionSources = slices.Clone(rel.ExtractionSources)
	copied.StudyTypes = slices.Clone(rel.StudyTypes)
	return &copied
}

func cloneGraph(graph *common.Graph) *common.Graph {
	copied := *graph
	copied.Nodes = slices.Clone(graph.Nodes)
	copied.Edges = slices.Clone(graph.Edges)
	return &copied
}
