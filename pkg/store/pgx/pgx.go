package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Storage implements the Gateway interface on PostgreSQL. Sessions and
// aggregate relations use optimistic versioned writes; graph snapshots are
// insert-only jsonb documents.
type Storage struct {
	conn pgxIConn
}

// NewStorageWithConnection creates a Storage using an existing connection
// or pool.
func NewStorageWithConnection(conn pgxIConn) *Storage {
	return &Storage{conn: conn}
}

func (s *Storage) UpsertSession(ctx context.Context, session *common.Session) error {
	results, err := json.Marshal(session.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal session results: %w", err)
	}

	if session.Version == 0 {
		tag, err := s.conn.Exec(ctx, `
			INSERT INTO sessions
				(id, user_id, query, max_papers, status, progress, current_step,
				 stop_requested, results, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), 1)
			ON CONFLICT (id) DO NOTHING`,
			session.ID, session.UserID, session.Query, session.MaxPapers,
			session.Status, session.Progress, session.CurrentStep,
			session.StopRequested, results, session.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("session %s already exists: %w", session.ID, store.ErrVersionConflict)
		}
		session.Version = 1
		return nil
	}

	tag, err := s.conn.Exec(ctx, `
		UPDATE sessions SET
			status = $2, progress = $3, current_step = $4, stop_requested = $5,
			results = $6, updated_at = now(), version = version + 1
		WHERE id = $1 AND version = $7`,
		session.ID, session.Status, session.Progress, session.CurrentStep,
		session.StopRequested, results, session.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", session.ID, store.ErrVersionConflict)
	}
	session.Version++
	return nil
}

func (s *Storage) GetSession(ctx context.Context, id string) (*common.Session, error) {
	var (
		session common.Session
		results []byte
	)
	err := s.conn.QueryRow(ctx, `
		SELECT id, user_id, query, max_papers, status, progress, current_step,
		       stop_requested, results, created_at, updated_at, version
		FROM sessions WHERE id = $1`, id,
	).Scan(
		&session.ID, &session.UserID, &session.Query, &session.MaxPapers,
		&session.Status, &session.Progress, &session.CurrentStep,
		&session.StopRequested, &results, &session.CreatedAt,
		&session.UpdatedAt, &session.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if len(results) > 0 && string(results) != "null" {
		session.Results = &common.SessionResults{}
		if err := json.Unmarshal(results, session.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session results: %w", err)
		}
	}
	return &session, nil
}

func (s *Storage) AppendSessionLog(ctx context.Context, entry common.SessionLog) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO session_logs (session_id, level, message, at)
		VALUES ($1, $2, $3, $4)`,
		entry.SessionID, entry.Level, entry.Message, entry.At,
	)
	if err != nil {
		return fmt.Errorf("failed to append session log: %w", err)
	}
	return nil
}

func (s *Storage) GetSessionLogs(ctx context.Context, sessionID string, limit int) ([]common.SessionLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.conn.Query(ctx, `
		SELECT session_id, level, message, at FROM (
			SELECT session_id, level, message, at
			FROM session_logs WHERE session_id = $1
			ORDER BY at DESC, id DESC LIMIT $2
		) latest ORDER BY at ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get session logs: %w", err)
	}
	defer rows.Close()

	var logs []common.SessionLog
	for rows.Next() {
		var entry common.SessionLog
		if err := rows.Scan(&entry.SessionID, &entry.Level, &entry.Message, &entry.At); err != nil {
			return nil, fmt.Errorf("failed to scan session log: %w", err)
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Storage) UpsertAggregateRelation(ctx context.Context, relation *common.AggregateRelation) error {
	paperIDs, err := json.Marshal(relation.SupportingPaperIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal paper ids: %w", err)
	}
	relationships, err := json.Marshal(relation.Relationships)
	if err != nil {
		return fmt.Errorf("failed to marshal relationships: %w", err)
	}
	sources, err := json.Marshal(relation.ExtractionSources)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction sources: %w", err)
	}
	studyTypes, err := json.Marshal(relation.StudyTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal study types: %w", err)
	}

	subjectNorm := common.NormalizeTerm(relation.Subject)
	outcomeNorm := common.NormalizeTerm(relation.Outcome)

	if relation.Version == 0 {
		tag, err := s.conn.Exec(ctx, `
			INSERT INTO aggregate_relations
				(id, user_id, subject, outcome, subject_norm, outcome_norm,
				 supporting_paper_ids, total_papers, first_year, last_year,
				 relationships, extraction_sources, study_types,
				 full_text_source_count, has_significance, last_evidence_score,
				 strength, confidence, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			        $14, $15, $16, $17, $18, now(), 1)
			ON CONFLICT (user_id, subject_norm, outcome_norm) DO NOTHING`,
			relation.ID, relation.UserID, relation.Subject, relation.Outcome,
			subjectNorm, outcomeNorm, paperIDs, relation.TotalPapers,
			relation.FirstYear, relation.LastYear, relationships, sources,
			studyTypes, relation.FullTextSourceCount, relation.HasSignificance,
			relation.LastEvidenceScore, relation.Strength, relation.Confidence,
		)
		if err != nil {
			return fmt.Errorf("failed to insert aggregate relation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("relation %s|%s already exists: %w", subjectNorm, outcomeNorm, store.ErrVersionConflict)
		}
		relation.Version = 1
		return nil
	}

	tag, err := s.conn.Exec(ctx, `
		UPDATE aggregate_relations SET
			supporting_paper_ids = $4, total_papers = $5, first_year = $6,
			last_year = $7, relationships = $8, extraction_sources = $9,
			study_types = $10, full_text_source_count = $11,
			has_significance = $12, last_evidence_score = $13, strength = $14,
			confidence = $15, updated_at = now(), version = version + 1
		WHERE user_id = $1 AND subject_norm = $2 AND outcome_norm = $3
		  AND version = $16`,
		relation.UserID, subjectNorm, outcomeNorm, paperIDs,
		relation.TotalPapers, relation.FirstYear, relation.LastYear,
		relationships, sources, studyTypes, relation.FullTextSourceCount,
		relation.HasSignificance, relation.LastEvidenceScore,
		relation.Strength, relation.Confidence, relation.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update aggregate relation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("relation %s|%s: %w", subjectNorm, outcomeNorm, store.ErrVersionConflict)
	}
	relation.Version++
	return nil
}

func (s *Storage) ListAggregateRelations(ctx context.Context, userID string) ([]*common.AggregateRelation, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, user_id, subject, outcome, supporting_paper_ids,
		       total_papers, first_year, last_year, relationships,
		       extraction_sources, study_types, full_text_source_count,
		       has_significance, last_evidence_score, strength, confidence,
		       updated_at, version
		FROM aggregate_relations
		WHERE user_id = $1
		ORDER BY subject_norm, outcome_norm`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregate relations: %w", err)
	}
	defer rows.Close()

	var relations []*common.AggregateRelation
	for rows.Next() {
		var (
			rel           common.AggregateRelation
			paperIDs      []byte
			relationships []byte
			sources       []byte
			studyTypes    []byte
		)
		if err := rows.Scan(
			&rel.ID, &rel.UserID, &rel.Subject, &rel.Outcome, &paperIDs,
			&rel.TotalPapers, &rel.FirstYear, &rel.LastYear, &relationships,
			&sources, &studyTypes, &rel.FullTextSourceCount,
			&rel.HasSignificance, &rel.LastEvidenceScore, &rel.Strength,
			&rel.Confidence, &rel.UpdatedAt, &rel.Version,
		); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate relation: %w", err)
		}

		if err := json.Unmarshal(paperIDs, &rel.SupportingPaperIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal paper ids: %w", err)
		}
		if err := json.Unmarshal(relationships, &rel.Relationships); err != nil {
			return nil, fmt.Errorf("failed to unmarshal relationships: %w", err)
		}
		if err := json.Unmarshal(sources, &rel.ExtractionSources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extraction sources: %w", err)
		}
		if err := json.Unmarshal(studyTypes, &rel.StudyTypes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal study types: %w", err)
		}

		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}

func (s *Storage) InsertGraphSnapshot(ctx context.Context, graph *common.Graph) error {
	payload, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO graph_snapshots (id, user_id, session_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		graph.ID, graph.UserID, graph.SessionID, payload, graph.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert graph snapshot: %w", err)
	}
	return nil
}

func (s *Storage) GetGraphSnapshot(ctx context.Context, id string) (*common.Graph, error) {
	var payload []byte
	err := s.conn.QueryRow(ctx,
		`SELECT payload FROM graph_snapshots WHERE id = $1`, id,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("graph %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get graph snapshot: %w", err)
	}
	return unmarshalGraph(payload)
}

func (s *Storage) GetLatestGraph(ctx context.Context, userID string) (*common.Graph, error) {
	var payload []byte
	err := s.conn.QueryRow(ctx, `
		SELECT payload FROM graph_snapshots
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no graph for user %s: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest graph: %w", err)
	}
	return unmarshalGraph(payload)
}

func (s *Storage) ListGraphSnapshots(ctx context.Context, userID string, page, pageSize int) ([]*common.Graph, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	rows, err := s.conn.Query(ctx, `
		SELECT payload FROM graph_snapshots
		WHERE user_id = $1 ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list graph snapshots: %w", err)
	}
	defer rows.Close()

	graphs := []*common.Graph{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan graph snapshot: %w", err)
		}
		graph, err := unmarshalGraph(payload)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, graph)
	}
	return graphs, rows.Err()
}

func (s *Storage) MarkPaperProcessed(ctx context.Context, userID, paperID, status string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO processed_papers (user_id, paper_id, status, processed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, paper_id)
		DO UPDATE SET status = EXCLUDED.status, processed_at = now()`,
		userID, paperID, status,
	)
	if err != nil {
		return fmt.Errorf("failed to mark paper processed: %w", err)
	}
	return nil
}

func (s *Storage) ListProcessedPapers(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT paper_id, status FROM processed_papers WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed papers: %w", err)
	}
	defer rows.Close()

	processed := make(map[string]string)
	for rows.Next() {
		var paperID, status string
		if err := rows.Scan(&paperID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan processed paper: %w", err)
		}
		processed[paperID] = status
	}
	return processed, rows.Err()
}

func unmarshalGraph(payload []byte) (*common.Graph, error) {
	var graph common.Graph
	if err := json.Unmarshal(payload, &graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	return &graph, nil
}
