package store

import (
	"context"
	"errors"

	"github.com/evigraph/backend/pkg/common"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned by a versioned upsert when the stored
// record has moved past the version the caller read.
var ErrVersionConflict = errors.New("version conflict")

// Paper processing outcomes recorded in the per-user processed set.
const (
	ProcessedOK     = "ok"
	ProcessedFailed = "failed"
)

// Gateway is the persistence interface of the pipeline. Sessions and
// aggregate relations are upserted with optimistic concurrency: the write
// succeeds only when the caller holds the current version, and the record's
// Version is bumped in place on success.
type Gateway interface {
	UpsertSession(ctx context.Context, session *common.Session) error
	GetSession(ctx context.Context, id string) (*common.Session, error)
	AppendSessionLog(ctx context.Context, entry common.SessionLog) error
	GetSessionLogs(ctx context.Context, sessionID string, limit int) ([]common.SessionLog, error)

	UpsertAggregateRelation(ctx context.Context, relation *common.AggregateRelation) error
	ListAggregateRelations(ctx context.Context, userID string) ([]*common.AggregateRelation, error)

	InsertGraphSnapshot(ctx context.Context, graph *common.Graph) error
	GetGraphSnapshot(ctx context.Context, id string) (*common.Graph, error)
	GetLatestGraph(ctx context.Context, userID string) (*common.Graph, error)
	ListGraphSnapshots(ctx context.Context, userID string, page, pageSize int) ([]*common.Graph, error)

	MarkPaperProcessed(ctx context.Context, userID, paperID, status string) error
	ListProcessedPapers(ctx context.Context, userID string) (map[string]string, error)
}
