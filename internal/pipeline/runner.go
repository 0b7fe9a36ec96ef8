package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evigraph/backend/internal/util"

	"github.com/evigraph/backend/pkg/aggregate"
	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/graph"
	"github.com/evigraph/backend/pkg/leaselock"
	"github.com/evigraph/backend/pkg/literature"
	"github.com/evigraph/backend/pkg/logger"
	"github.com/evigraph/backend/pkg/store"
)

// LiteratureSource is the slice of the literature client the runner needs.
type LiteratureSource interface {
	Search(ctx context.Context, query string, max int) (*literature.SearchResult, error)
	FetchMany(ctx context.Context, ids []string, force bool, onProgress func(done, total int)) ([]*common.Paper, error)
	FetchFullText(ctx context.Context, paper *common.Paper) (string, bool)
}

// RelationExtractor turns one paper into candidate relations.
type RelationExtractor interface {
	Extract(ctx context.Context, paper *common.Paper) []common.CandidateRelation
}

// MergeLocker serializes the per-user merge phase across processes. nil
// disables cross-process locking (single-process runs and tests).
type MergeLocker interface {
	WithLease(ctx context.Context, userID string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Runner drives one session through the pipeline: search, fetch, extract,
// merge, graph rebuild, persist. One Runner serves many sessions.
type Runner struct {
	gateway    store.Gateway
	literature LiteratureSource
	extractor  RelationExtractor
	aggregates *aggregate.Store
	registry   *Registry
	locker     MergeLocker
}

// NewRunnerParams wires a Runner. Locker may be nil.
type NewRunnerParams struct {
	Gateway    store.Gateway
	Literature LiteratureSource
	Extractor  RelationExtractor
	Aggregates *aggregate.Store
	Registry   *Registry
	Locker     MergeLocker
}

// NewRunner creates a Runner.
func NewRunner(params NewRunnerParams) *Runner {
	return &Runner{
		gateway:    params.Gateway,
		literature: params.Literature,
		extractor:  params.Extractor,
		aggregates: params.Aggregates,
		registry:   params.Registry,
		locker:     params.Locker,
	}
}

// Run claims and executes one session to a terminal state. The returned
// error is non-nil only for infrastructure failures before the session is
// claimed; pipeline failures end in the session's own error state instead.
func (r *Runner) Run(ctx context.Context, sessionID string) error {
	session, err := r.claim(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	handle := r.registry.Register(session.ID, session.UserID)
	defer r.registry.Remove(session.ID)

	writer := newSessionWriter(r.gateway, session)
	defer writer.Close()

	start := time.Now()
	results := &common.SessionResults{}
	finish := func(status common.SessionStatus, step, message string) {
		results.DurationMs = time.Since(start).Milliseconds()
		results.Message = message
		writer.Finish(status, step, results)
	}

	logger.Info("[Pipeline] Session started", "session", session.ID, "user", session.UserID, "query", session.Query)

	persisted, err := r.gateway.ListAggregateRelations(ctx, session.UserID)
	if err != nil {
		writer.Log("error", fmt.Sprintf("failed to load existing relations: %v", err))
		finish(common.SessionError, "loading existing relations failed", err.Error())
		return nil
	}
	r.aggregates.Hydrate(session.UserID, persisted)

	writer.SetProgress(5, "searching literature")
	writer.Log("info", fmt.Sprintf("searching literature for %q", session.Query))

	searchResult, err := r.literature.Search(ctx, session.Query, session.MaxPapers)
	if err != nil {
		// Search failure is fatal for the session; relations merged by
		// earlier sessions stay committed.
		writer.Log("error", fmt.Sprintf("literature search failed: %v", err))
		finish(common.SessionError, "literature search failed", err.Error())
		return nil
	}
	writer.Log("info", fmt.Sprintf("search returned %d papers (%d total matches)", len(searchResult.IDs), searchResult.Total))

	processedSet, err := r.gateway.ListProcessedPapers(ctx, session.UserID)
	if err != nil {
		writer.Log("error", fmt.Sprintf("failed to load processed papers: %v", err))
		finish(common.SessionError, "loading processed papers failed", err.Error())
		return nil
	}

	ids := make([]string, 0, len(searchResult.IDs))
	for _, id := range searchResult.IDs {
		if processedSet[id] == store.ProcessedOK {
			continue
		}
		ids = append(ids, id)
		if session.MaxPapers > 0 && len(ids) >= session.MaxPapers {
			break
		}
	}

	papers, err := r.literature.FetchMany(ctx, ids, false, func(done, total int) {
		writer.SetProgress(5+20*done/total, "fetching papers")
	})
	if err != nil {
		writer.Log("error", fmt.Sprintf("paper fetching aborted: %v", err))
		finish(common.SessionError, "paper fetching aborted", err.Error())
		return nil
	}

	fetched := make(map[string]bool, len(papers))
	for _, paper := range papers {
		fetched[paper.ID] = true
	}
	for _, id := range ids {
		if !fetched[id] {
			r.markProcessed(ctx, session.UserID, id, store.ProcessedFailed)
			results.PapersFailed++
			writer.Log("warn", fmt.Sprintf("paper %s could not be fetched", id))
		}
	}

	for i, paper := range papers {
		stopped, err := r.stopRequested(ctx, handle, session.ID)
		if err != nil {
			writer.Log("warn", fmt.Sprintf("stop flag check failed: %v", err))
		}
		if stopped {
			writer.Log("info", fmt.Sprintf("stop requested, %d of %d papers processed", i, len(papers)))
			finish(common.SessionStopped, "stopped by user", "stopped by user")
			return nil
		}

		writer.SetProgress(25+50*i/len(papers), fmt.Sprintf("processing paper %s", paper.ID))

		if text, ok := r.literature.FetchFullText(ctx, paper); ok {
			paper.FullText = text
		}

		candidates := r.extractor.Extract(ctx, paper)
		if err := r.mergeCandidates(ctx, session.UserID, candidates, results); err != nil {
			writer.Log("warn", fmt.Sprintf("paper %s failed: %v", paper.ID, err))
			r.markProcessed(ctx, session.UserID, paper.ID, store.ProcessedFailed)
			results.PapersFailed++
			continue
		}

		r.markProcessed(ctx, session.UserID, paper.ID, store.ProcessedOK)
		results.PapersProcessed++
		writer.Log("info", fmt.Sprintf("paper %s yielded %d candidate relations", paper.ID, len(candidates)))
	}

	writer.SetProgress(75, "building knowledge graph")

	relations := r.aggregates.Relations(session.UserID)
	builtGraph := graph.Build(session.UserID, session.ID, relations)
	if err := r.gateway.InsertGraphSnapshot(ctx, builtGraph); err != nil {
		writer.Log("error", fmt.Sprintf("failed to persist graph snapshot: %v", err))
		finish(common.SessionError, "persisting graph failed", err.Error())
		return nil
	}

	writer.SetProgress(90, "saving results")
	results.TotalConnections = len(relations)

	finish(common.SessionCompleted, "completed", "")
	logger.Info("[Pipeline] Session completed",
		"session", session.ID,
		"papers", results.PapersProcessed,
		"failed", results.PapersFailed,
		"connections", results.TotalConnections,
	)
	return nil
}

// claim moves an idle session to running and returns it. A nil session with
// nil error means there is nothing to run and the message can be acked. The
// usual version conflict is another worker winning the claim, but a stop
// request racing the claim bumps the version too, so a conflict reloads the
// session and retries once instead of assuming the session is taken. An idle
// session with the stop flag already set goes straight to stopped.
func (r *Runner) claim(ctx context.Context, sessionID string) (*common.Session, error) {
	session, err := r.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if session.Status != common.SessionIdle {
			logger.Warn("[Pipeline] Session not claimable", "session", sessionID, "status", session.Status)
			return nil, nil
		}

		if session.StopRequested {
			session.Status = common.SessionStopped
			session.CurrentStep = "stopped by user"
			session.Results = &common.SessionResults{Message: "stopped before start"}
			if err := r.gateway.UpsertSession(ctx, session); err != nil && !errors.Is(err, store.ErrVersionConflict) {
				return nil, fmt.Errorf("failed to stop session %s: %w", sessionID, err)
			}
			logger.Info("[Pipeline] Session stopped before start", "session", sessionID)
			return nil, nil
		}

		session.Status = common.SessionRunning
		session.CurrentStep = "starting"
		err := r.gateway.UpsertSession(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to claim session %s: %w", sessionID, err)
		}

		session, err = r.gateway.GetSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session %s after claim conflict: %w", sessionID, err)
		}
	}

	logger.Warn("[Pipeline] Session claimed by another worker", "session", sessionID)
	return nil, nil
}

// stopRequested checks the local handle flag first, then the persisted flag
// so a stop issued to another process is observed too. Checked once per
// paper, before the paper's extraction is dispatched.
func (r *Runner) stopRequested(ctx context.Context, handle *Handle, sessionID string) (bool, error) {
	if handle.Stopped() {
		return true, nil
	}
	fresh, err := r.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return fresh.StopRequested, nil
}

// mergeCandidates folds all of a paper's candidates into the user's
// aggregate set, under the cross-process merge lease when one is configured.
func (r *Runner) mergeCandidates(ctx context.Context, userID string, candidates []common.CandidateRelation, results *common.SessionResults) error {
	merge := func(ctx context.Context) error {
		for _, cand := range candidates {
			created, err := r.mergeAndPersist(ctx, userID, cand)
			if err != nil {
				return err
			}
			if created {
				results.NewConnections++
			}
		}
		return nil
	}

	if r.locker == nil {
		return merge(ctx)
	}
	return r.locker.WithLease(ctx, userID, leaselock.Options{Wait: true}, merge)
}

// mergeAndPersist applies one candidate and upserts the merged relation.
// A version conflict means another process moved the relation on; the
// persisted state is reloaded and the candidate folded in once more.
func (r *Runner) mergeAndPersist(ctx context.Context, userID string, cand common.CandidateRelation) (bool, error) {
	rel, created := r.aggregates.Merge(userID, cand)
	err := r.gateway.UpsertAggregateRelation(ctx, rel)
	if err == nil {
		r.aggregates.SetVersion(userID, rel.Key(), rel.Version)
		return created, nil
	}
	if !errors.Is(err, store.ErrVersionConflict) {
		return created, err
	}

	persisted, err := r.gateway.ListAggregateRelations(ctx, userID)
	if err != nil {
		return created, fmt.Errorf("failed to reload relations after conflict: %w", err)
	}
	r.aggregates.Hydrate(userID, persisted)

	rel, created = r.aggregates.Merge(userID, cand)
	if err := r.gateway.UpsertAggregateRelation(ctx, rel); err != nil {
		return created, fmt.Errorf("relation upsert failed after conflict retry: %w", err)
	}
	r.aggregates.SetVersion(userID, rel.Key(), rel.Version)
	return created, nil
}

func (r *Runner) markProcessed(ctx context.Context, userID, paperID, status string) {
	if err := r.gateway.MarkPaperProcessed(ctx, userID, paperID, status); err != nil {
		logger.Warn("[Pipeline] Failed to mark paper processed", "user", userID, "paper", paperID, "error", err)
	}
}

// RequestStop sets the cooperative stop flag, locally when the session runs
// in this process and always in the session row so other processes observe
// it. Returns false when the session is unknown or already terminal.
func RequestStop(ctx context.Context, gateway store.Gateway, registry *Registry, sessionID string) (bool, error) {
	if handle := registry.Get(sessionID); handle != nil {
		handle.RequestStop()
	}

	// Version conflicts are retried with a fresh read; every other failure
	// is final.
	return util.RetryWithContext(ctx, 3, func(ctx context.Context) (bool, error) {
		session, err := gateway.GetSession(ctx, sessionID)
		if err != nil {
			return false, util.Permanent(err)
		}
		if session.Status != common.SessionRunning && session.Status != common.SessionIdle {
			return false, nil
		}

		session.StopRequested = true
		err = gateway.UpsertSession(ctx, session)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, store.ErrVersionConflict) {
			return false, fmt.Errorf("session %s: %w", sessionID, err)
		}
		return false, util.Permanent(err)
	})
}
