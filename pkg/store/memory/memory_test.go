package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/store"
)

func TestUpsertSession_Versioning(t *testing.T) {
	storage := NewStorage()
	ctx := context.Background()

	session := &common.Session{ID: "s1", UserID: "u1", Status: common.SessionIdle}
	if err := storage.UpsertSession(ctx, session); err != nil {
		t.Fatalf("UpsertSession() insert error = %v", err)
	}
	if session.Version != 1 {
		t.Fatalf("Version after insert = %d, want 1", session.Version)
	}

	session.Status = common.SessionRunning
	if err := storage.UpsertSession(ctx, session); err != nil {
		t.Fatalf("UpsertSession() update error = %v", err)
	}
	if session.Version != 2 {
		t.Fatalf("Version after update = %d, want 2", session.Version)
	}

	stale := &common.Session{ID: "s1", Status: common.SessionError, Version: 1}
	err := storage.UpsertSession(ctx, stale)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("UpsertSession() stale write error = %v, want ErrVersionConflict", err)
	}

	stored, err := storage.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if stored.Status != common.SessionRunning {
		t.Fatalf("stale write overwrote the session: %+v", stored)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	storage := NewStorage()
	if _, err := storage.GetSession(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestUpsertAggregateRelation_Versioning(t *testing.T) {
	storage := NewStorage()
	ctx := context.Background()

	rel := &common.AggregateRelation{
		ID: "r1", UserID: "u1", Subject: "Metformin", Outcome: "Longevity",
		SupportingPaperIDs: []string{"P1"}, TotalPapers: 1,
	}
	if err := storage.UpsertAggregateRelation(ctx, rel); err != nil {
		t.Fatalf("UpsertAggregateRelation() insert error = %v", err)
	}

	rel.SupportingPaperIDs = append(rel.SupportingPaperIDs, "P2")
	rel.TotalPapers = 2
	if err := storage.UpsertAggregateRelation(ctx, rel); err != nil {
		t.Fatalf("UpsertAggregateRelation() update error = %v", err)
	}

	stale := &common.AggregateRelation{
		ID: "r1", UserID: "u1", Subject: "METFORMIN", Outcome: "longevity", Version: 1,
	}
	if err := storage.UpsertAggregateRelation(ctx, stale); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("UpsertAggregateRelation() stale write error = %v, want ErrVersionConflict", err)
	}

	relations, err := storage.ListAggregateRelations(ctx, "u1")
	if err != nil {
		t.Fatalf("ListAggregateRelations() error = %v", err)
	}
	if len(relations) != 1 || relations[0].TotalPapers != 2 {
		t.Fatalf("ListAggregateRelations() = %+v", relations)
	}
}

func TestSessionLogs_CapAndOrder(t *testing.T) {
	storage := NewStorage()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		err := storage.AppendSessionLog(ctx, common.SessionLog{
			SessionID: "s1", Level: "info",
			Message: string(rune('a' + i)),
			At:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendSessionLog() error = %v", err)
		}
	}

	logs, err := storage.GetSessionLogs(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("GetSessionLogs() error = %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("GetSessionLogs() returned %d entries, want 3", len(logs))
	}
	if logs[0].Message != "c" || logs[2].Message != "e" {
		t.Fatalf("GetSessionLogs() kept the wrong window: %+v", logs)
	}
}

func TestGraphSnapshots_LatestAndPagination(t *testing.T) {
	storage := NewStorage()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		graph := &common.Graph{
			ID:        string(rune('A' + i)),
			UserID:    "u1",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}
		if err := storage.InsertGraphSnapshot(ctx, graph); err != nil {
			t.Fatalf("InsertGraphSnapshot() error = %v", err)
		}
	}

	latest, err := storage.GetLatestGraph(ctx, "u1")
	if err != nil {
		t.Fatalf("GetLatestGraph() error = %v", err)
	}
	if latest.ID != "E" {
		t.Fatalf("GetLatestGraph() = %s, want E", latest.ID)
	}

	page, err := storage.ListGraphSnapshots(ctx, "u1", 2, 2)
	if err != nil {
		t.Fatalf("ListGraphSnapshots() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != "C" || page[1].ID != "B" {
		t.Fatalf("ListGraphSnapshots() page 2 = %+v", page)
	}

	if _, err := storage.GetLatestGraph(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetLatestGraph() for unknown user error = %v, want ErrNotFound", err)
	}
}

func TestProcessedPapers(t *testing.T) {
	storage := NewStorage()
	ctx := context.Background()

	if err := storage.MarkPaperProcessed(ctx, "u1", "P1", store.ProcessedOK); err != nil {
		t.Fatalf("MarkPaperProcessed() error = %v", err)
	}
	if err := storage.MarkPaperProcessed(ctx, "u1", "P2", store.ProcessedFailed); err != nil {
		t.Fatalf("MarkPaperProcessed() error = %v", err)
	}

	processed, err := storage.ListProcessedPapers(ctx, "u1")
	if err != nil {
		t.Fatalf("ListProcessedPapers() error = %v", err)
	}
	if processed["P1"] != store.ProcessedOK || processed["P2"] != store.ProcessedFailed {
		t.Fatalf("ListProcessedPapers() = %v", processed)
	}
}
