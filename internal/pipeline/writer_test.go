package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/store/memory"
)

func seedRunningSession(t *testing.T, gateway *memory.Storage, id string) *common.Session {
	t.Helper()
	session := &common.Session{
		ID:     id,
		UserID: "u1",
		Query:  "metformin",
		Status: common.SessionRunning,
	}
	if err := gateway.UpsertSession(context.Background(), session); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	return session
}

func TestWriter_ProgressIsMonotonic(t *testing.T) {
	gateway := memory.NewStorage()
	session := seedRunningSession(t, gateway, "s1")

	writer := newSessionWriter(gateway, session)
	writer.SetProgress(50, "fetching papers")
	writer.SetProgress(30, "searching literature")
	writer.Close()

	persisted, err := gateway.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if persisted.Progress != 50 {
		t.Fatalf("progress = %d, want 50 (lower update ignored)", persisted.Progress)
	}
	if persisted.CurrentStep != "searching literature" {
		t.Fatalf("current step = %q, want step from the later update", persisted.CurrentStep)
	}
}

func TestWriter_RecoversFromVersionConflict(t *testing.T) {
	gateway := memory.NewStorage()
	ctx := context.Background()
	session := seedRunningSession(t, gateway, "s1")

	// A foreign writer moves the session on, requesting a stop. The
	// writer's cached version is now stale.
	foreign, err := gateway.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	foreign.StopRequested = true
	if err := gateway.UpsertSession(ctx, foreign); err != nil {
		t.Fatalf("foreign UpsertSession() error = %v", err)
	}

	writer := newSessionWriter(gateway, session)
	writer.SetProgress(40, "processing paper P1")
	writer.Close()

	persisted, err := gateway.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if persisted.Progress != 40 {
		t.Fatalf("progress = %d, want 40 (mutation reapplied after conflict)", persisted.Progress)
	}
	if !persisted.StopRequested {
		t.Fatal("StopRequested lost during conflict recovery")
	}
}

func TestWriter_CapsSessionLogTail(t *testing.T) {
	gateway := memory.NewStorage()
	session := seedRunningSession(t, gateway, "s1")

	writer := newSessionWriter(gateway, session)
	for i := 0; i < maxSessionLogs+10; i++ {
		writer.Log("info", fmt.Sprintf("line %d", i))
	}
	writer.Close()

	persisted, err := gateway.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(persisted.Logs) != maxSessionLogs {
		t.Fatalf("log tail = %d lines, want %d", len(persisted.Logs), maxSessionLogs)
	}
	last := persisted.Logs[len(persisted.Logs)-1]
	if last.Message != fmt.Sprintf("line %d", maxSessionLogs+9) {
		t.Fatalf("last tail line = %q, want the newest message", last.Message)
	}

	// The append-only table keeps every line up to the storage limit.
	logs, err := gateway.GetSessionLogs(context.Background(), "s1", maxSessionLogs)
	if err != nil {
		t.Fatalf("GetSessionLogs() error = %v", err)
	}
	if len(logs) != maxSessionLogs {
		t.Fatalf("stored logs = %d, want %d", len(logs), maxSessionLogs)
	}
}

func TestWriter_FinishSetsTerminalState(t *testing.T) {
	gateway := memory.NewStorage()
	session := seedRunningSession(t, gateway, "s1")

	writer := newSessionWriter(gateway, session)
	writer.SetProgress(90, "saving results")
	writer.Finish(common.SessionCompleted, "completed", &common.SessionResults{PapersProcessed: 4})
	writer.Close()

	persisted, err := gateway.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if persisted.Status != common.SessionCompleted {
		t.Fatalf("status = %q, want completed", persisted.Status)
	}
	if persisted.Progress != 100 {
		t.Fatalf("progress = %d, want 100 on completion", persisted.Progress)
	}
	if persisted.Results == nil || persisted.Results.PapersProcessed != 4 {
		t.Fatalf("results = %+v", persisted.Results)
	}
}
