package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/logger"
	"github.com/evigraph/backend/pkg/store"
)

const (
	maxSessionLogs  = 50
	writerQueueSize = 64
)

// mutation is one pending change to the session document.
type mutation struct {
	kind  string
	apply func(s *common.Session)
	log   *common.SessionLog
}

// sessionWriter serializes all session mutations through one FIFO queue
// drained by a single goroutine, so progress and log callbacks never race
// on the session document. A write that hits a version conflict is retried
// once after reloading; a second failure is logged and the mutation dropped.
type sessionWriter struct {
	gateway store.Gateway
	session *common.Session

	ch   chan mutation
	wg   sync.WaitGroup
	once sync.Once
}

func newSessionWriter(gateway store.Gateway, session *common.Session) *sessionWriter {
	w := &sessionWriter{
		gateway: gateway,
		session: session,
		ch:      make(chan mutation, writerQueueSize),
	}

	w.wg.Add(1)
	go w.drain()

	return w
}

// Close flushes pending mutations and stops the drain goroutine.
func (w *sessionWriter) Close() {
	w.once.Do(func() {
		close(w.ch)
	})
	w.wg.Wait()
}

func (w *sessionWriter) enqueue(m mutation) {
	w.ch <- m
}

// SetProgress enqueues a progress/step update. Progress is monotonic while
// the session runs; lower values are ignored.
func (w *sessionWriter) SetProgress(progress int, step string) {
	w.enqueue(mutation{
		kind: "progress",
		apply: func(s *common.Session) {
			if progress > s.Progress {
				s.Progress = progress
			}
			if step != "" {
				s.CurrentStep = step
			}
		},
	})
}

// Log enqueues one session log line. The line goes to the append-only log
// table and into the session's capped in-memory tail.
func (w *sessionWriter) Log(level, message string) {
	entry := common.SessionLog{
		SessionID: w.session.ID,
		Level:     level,
		Message:   message,
		At:        time.Now(),
	}
	w.enqueue(mutation{
		kind: "log",
		log:  &entry,
		apply: func(s *common.Session) {
			s.Logs = append(s.Logs, entry)
			if len(s.Logs) > maxSessionLogs {
				s.Logs = s.Logs[len(s.Logs)-maxSessionLogs:]
			}
		},
	})
}

// Finish enqueues the terminal state transition with its results summary.
func (w *sessionWriter) Finish(status common.SessionStatus, step string, results *common.SessionResults) {
	w.enqueue(mutation{
		kind: "finish",
		apply: func(s *common.Session) {
			s.Status = status
			s.CurrentStep = step
			s.Results = results
			if status == common.SessionCompleted {
				s.Progress = 100
			}
		},
	})
}

func (w *sessionWriter) drain() {
	defer w.wg.Done()

	ctx := context.Background()
	for m := range w.ch {
		if m.log != nil {
			if err := w.gateway.AppendSessionLog(ctx, *m.log); err != nil {
				logger.Warn("[Pipeline] Failed to append session log", "session", w.session.ID, "error", err)
			}
		}

		m.apply(w.session)
		if err := w.gateway.UpsertSession(ctx, w.session); err == nil {
			continue
		} else if !errors.Is(err, store.ErrVersionConflict) {
			logger.Warn("[Pipeline] Dropping session mutation", "session", w.session.ID, "kind", m.kind, "error", err)
			continue
		}

		// Conflict: another writer (a stop request) moved the session on.
		// Reload, reapply once, then drop.
		fresh, err := w.gateway.GetSession(ctx, w.session.ID)
		if err != nil {
			logger.Warn("[Pipeline] Dropping session mutation after failed reload", "session", w.session.ID, "kind", m.kind, "error", err)
			continue
		}

		w.session.Version = fresh.Version
		if fresh.StopRequested {
			w.session.StopRequested = true
		}
		m.apply(w.session)
		if err := w.gateway.UpsertSession(ctx, w.session); err != nil {
			logger.Warn("[Pipeline] Dropping session mutation after conflict retry", "session", w.session.ID, "kind", m.kind, "error", err)
		}
	}
}
