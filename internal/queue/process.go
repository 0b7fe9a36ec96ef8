package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evigraph/backend/internal/pipeline"
	"github.com/evigraph/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// QueueSessionMsg is the payload of one session_queue message.
type QueueSessionMsg struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// PublishSession enqueues one session for a worker to pick up.
func PublishSession(ch *amqp091.Channel, sessionID, userID string) error {
	data := QueueSessionMsg{
		Message:   "Session queued",
		SessionID: sessionID,
		UserID:    userID,
	}

	msgBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session message: %w", err)
	}

	return PublishFIFO(ch, SessionQueueName, msgBytes)
}

// ProcessSessionMessage runs one queued session to a terminal state. The
// returned error is only non-nil for infrastructure failures, which send the
// message to the retry queue; session-level failures are already persisted
// in the session row and must not be retried.
func ProcessSessionMessage(
	ctx context.Context,
	runner *pipeline.Runner,
	msg string,
) error {
	data := new(QueueSessionMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return fmt.Errorf("failed to unmarshal session message: %w", err)
	}
	if data.SessionID == "" {
		logger.Warn("[Queue] Dropping session message without session id")
		return nil
	}

	logger.Info("[Queue] Processing session", "session", data.SessionID, "user", data.UserID)
	return runner.Run(ctx, data.SessionID)
}
