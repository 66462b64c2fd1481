package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// OutboxSender delivers notifications through the transactional outbox: the
// row commits or aborts together with the unit of work that produced it, so a
// request state change and its notification are never observed apart.
type OutboxSender struct{}

func NewOutboxSender() *OutboxSender {
	return &OutboxSender{}
}

// Send resolves the destination topic and enqueues one outbox row inside the
// caller's transaction.
func (s *OutboxSender) Send(ctx context.Context, tx pgx.Tx, n Notification) error {
	if n.RequestID == "" {
		return fmt.Errorf("notification: missing request id")
	}
	topic, err := ResolveTopic(n)
	if err != nil {
		return err
	}

	payload := n.Payload
	if payload == nil {
		payload = make(map[string]any, 4)
	}
	payload["request_id"] = n.RequestID
	payload["event"] = string(n.Event)
	payload["recipient"] = string(n.Recipient)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notification: marshal payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("notification: enqueue outbox: %w", err)
	}
	return nil
}
