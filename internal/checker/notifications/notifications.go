// Package notifications delivers user-facing messages produced by the
// checking pipeline. Delivery goes through the message queue; the web tier
// owns rendering and read-state.
package notifications

import (
	"context"
	"encoding/json"
	"time"

	"checkhub/internal/common/mq"
	appErr "checkhub/pkg/errors"
)

// Kind classifies a notification for the web tier.
type Kind string

const (
	KindChecked       Kind = "solution_checked"
	KindAutoChecked   Kind = "auto_checked"
	KindUnittestError Kind = "unittest_error"
)

// Notification is the queue payload for one user message.
type Notification struct {
	UserID    int64     `json:"user_id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	RelatedID int64     `json:"related_id"`
	ActionURL string    `json:"action_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier sends one notification to one user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind Kind, message string, relatedID int64, actionURL string) error
}

// QueueNotifier publishes notifications to the message queue.
type QueueNotifier struct {
	producer mq.Producer
	topic    string
}

// NewQueueNotifier creates a queue-backed notifier. An empty topic uses the
// stock notifications topic.
func NewQueueNotifier(producer mq.Producer, topic string) *QueueNotifier {
	if topic == "" {
		topic = "notifications"
	}
	return &QueueNotifier{producer: producer, topic: topic}
}

// Notify publishes the notification. Failures are returned to the caller;
// the pipeline treats notification delivery as best effort and logs them.
func (n *QueueNotifier) Notify(ctx context.Context, userID int64, kind Kind, message string, relatedID int64, actionURL string) error {
	if userID <= 0 {
		return appErr.ValidationError("userID", "required")
	}
	body, err := json.Marshal(Notification{
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		RelatedID: relatedID,
		ActionURL: actionURL,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return appErr.Wrap(err, appErr.InternalServerError)
	}
	return n.producer.Publish(ctx, n.topic, mq.NewMessage(body))
}
