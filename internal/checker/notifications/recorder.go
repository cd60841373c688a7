package notifications

import (
	"context"
	"sync"
)

// Recorder is an in-memory Notifier used by tests and local setups.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records the notification.
func (r *Recorder) Notify(ctx context.Context, userID int64, kind Kind, message string, relatedID int64, actionURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		RelatedID: relatedID,
		ActionURL: actionURL,
	})
	return nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// ForUser returns the recorded notifications addressed to one user.
func (r *Recorder) ForUser(userID int64) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.sent {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}
