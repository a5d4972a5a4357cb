// Package notificationtest provides a capturing notification.Dispatcher for tests.
package notificationtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Additional-Code/umkm/internal/notification"
)

// Recorder captures every notification it is asked to send.
type Recorder struct {
	mu   sync.Mutex
	sent []notification.Notification
	err  error
}

// Notify implements notification.Dispatcher.
func (r *Recorder) Notify(_ context.Context, n notification.Notification) (notification.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return notification.Handle{}, r.err
	}
	r.sent = append(r.sent, n)
	return notification.Handle{ID: fmt.Sprintf("rec-%d", len(r.sent)), Driver: "recorder"}, nil
}

// FailWith makes every subsequent Notify return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Sent returns a copy of the captured notifications.
func (r *Recorder) Sent() []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Notification(nil), r.sent...)
}

// For returns the captured notifications addressed to userID.
func (r *Recorder) For(userID string) []notification.Notification {
	var out []notification.Notification
	for _, n := range r.Sent() {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}
