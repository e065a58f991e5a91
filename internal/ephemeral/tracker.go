// Package ephemeral tracks transient bot messages and retires them when the
// conversation moves on.
package ephemeral

import (
	"context"
	"log/slog"
	"sync"
)

// Deleter removes a previously sent message from a chat.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// FlushReport is the best-effort outcome of a Flush. Callers may ignore it.
type FlushReport struct {
	Attempted int
	Failed    int
}

// Tracker records pending transient messages per user.
type Tracker struct {
	deleter Deleter
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[int64][]int
}

// NewTracker creates a tracker that deletes through d.
func NewTracker(d Deleter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		deleter: d,
		logger:  logger,
		pending: make(map[int64][]int),
	}
}

// Track marks a message as transient for the user.
func (t *Tracker) Track(userID int64, messageID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[userID] = append(t.pending[userID], messageID)
}

// Flush deletes every message tracked for the user since the previous flush,
// in tracking order. The list is detached before any deletion runs, so
// messages tracked during the flush belong to the next one. Deletion errors
// are logged and counted, never returned.
func (t *Tracker) Flush(ctx context.Context, userID int64) FlushReport {
	t.mu.Lock()
	ids := t.pending[userID]
	delete(t.pending, userID)
	t.mu.Unlock()

	report := FlushReport{Attempted: len(ids)}
	for _, id := range ids {
		if err := t.deleter.DeleteMessage(ctx, userID, id); err != nil {
			report.Failed++
			t.logger.Debug("Transient message not deleted", "user_id", userID, "message_id", id, "error", err)
		}
	}
	return report
}

// Pending returns a copy of the messages currently tracked for the user.
func (t *Tracker) Pending(userID int64) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.pending[userID]...)
}
