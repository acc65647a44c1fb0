package placement

import (
	"context"
	"sync"
	"time"
)

// CooldownTracker answers whether a (user, board) pair may place now. It
// maintains an incremental index of each user's latest placement
// timestamp per board, falling back to the event log on first touch, so
// eligibility checks never scan the log. Privileged callers bypass the
// tracker entirely; the caller decides privilege.
type CooldownTracker struct {
	log  *EventLog
	mu   sync.RWMutex
	last map[cooldownKey]int64
}

type cooldownKey struct {
	boardID string
	userID  string
}

// NewCooldownTracker constructs a tracker backed by the event log.
func NewCooldownTracker(log *EventLog) *CooldownTracker {
	return &CooldownTracker{
		log:  log,
		last: make(map[cooldownKey]int64),
	}
}

// Remaining returns the wait in whole seconds before the user may place
// on the board again, rounded up, or 0 when eligible now. Anonymous
// users (empty userID) are always eligible.
func (t *CooldownTracker) Remaining(ctx context.Context, boardID, userID string, cooldown time.Duration, now time.Time) (int64, error) {
	if userID == "" || cooldown <= 0 {
		return 0, nil
	}

	lastMS, known, err := t.lastPlacementMS(ctx, boardID, userID)
	if err != nil {
		return 0, err
	}
	if !known {
		return 0, nil
	}

	elapsedMS := now.UnixMilli() - lastMS
	remainingMS := cooldown.Milliseconds() - elapsedMS
	if remainingMS <= 0 {
		return 0, nil
	}
	return (remainingMS + 999) / 1000, nil
}

// Eligible reports whether the user may place on the board now.
func (t *CooldownTracker) Eligible(ctx context.Context, boardID, userID string, cooldown time.Duration, now time.Time) (bool, error) {
	remaining, err := t.Remaining(ctx, boardID, userID, cooldown, now)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// Record updates the index after a committed placement. Called on the
// serialized commit path for the board.
func (t *CooldownTracker) Record(boardID, userID string, timestampMS int64) {
	if userID == "" {
		return
	}
	key := cooldownKey{boardID: boardID, userID: userID}
	t.mu.Lock()
	if timestampMS > t.last[key] {
		t.last[key] = timestampMS
	}
	t.mu.Unlock()
}

func (t *CooldownTracker) lastPlacementMS(ctx context.Context, boardID, userID string) (int64, bool, error) {
	key := cooldownKey{boardID: boardID, userID: userID}

	t.mu.RLock()
	cached, ok := t.last[key]
	t.mu.RUnlock()
	if ok {
		return cached, true, nil
	}

	lastMS, found, err := t.log.LastUserPlacementMS(ctx, boardID, userID)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}

	t.mu.Lock()
	if lastMS > t.last[key] {
		t.last[key] = lastMS
	}
	t.mu.Unlock()
	return lastMS, true, nil
}
