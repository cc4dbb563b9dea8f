// Package pending tracks the at-most-one outstanding request per
// (project, instance) the router and hook server coordinate through: which
// chat message started it, which reaction to flip when it resolves, and a
// short-lived memory of the last resolution so a late hook or thread reply
// can still find it.
//
// Grounded on sderosiaux-claudeslack's reaction-add/replace calls in its
// permission/question hook handlers (slack.go's addReaction/removeReaction)
// for the reaction-transition shape, and on kdlbs-kandev's
// internal/orchestrator/scheduler.go retryCount-map-plus-mutex bookkeeping
// pattern for the per-key table shape, generalized from a retry counter to
// a value with its own expiry timer.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/discode/bridge/internal/messaging"
)

const (
	emojiPending   = "⏳"
	emojiCompleted = "✅"
	emojiError     = "❌"

	recentlyCompletedTTL = 30 * time.Second
)

// Key identifies one tracked request. InstanceID is preferred; callers that
// don't yet know it may key on AgentType instead (§3 fallback key).
type Key struct {
	ProjectName string
	InstanceKey string // InstanceID, or AgentType when InstanceID is unknown
}

// Entry is the state of one tracked request.
type Entry struct {
	ChannelID      string
	UserMessageID  string
	StartMessageID string
	CreatedAt      time.Time
}

type entryWithTimer struct {
	Entry
	timer *time.Timer
}

// Tracker implements C4.
type Tracker struct {
	msg messaging.Capability

	mu                sync.Mutex
	active            map[Key]Entry
	recentlyCompleted map[Key]*entryWithTimer
}

// New creates a tracker that reacts on messages through msg.
func New(msg messaging.Capability) *Tracker {
	return &Tracker{
		msg:               msg,
		active:            make(map[Key]Entry),
		recentlyCompleted: make(map[Key]*entryWithTimer),
	}
}

// clearRecentlyLocked discards a recently-completed entry and stops its timer.
// Caller must hold t.mu.
func (t *Tracker) clearRecentlyLocked(key Key) {
	if e, ok := t.recentlyCompleted[key]; ok {
		e.timer.Stop()
		delete(t.recentlyCompleted, key)
	}
}

// MarkPending records a new outstanding request and adds the ⏳ reaction to
// the triggering user message. A second call for the same key overwrites
// the first (§8 property 3) and invalidates any recentlyCompleted entry.
func (t *Tracker) MarkPending(ctx context.Context, key Key, channelID, userMessageID, startMessageID string) {
	t.mu.Lock()
	t.clearRecentlyLocked(key)
	t.active[key] = Entry{
		ChannelID:      channelID,
		UserMessageID:  userMessageID,
		StartMessageID: startMessageID,
		CreatedAt:      time.Now(),
	}
	t.mu.Unlock()

	if userMessageID != "" && t.msg != nil {
		_ = t.msg.AddReaction(ctx, channelID, userMessageID, emojiPending)
	}
}

// EnsurePending is MarkPending without a triggering user message (used by
// hooks that fire without an inbound trigger); idempotent, and never
// touches a reaction since there is no message to react to.
func (t *Tracker) EnsurePending(ctx context.Context, key Key, channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[key]; ok {
		return
	}
	t.clearRecentlyLocked(key)
	t.active[key] = Entry{ChannelID: channelID, CreatedAt: time.Now()}
}

// MarkCompleted transitions an active entry to completed: replaces ⏳ with
// ✅ (only when a user message id exists), then moves it into the
// recently-completed cache for 30s.
func (t *Tracker) MarkCompleted(ctx context.Context, key Key) {
	t.mu.Lock()
	e, ok := t.active[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.clearRecentlyLocked(key)
	timer := time.AfterFunc(recentlyCompletedTTL, func() {
		t.mu.Lock()
		delete(t.recentlyCompleted, key)
		t.mu.Unlock()
	})
	t.recentlyCompleted[key] = &entryWithTimer{Entry: e, timer: timer}
	t.mu.Unlock()

	if e.UserMessageID != "" && t.msg != nil {
		_ = t.msg.RemoveReaction(ctx, e.ChannelID, e.UserMessageID, emojiPending)
		_ = t.msg.AddReaction(ctx, e.ChannelID, e.UserMessageID, emojiCompleted)
	}
}

// MarkError transitions an active entry to error: replaces ⏳ with ❌ (only
// when a user message id exists) and discards the entry (it is not cached).
func (t *Tracker) MarkError(ctx context.Context, key Key) {
	t.mu.Lock()
	e, ok := t.active[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()

	if e.UserMessageID != "" && t.msg != nil {
		_ = t.msg.RemoveReaction(ctx, e.ChannelID, e.UserMessageID, emojiPending)
		_ = t.msg.AddReaction(ctx, e.ChannelID, e.UserMessageID, emojiError)
	}
}

// GetPending returns the active entry for key, or the still-fresh
// recently-completed one so a late thread reply can still resolve.
func (t *Tracker) GetPending(key Key) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.active[key]; ok {
		return e, true
	}
	if e, ok := t.recentlyCompleted[key]; ok {
		return e.Entry, true
	}
	return Entry{}, false
}

// HasPending reports whether key has an active (not recently-completed) entry.
func (t *Tracker) HasPending(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[key]
	return ok
}
