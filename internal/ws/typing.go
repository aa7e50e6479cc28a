package ws

import (
	"context"
	"sync"
	"time"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/directory"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
)

type typingKey struct {
	conversationID string
	userID         string
}

type typingSignal struct {
	timer *time.Timer
	email string
}

// Typing broadcasts ephemeral composing indicators with automatic expiry.
// Nothing here is persisted; a restart silently drops all typing state.
type Typing struct {
	dir *directory.Directory
	hub *Hub
	ttl time.Duration
	log *logging.Logger

	mu     sync.Mutex
	active map[typingKey]*typingSignal
}

func NewTyping(dir *directory.Directory, hub *Hub, ttl time.Duration, log *logging.Logger) *Typing {
	return &Typing{
		dir:    dir,
		hub:    hub,
		ttl:    ttl,
		log:    log.With("component", "typing"),
		active: make(map[typingKey]*typingSignal),
	}
}

// Start begins or refreshes a typing signal. Idempotent while already active:
// a refresh resets the expiry without rebroadcasting.
func (t *Typing) Start(c *Client, conversationID string) *Error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user := c.User()
	conv, err := t.dir.AssertParticipant(ctx, conversationID, user.UserID)
	if err != nil {
		return asWsError(err)
	}

	key := typingKey{conversationID: conversationID, userID: user.UserID}
	t.mu.Lock()
	if sig, ok := t.active[key]; ok {
		sig.timer.Reset(t.ttl)
		t.mu.Unlock()
		return nil
	}
	t.active[key] = &typingSignal{
		email: user.Email,
		timer: time.AfterFunc(t.ttl, func() { t.expire(key) }),
	}
	t.mu.Unlock()

	t.hub.SendToOthers(conv, user.UserID, newFrame(FrameUserTyping, typingEventPayload{
		UserEmail:      user.Email,
		UserName:       user.Name,
		ConversationID: conversationID,
	}))
	return nil
}

// Stop ends a typing signal explicitly.
func (t *Typing) Stop(c *Client, conversationID string) *Error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user := c.User()
	conv, err := t.dir.AssertParticipant(ctx, conversationID, user.UserID)
	if err != nil {
		return asWsError(err)
	}

	key := typingKey{conversationID: conversationID, userID: user.UserID}
	t.mu.Lock()
	sig, ok := t.active[key]
	if ok {
		sig.timer.Stop()
		delete(t.active, key)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}

	t.hub.SendToOthers(conv, user.UserID, newFrame(FrameUserStopTyping, typingEventPayload{
		UserEmail:      user.Email,
		ConversationID: conversationID,
	}))
	return nil
}

// expire fires when no refresh arrived within the TTL, covering clients that
// disconnect without an explicit stop.
func (t *Typing) expire(key typingKey) {
	t.mu.Lock()
	sig, ok := t.active[key]
	if ok {
		delete(t.active, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conv, err := t.dir.Resolve(ctx, key.conversationID)
	if err != nil {
		return
	}
	t.hub.SendToOthers(conv, key.userID, newFrame(FrameUserStopTyping, typingEventPayload{
		UserEmail:      sig.email,
		ConversationID: key.conversationID,
	}))
}

func (t *Typing) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, sig := range t.active {
		sig.timer.Stop()
		delete(t.active, key)
	}
}
