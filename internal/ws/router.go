package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/directory"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
)

// persistTimeout bounds a single persist call, not the connection's lifetime:
// a send still in flight when its sender disconnects must complete and fan
// out regardless.
const persistTimeout = 15 * time.Second

// Router is the single path through which a message is accepted, stored and
// distributed. Sends within one conversation are serialized so the delivery
// order every participant observes equals the persisted order; different
// conversations proceed concurrently.
type Router struct {
	store    Store
	dir      *directory.Directory
	hub      *Hub
	maxBytes int
	log      *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-conversation serialization
}

func NewRouter(st Store, dir *directory.Directory, hub *Hub, maxBytes int, log *logging.Logger) *Router {
	return &Router{
		store:    st,
		dir:      dir,
		hub:      hub,
		maxBytes: maxBytes,
		log:      log.With("component", "router"),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *Router) convLock(conversationID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[conversationID] = l
	}
	return l
}

// HandleSend accepts a plain text message from a connection.
func (r *Router) HandleSend(c *Client, conversationID, content string, kind models.MessageKind) *Error {
	if !c.Authenticated() {
		return errf(CodeUnauthenticated, "authenticate first")
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	conv, err := r.dir.AssertParticipant(ctx, conversationID, c.UserID())
	if err != nil {
		return asWsError(err)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return errf(CodeInvalidPayload, "message content is empty")
	}
	if len(content) > r.maxBytes {
		return errf(CodeInvalidPayload, "message exceeds %d bytes", r.maxBytes)
	}

	user := c.User()
	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       user.UserID,
		SenderEmail:    user.Email,
		SenderName:     user.Name,
		Kind:           kind,
		Content:        content,
	}
	return r.Publish(ctx, conv, msg, r.store.AppendMessage)
}

// Publish serializes persist+fan-out per conversation. The persist callback
// stores the message (assigning the server id and timestamp); fan-out begins
// only after it returned without error, so either the message was durably
// stored and delivered to everyone or it was delivered to no one.
func (r *Router) Publish(ctx context.Context, conv *models.Conversation, msg *models.Message,
	persist func(context.Context, *models.Message) error) *Error {

	l := r.convLock(conv.ID)
	l.Lock()
	defer l.Unlock()

	if err := persist(ctx, msg); err != nil {
		r.log.Error("persist failed", "conversation_id", conv.ID, "error", err)
		return errf(CodePersistenceFailed, "message was not stored")
	}

	r.hub.SendToConversation(conv, newFrame(FrameNewMessage, newMessagePayload{Message: msg}))

	preview := msg.Content
	if msg.Kind.Structured() {
		preview = string(msg.Kind)
	}
	r.dir.UpdateLastMessage(conv.ID, preview, msg.CreatedAt)
	return nil
}
