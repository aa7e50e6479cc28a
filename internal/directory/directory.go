package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/store"
)

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrForbidden = errors.New("not a participant of this conversation")
)

// ConversationStore is the slice of the persistence collaborator the
// directory consults on cache misses.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, clientID, freelancerID string, jobID, projectName *string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

// Directory resolves conversation membership and metadata with a read-through
// cache held for the lifetime of the process. Entries are stored as immutable
// snapshots and replaced wholesale on writes, so a concurrent read never sees
// a half-updated conversation.
type Directory struct {
	store ConversationStore
	log   *logging.Logger

	mu    sync.RWMutex
	cache map[string]*models.Conversation
}

func New(st ConversationStore, log *logging.Logger) *Directory {
	return &Directory{
		store: st,
		log:   log.With("component", "directory"),
		cache: make(map[string]*models.Conversation),
	}
}

func (d *Directory) Resolve(ctx context.Context, id string) (*models.Conversation, error) {
	d.mu.RLock()
	c, ok := d.cache[id]
	d.mu.RUnlock()
	if ok {
		return c, nil
	}

	c, err := d.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	d.mu.Lock()
	d.cache[id] = c
	d.mu.Unlock()
	return c, nil
}

// AssertParticipant gates every inbound frame that references a conversation.
func (d *Directory) AssertParticipant(ctx context.Context, id, userID string) (*models.Conversation, error) {
	c, err := d.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(userID) {
		return nil, ErrForbidden
	}
	return c, nil
}

// Create delegates to the store, which returns the existing row when the
// participant pair already shares a conversation for the job.
func (d *Directory) Create(ctx context.Context, clientID, freelancerID string, jobID, projectName *string) (*models.Conversation, error) {
	c, err := d.store.CreateConversation(ctx, clientID, freelancerID, jobID, projectName)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.cache[c.ID] = c
	d.mu.Unlock()
	d.log.Info("conversation ready", "conversation_id", c.ID, "client_id", clientID, "freelancer_id", freelancerID)
	return c, nil
}

func (d *Directory) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	return d.store.ListConversations(ctx, userID)
}

// UpdateLastMessage refreshes the cached list-view ordering fields after the
// router persisted a message.
func (d *Directory) UpdateLastMessage(id, preview string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	old, ok := d.cache[id]
	if !ok {
		return
	}
	updated := *old
	updated.LastMessage = &preview
	updated.LastMessageAt = &at
	d.cache[id] = &updated
}

// Invalidate drops a cached entry. Offer and payment services write message
// rows through their own path, so their notifications land here.
func (d *Directory) Invalidate(id string) {
	d.mu.Lock()
	delete(d.cache, id)
	d.mu.Unlock()
}
