package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/store"
)

type stubStore struct {
	mu       sync.Mutex
	convs    map[string]*models.Conversation
	getCalls int
}

func newStubStore(convs ...*models.Conversation) *stubStore {
	s := &stubStore{convs: make(map[string]*models.Conversation)}
	for _, c := range convs {
		s.convs[c.ID] = c
	}
	return s
}

func (s *stubStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	c, ok := s.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *stubStore) CreateConversation(_ context.Context, clientID, freelancerID string, jobID, projectName *string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Conversation{
		ID:           "conv-created",
		ClientID:     clientID,
		FreelancerID: freelancerID,
		JobID:        jobID,
		ProjectName:  projectName,
		CreatedAt:    time.Now().UTC(),
	}
	s.convs[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *stubStore) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for _, c := range s.convs {
		if c.IsParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *stubStore) gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func testConv() *models.Conversation {
	return &models.Conversation{ID: "conv-1", ClientID: "alice", FreelancerID: "bob"}
}

func TestResolveCachesAfterFirstHit(t *testing.T) {
	st := newStubStore(testConv())
	d := New(st, logging.NewTextLogger())

	c, err := d.Resolve(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", c.ID)
	assert.Equal(t, 1, st.gets())

	_, err = d.Resolve(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.gets(), "second resolve should be served from cache")
}

func TestResolveUnknownConversation(t *testing.T) {
	d := New(newStubStore(), logging.NewTextLogger())
	_, err := d.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssertParticipant(t *testing.T) {
	d := New(newStubStore(testConv()), logging.NewTextLogger())

	c, err := d.AssertParticipant(context.Background(), "conv-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RoleClient, c.RoleOf("alice"))
	assert.Equal(t, models.RoleFreelancer, c.RoleOf("bob"))

	_, err = d.AssertParticipant(context.Background(), "conv-1", "carol")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreatePopulatesCache(t *testing.T) {
	st := newStubStore()
	d := New(st, logging.NewTextLogger())

	c, err := d.Create(context.Background(), "alice", "bob", nil, nil)
	require.NoError(t, err)

	got, err := d.Resolve(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, 0, st.gets(), "created conversation should resolve without a store read")
}

func TestUpdateLastMessageReplacesSnapshot(t *testing.T) {
	d := New(newStubStore(testConv()), logging.NewTextLogger())

	before, err := d.Resolve(context.Background(), "conv-1")
	require.NoError(t, err)

	at := time.Now().UTC()
	d.UpdateLastMessage("conv-1", "hello there", at)

	after, err := d.Resolve(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, after.LastMessage)
	assert.Equal(t, "hello there", *after.LastMessage)
	assert.Equal(t, at, *after.LastMessageAt)

	// The previously-handed-out snapshot is untouched.
	assert.Nil(t, before.LastMessage)
}

func TestInvalidateForcesStoreRead(t *testing.T) {
	st := newStubStore(testConv())
	d := New(st, logging.NewTextLogger())

	_, err := d.Resolve(context.Background(), "conv-1")
	require.NoError(t, err)
	d.Invalidate("conv-1")

	_, err = d.Resolve(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.gets())
}
