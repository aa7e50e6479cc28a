package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/auth"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/config"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/directory"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/presence"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/store"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/ws"
)

// fakeBackend implements the persistence collaborator in memory.
type fakeBackend struct {
	mu          sync.Mutex
	convs       map[string]*models.Conversation
	msgs        map[string]*models.Message
	order       map[string][]string
	interview   map[string]models.InterviewStatus
	jobStatus   map[string]models.JobInvitationStatus
	jobProposal map[string]string
	failAppend  bool
	appendGate  chan struct{} // when set, AppendMessage blocks until closed
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		convs:       make(map[string]*models.Conversation),
		msgs:        make(map[string]*models.Message),
		order:       make(map[string][]string),
		interview:   make(map[string]models.InterviewStatus),
		jobStatus:   make(map[string]models.JobInvitationStatus),
		jobProposal: make(map[string]string),
	}
}

func (b *fakeBackend) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (b *fakeBackend) CreateConversation(_ context.Context, clientID, freelancerID string, jobID, projectName *string) (*models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.convs {
		if c.ClientID == clientID && c.FreelancerID == freelancerID {
			cp := *c
			return &cp, nil
		}
	}
	c := &models.Conversation{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		FreelancerID: freelancerID,
		JobID:        jobID,
		ProjectName:  projectName,
		CreatedAt:    time.Now().UTC(),
	}
	b.convs[c.ID] = c
	cp := *c
	return &cp, nil
}

func (b *fakeBackend) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Conversation
	for _, c := range b.convs {
		if c.IsParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (b *fakeBackend) append(msg *models.Message) error {
	if b.failAppend {
		return errors.New("store down")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now().UTC()
	cp := *msg
	b.msgs[msg.ID] = &cp
	b.order[msg.ConversationID] = append(b.order[msg.ConversationID], msg.ID)
	return nil
}

func (b *fakeBackend) AppendMessage(_ context.Context, msg *models.Message) error {
	b.mu.Lock()
	gate := b.appendGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.append(msg)
}

func (b *fakeBackend) AppendInterviewMessage(_ context.Context, msg *models.Message, originID string, status models.InterviewStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.append(msg); err != nil {
		return err
	}
	b.interview[originID] = status
	return nil
}

func (b *fakeBackend) AppendJobInvitationMessage(_ context.Context, msg *models.Message, originID string, status models.JobInvitationStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.append(msg); err != nil {
		return err
	}
	b.jobStatus[originID] = status
	return nil
}

func (b *fakeBackend) GetMessage(_ context.Context, id string) (*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.msgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (b *fakeBackend) ListMessages(_ context.Context, conversationID string, _ int) ([]models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Message
	for _, id := range b.order[conversationID] {
		out = append(out, *b.msgs[id])
	}
	return out, nil
}

func (b *fakeBackend) InterviewStatus(_ context.Context, originID string) (models.InterviewStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.interview[originID]
	if !ok {
		return "", store.ErrNotFound
	}
	return s, nil
}

func (b *fakeBackend) JobInvitationStatus(_ context.Context, originID string) (models.JobInvitationStatus, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.jobStatus[originID]
	if !ok {
		return "", "", store.ErrNotFound
	}
	return s, b.jobProposal[originID], nil
}

func (b *fakeBackend) SetJobInvitationProposal(_ context.Context, originID, proposalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobProposal[originID] = proposalID
	return nil
}

func (b *fakeBackend) setFailAppend(fail bool) {
	b.mu.Lock()
	b.failAppend = fail
	b.mu.Unlock()
}

func (b *fakeBackend) setAppendGate(gate chan struct{}) {
	b.mu.Lock()
	b.appendGate = gate
	b.mu.Unlock()
}

type fakeVerifier struct{ users map[string]*auth.Claims }

func (f *fakeVerifier) Verify(token string) (*auth.Claims, error) {
	if c, ok := f.users[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

type fakeProposals struct {
	mu      sync.Mutex
	fail    bool
	created []string
}

func (f *fakeProposals) CreateProposalFromInvitation(_ context.Context, invitationMessageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("proposal service down")
	}
	id := "proposal-" + invitationMessageID
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeProposals) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeProposals) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type harness struct {
	t         *testing.T
	backend   *fakeBackend
	proposals *fakeProposals
	ts        *httptest.Server
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	cfg := &config.Config{
		AllowedOrigins:  "*",
		AuthGracePeriod: 2 * time.Second,
		PongWait:        10 * time.Second,
		TypingTTL:       250 * time.Millisecond,
		OfflineDebounce: 100 * time.Millisecond,
		MaxMessageBytes: 4096,
		FramesPerSecond: 200,
		MalformedLimit:  3,
	}
	if mutate != nil {
		mutate(cfg)
	}

	log := logging.NewTextLogger()
	backend := newFakeBackend()
	dir := directory.New(backend, log)
	registry := presence.NewRegistry(cfg.OfflineDebounce, nil, log)
	hub := ws.NewHub(log)
	verifier := &fakeVerifier{users: map[string]*auth.Claims{
		"tok-alice": {UserID: "alice", Email: "alice@example.com", Name: "Alice", Role: models.RoleClient},
		"tok-bob":   {UserID: "bob", Email: "bob@example.com", Name: "Bob", Role: models.RoleFreelancer},
		"tok-carol": {UserID: "carol", Email: "carol@example.com", Name: "Carol", Role: models.RoleFreelancer},
	}}
	proposals := &fakeProposals{}
	srv := ws.NewServer(cfg, log, hub, registry, dir, backend, verifier, proposals)

	ts := httptest.NewServer(http.HandlerFunc(srv.Handle))
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
	})
	return &harness{t: t, backend: backend, proposals: proposals, ts: ts}
}

func (h *harness) seedConversation(id string) *models.Conversation {
	c := &models.Conversation{
		ID:           id,
		ClientID:     "alice",
		FreelancerID: "bob",
		CreatedAt:    time.Now().UTC(),
	}
	h.backend.mu.Lock()
	h.backend.convs[id] = c
	h.backend.mu.Unlock()
	return c
}

type wsConn struct {
	t *testing.T
	c *websocket.Conn
}

// dial opens a connection; a non-empty token authenticates via the query
// parameter and waits for the success frame.
func (h *harness) dial(token string) *wsConn {
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { c.Close() })
	w := &wsConn{t: h.t, c: c}
	w.expect(ws.FrameConnectionEstablished)
	if token != "" {
		w.expect(ws.FrameAuthenticationSuccess)
	}
	return w
}

func (w *wsConn) send(frameType string, payload any) {
	require.NoError(w.t, w.c.WriteJSON(map[string]any{"type": frameType, "payload": payload}))
}

func (w *wsConn) sendRaw(data string) {
	require.NoError(w.t, w.c.WriteMessage(websocket.TextMessage, []byte(data)))
}

// expect reads frames until one of the wanted type arrives, failing on
// unexpected error frames and on timeout.
func (w *wsConn) expect(frameType string) json.RawMessage {
	w.c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f ws.Frame
		err := w.c.ReadJSON(&f)
		require.NoError(w.t, err, "waiting for %s", frameType)
		if f.Type == frameType {
			return f.Payload
		}
		if f.Type == ws.FrameError && frameType != ws.FrameError {
			w.t.Fatalf("unexpected error frame while waiting for %s: %s", frameType, f.Payload)
		}
	}
}

func (w *wsConn) expectError(code ws.Code) {
	payload := w.expect(ws.FrameError)
	var e ws.Error
	require.NoError(w.t, json.Unmarshal(payload, &e))
	require.Equal(w.t, code, e.Code)
}

// expectNone asserts that no frame of the given type arrives within wait.
func (w *wsConn) expectNone(frameType string, wait time.Duration) {
	w.c.SetReadDeadline(time.Now().Add(wait))
	for {
		var f ws.Frame
		if err := w.c.ReadJSON(&f); err != nil {
			return
		}
		require.NotEqual(w.t, frameType, f.Type)
	}
}

func (w *wsConn) expectClosed() {
	w.c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f ws.Frame
		if err := w.c.ReadJSON(&f); err != nil {
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				w.t.Fatal("connection still open")
			}
			return
		}
	}
}

type newMessagePayload struct {
	Message models.Message `json:"message"`
}

func (w *wsConn) expectNewMessage() models.Message {
	var p newMessagePayload
	require.NoError(w.t, json.Unmarshal(w.expect(ws.FrameNewMessage), &p))
	return p.Message
}

func TestAuthenticateFrame(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial("")
	c.send(ws.FrameAuthenticate, map[string]string{"token": "tok-alice"})
	payload := c.expect(ws.FrameAuthenticationSuccess)
	require.Contains(t, string(payload), "alice@example.com")
	c.expect(ws.FrameOnlineUsersList)
}

func TestAuthenticateBadTokenClosesConnection(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial("")
	c.send(ws.FrameAuthenticate, map[string]string{"token": "nope"})
	c.expectError(ws.CodeUnauthenticated)
	c.expectClosed()
}

func TestAuthGracePeriodExpires(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.AuthGracePeriod = 150 * time.Millisecond })
	c := h.dial("")
	c.expectError(ws.CodeUnauthenticated)
	c.expectClosed()
}

func TestFramesRequireAuthentication(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	c := h.dial("")
	c.send(ws.FrameSendMessage, map[string]any{"conversationId": "conv-1", "content": "hi", "type": "text"})
	c.expectError(ws.CodeUnauthenticated)
}

func TestSendMessageEchoAndFanout(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	aliceTab1 := h.dial("tok-alice")
	aliceTab2 := h.dial("tok-alice")
	bob := h.dial("tok-bob")

	aliceTab1.send(ws.FrameSendMessage, map[string]any{"conversationId": "conv-1", "content": "Hello", "type": "text"})

	for _, c := range []*wsConn{aliceTab1, aliceTab2, bob} {
		msg := c.expectNewMessage()
		require.Equal(t, "conv-1", msg.ConversationID)
		require.Equal(t, "Hello", msg.Content)
		require.Equal(t, "alice@example.com", msg.SenderEmail)
		require.Equal(t, models.KindText, msg.Kind)
		require.NotEmpty(t, msg.ID)
		require.False(t, msg.CreatedAt.IsZero())
	}
}

func TestPerConversationOrdering(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	alice := h.dial("tok-alice")
	bob := h.dial("tok-bob")

	const n = 8
	for i := 0; i < n; i++ {
		alice.send(ws.FrameSendMessage, map[string]any{
			"conversationId": "conv-1",
			"content":        fmt.Sprintf("msg-%d", i),
			"type":           "text",
		})
	}
	for i := 0; i < n; i++ {
		msg := bob.expectNewMessage()
		require.Equal(t, fmt.Sprintf("msg-%d", i), msg.Content)
	}
}

func TestNonParticipantForbidden(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	alice := h.dial("tok-alice")
	bob := h.dial("tok-bob")
	carol := h.dial("tok-carol")

	carol.send(ws.FrameSendMessage, map[string]any{"conversationId": "conv-1", "content": "hi", "type": "text"})
	carol.expectError(ws.CodeForbidden)

	alice.expectNone(ws.FrameNewMessage, 250*time.Millisecond)
	bob.expectNone(ws.FrameNewMessage, 250*time.Millisecond)
}

func TestSendToUnknownConversation(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.dial("tok-alice")
	alice.send(ws.FrameSendMessage, map[string]any{"conversationId": "missing", "content": "hi", "type": "text"})
	alice.expectError(ws.CodeNotFound)
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	alice := h.dial("tok-alice")

	alice.send(ws.FrameSendMessage, map[string]any{"conversationId": "conv-1", "content": "   ", "type": "text"})
	alice.expectError(ws.CodeInvalidPayload)

	alice.send(ws.FrameSendMessage, map[string]any{
		"conversationId": "conv-1",
		"content":        strings.Repeat("x", 5000),
		"type":           "text",
	})
	alice.expectError(ws.CodeInvalidPayload)
}

func TestPersistenceFailureReachesSenderOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	alice := h.dial("tok-alice")
	bob := h.dial("tok-bob")

	h.backend.setFailAppend(true)
	alice.send(ws.FrameSendMessage, map[string]any{"conversationId": "conv-1", "content": "hi", "type": "text"})
	alice.expectError(ws.CodePersistenceFailed)
	bob.expectNone(ws.FrameNewMessage, 250*time.Millisecond)
}

func TestJoinConversationLoadsHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	require.NoError(t, h.backend.AppendMessage(context.Background(), &models.Message{
		ConversationID: "conv-1", SenderID: "alice", SenderEmail: "alice@example.com",
		Kind: models.KindText, Content: "earlier",
	}))

	bob := h.dial("tok-bob")
	bob.send(ws.FrameJoinConversation, map[string]string{"conversationId": "conv-1"})
	payload := bob.expect(ws.FrameMessagesLoaded)

	var p struct {
		ConversationID string           `json:"conversationId"`
		Messages       []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(payload, &p))
	require.Equal(t, "conv-1", p.ConversationID)
	require.Len(t, p.Messages, 1)
	require.Equal(t, "earlier", p.Messages[0].Content)
}

type conversationPresenceEvent struct {
	UserEmail      string `json:"userEmail"`
	ConversationID string `json:"conversationId"`
}

func TestJoinNotifiesOtherParticipant(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	alice := h.dial("tok-alice")
	bob := h.dial("tok-bob")

	bob.send(ws.FrameJoinConversation, map[string]string{"conversationId": "conv-1"})
	bob.expect(ws.FrameMessagesLoaded)

	var ev conversationPresenceEvent
	require.NoError(t, json.Unmarshal(alice.expect(ws.FrameUserJoined), &ev))
	require.Equal(t, "bob@example.com", ev.UserEmail)
	require.Equal(t, "conv-1", ev.ConversationID)

	// Rejoining the same conversation reloads history without another event.
	bob.send(ws.FrameJoinConversation, map[string]string{"conversationId": "conv-1"})
	bob.expect(ws.FrameMessagesLoaded)
	alice.expectNone(ws.FrameUserJoined, 250*time.Millisecond)
}

func TestSwitchingConversationEmitsLeave(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	h.seedConversation("conv-2")
	alice := h.dial("tok-alice")
	bob := h.dial("tok-bob")

	bob.send(ws.FrameJoinConversation, map[string]string{"conversationId": "conv-1"})
	alice.expect(ws.FrameUserJoined)

	bob.send(ws.FrameJoinConversation, map[string]string{"conversationId": "conv-2"})

	var left conversationPresenceEvent
	require.NoError(t, json.Unmarshal(alice.expect(ws.FrameUserLeft), &left))
	require.Equal(t, "conv-1", left.ConversationID)
	require.Equal(t, "bob@example.com", left.UserEmail)

	var joined conversationPresenceEvent
	require.NoError(t, json.Unmarshal(alice.expect(ws.FrameUserJoined), &joined))
	require.Equal(t, "conv-2", joined.ConversationID)
}

func TestDisconnectEmitsLeave(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	alice := h.dial("tok-alice")
	bob := h.dial("tok-bob")

	bob.send(ws.FrameJoinConversation, map[string]string{"conversationId": "conv-1"})
	alice.expect(ws.FrameUserJoined)

	bob.c.Close()

	var left conversationPresenceEvent
	require.NoError(t, json.Unmarshal(alice.expect(ws.FrameUserLeft), &left))
	require.Equal(t, "conv-1", left.ConversationID)
	require.Equal(t, "bob@example.com", left.UserEmail)
}

func TestJoinConversationForbidden(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	carol := h.dial("tok-carol")
	carol.send(ws.FrameJoinConversation, map[string]string{"conversationId": "conv-1"})
	carol.expectError(ws.CodeForbidden)
}

func TestSendCompletesAfterSenderDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.seedConversation("conv-1")
	sender := h.dial("tok-alice")
	senderTab := h.dial("tok-alice")
	bob := h.dial("tok-bob")

	gate := make(chan struct{})
	h.backend.setAppendGate(gate)

	sender.send(ws.FrameSendMessage, map[string]any{"conversationId": "conv-1", "content": "parting words", "type": "text"})
	time.Sleep(100 * time.Millisecond) // let the frame reach the blocked store call

	sender.c.Close()
	time.Sleep(100 * time.Millisecond)
	h.backend.setAppendGate(nil)
	close(gate)

	// The message still fans out to the other participant and to the
	// sender's surviving connections.
	require.Equal(t, "parting words", bob.expectNewMessage().Content)
	require.Equal(t, "parting words", senderTab.expectNewMessage().Content)
}

func TestPresenceOnlineOffline(t *testing.T) {
	h := newHarness(t, nil)
	bob := h.dial("tok-bob")

	alice := h.dial("tok-alice")
	payload := bob.expect(ws.FrameUserOnline)
	require.Contains(t, string(payload), "alice@example.com")

	alice.c.Close()
	payload = bob.expect(ws.FrameUserOffline)
	require.Contains(t, string(payload), "alice@example.com")
}

func TestOfflineOnlyAfterLastConnection(t *testing.T) {
	h := newHarness(t, nil)
	bob := h.dial("tok-bob")
	aliceTab1 := h.dial("tok-alice")
	bob.expect(ws.FrameUserOnline)
	aliceTab2 := h.dial("tok-alice")

	aliceTab1.c.Close()
	bob.expectNone(ws.FrameUserOffline, 300*time.Millisecond)

	aliceTab2.c.Close()
	payload := bob.expect(ws.FrameUserOffline)
	require.Contains(t, string(payload), "alice@example.com")
}

func TestRapidReconnectSuppressesOffline(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.OfflineDebounce = 400 * time.Millisecond })
	bob := h.dial("tok-bob")
	alice := h.dial("tok-alice")
	bob.expect(ws.FrameUserOnline)

	alice.c.Close()
	h.dial("tok-alice") // reconnect within the debounce window
	bob.expectNone(ws.FrameUserOffline, 700*time.Millisecond)
}

func TestMalformedFrameBudget(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.dial("tok-alice")
	for i := 0; i < 4; i++ {
		alice.sendRaw("this is not json")
		alice.expectError(ws.CodeInvalidPayload)
	}
	alice.expectClosed()
}

func TestUnknownFrameTypeIsMalformed(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.dial("tok-alice")
	alice.send("no_such_frame", map[string]string{})
	alice.expectError(ws.CodeInvalidPayload)
}

func TestInboundRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.FramesPerSecond = 1 })
	h.seedConversation("conv-1")
	alice := h.dial("tok-alice")
	for i := 0; i < 5; i++ {
		alice.send(ws.FrameTyping, map[string]string{"conversationId": "conv-1"})
	}
	alice.expectError(ws.CodeRateLimited)
}
