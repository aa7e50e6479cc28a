package ws

import (
	"context"
	"errors"
	"time"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/auth"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/config"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/directory"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/presence"
)

// Store is the slice of the persistence collaborator the real-time core
// writes through.
type Store interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	AppendInterviewMessage(ctx context.Context, msg *models.Message, originID string, status models.InterviewStatus) error
	AppendJobInvitationMessage(ctx context.Context, msg *models.Message, originID string, status models.JobInvitationStatus) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	InterviewStatus(ctx context.Context, originID string) (models.InterviewStatus, error)
	JobInvitationStatus(ctx context.Context, originID string) (models.JobInvitationStatus, string, error)
	SetJobInvitationProposal(ctx context.Context, originID, proposalID string) error
}

// ProposalClient is the external collaborator that turns an accepted job
// invitation into a proposal record.
type ProposalClient interface {
	CreateProposalFromInvitation(ctx context.Context, invitationMessageID string) (string, error)
}

// Server owns connection lifecycle and frame dispatch for every live
// connection in the process.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	hub      *Hub
	registry *presence.Registry
	dir      *directory.Directory
	store    Store
	verifier auth.TokenVerifier

	router *Router
	typing *Typing
	events *Events
}

func NewServer(cfg *config.Config, log *logging.Logger, hub *Hub, registry *presence.Registry,
	dir *directory.Directory, st Store, verifier auth.TokenVerifier, proposals ProposalClient) *Server {

	s := &Server{
		cfg:      cfg,
		log:      log.With("component", "ws"),
		hub:      hub,
		registry: registry,
		dir:      dir,
		store:    st,
		verifier: verifier,
	}
	s.router = NewRouter(st, dir, hub, cfg.MaxMessageBytes, s.log)
	s.typing = NewTyping(dir, hub, cfg.TypingTTL, s.log)
	s.events = NewEvents(s.router, st, proposals, hub, s.log)

	registry.OnOffline(func(userID, email string) {
		hub.Broadcast(newFrame(FrameUserOffline, presenceEventPayload{UserEmail: email}))
	})
	return s
}

// Shutdown stops background expiry state. Live connections are torn down by
// the HTTP server closing their underlying sockets.
func (s *Server) Shutdown() {
	s.typing.Shutdown()
}

// dispatch processes one inbound frame as a discrete event. Validation
// failures are reported to the sender only; the connection stays open unless
// the malformed budget is exhausted.
func (s *Server) dispatch(c *Client, data []byte) {
	if !c.limiter.Allow() {
		c.sendError(errf(CodeRateLimited, "slow down"))
		return
	}

	f, err := decodeEnvelope(data)
	if err != nil {
		s.malformedFrame(c, errf(CodeInvalidPayload, "malformed frame: %v", err))
		return
	}

	if f.Type == FrameAuthenticate {
		s.handleAuthenticate(c, f)
		return
	}
	if f.Type == FrameHeartbeat {
		// Liveness is tracked by ws pong deadlines; the app-level heartbeat
		// is accepted for clients that cannot emit pongs themselves.
		return
	}
	if !c.Authenticated() {
		c.sendError(errf(CodeUnauthenticated, "authenticate first"))
		return
	}

	var wserr *Error
	switch f.Type {
	case FrameJoinConversation:
		wserr = s.handleJoin(c, f)
	case FrameSendMessage:
		wserr = s.handleSendMessage(c, f)
	case FrameTyping:
		wserr = s.handleTyping(c, f, true)
	case FrameStopTyping:
		wserr = s.handleTyping(c, f, false)
	case FrameInterviewInvitationSent:
		wserr = s.events.InvitationSent(c, f, models.KindInterviewInvitation)
	case FrameInterviewInvitationStatus:
		wserr = s.events.InterviewStatusUpdated(c, f)
	case FrameInterviewStatusUpdated:
		wserr = s.events.InterviewStatusUpdated(c, f)
	case FrameInterviewRescheduled:
		wserr = s.events.InterviewRescheduled(c, f)
	case FrameJobInvitationSent:
		wserr = s.events.JobInvitationSent(c, f)
	case FrameJobInvitationStatusUpdated:
		wserr = s.events.JobInvitationStatusUpdated(c, f)
	case FrameRetryProposal:
		wserr = s.events.RetryProposal(c, f)
	default:
		s.malformedFrame(c, errf(CodeInvalidPayload, "unknown frame type %q", f.Type))
		return
	}
	if wserr != nil {
		c.sendError(wserr)
	}
}

func (s *Server) malformedFrame(c *Client, e *Error) {
	c.sendError(e)
	c.malformed++
	if c.malformed > s.cfg.MalformedLimit {
		s.log.Warn("malformed frame budget exceeded", "connection_id", c.ID, "user_id", c.UserID())
		go c.Close()
	}
}

// handleAuthenticate carries a connection from unauthenticated to
// authenticated. Failure closes the connection with a specific error code.
func (s *Server) handleAuthenticate(c *Client, f *Frame) {
	var p authenticatePayload
	if e := decodePayload(f, &p); e != nil {
		c.sendError(e)
		return
	}
	s.authenticate(c, p.Token)
}

func (s *Server) authenticate(c *Client, token string) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		c.sendError(errf(CodeUnauthenticated, "invalid credentials"))
		go c.Close()
		return
	}
	if c.Authenticated() {
		// Re-authentication is a no-op as long as the identity matches.
		if c.UserID() != claims.UserID {
			c.sendError(errf(CodeUnauthenticated, "connection already bound to another identity"))
		}
		return
	}

	c.setAuthenticated(claims)
	s.hub.Register(c)
	cameOnline := s.registry.Connect(claims.UserID, claims.Email, c.ID)

	c.sendFrame(newFrame(FrameAuthenticationSuccess, userPayload{User: map[string]any{
		"id":    claims.UserID,
		"email": claims.Email,
		"name":  claims.Name,
		"role":  claims.Role,
	}}))
	c.sendFrame(newFrame(FrameOnlineUsersList, onlineUsersPayload{Users: s.registry.OnlineEmails()}))

	if cameOnline {
		s.hub.Broadcast(newFrame(FrameUserOnline, presenceEventPayload{UserEmail: claims.Email}))
	}
	s.log.Info("connection authenticated", "connection_id", c.ID, "user_id", claims.UserID)
}

func (s *Server) handleJoin(c *Client, f *Frame) *Error {
	var p conversationPayload
	if e := decodePayload(f, &p); e != nil {
		return e
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := s.dir.AssertParticipant(ctx, p.ConversationID, c.UserID())
	if err != nil {
		return asWsError(err)
	}

	// Joining another conversation replaces the current one; rejoining the
	// same one only reloads history.
	if prev := c.JoinedConversation(); prev != conv.ID {
		if prev != "" {
			s.notifyLeft(ctx, c, prev)
		}
		c.setJoined(conv.ID)
		s.hub.SendToOthers(conv, c.UserID(), newFrame(FrameUserJoined, conversationPresencePayload{
			UserEmail:      c.User().Email,
			ConversationID: conv.ID,
		}))
	}

	messages, err := s.store.ListMessages(ctx, p.ConversationID, 0)
	if err != nil {
		return errf(CodePersistenceFailed, "could not load messages")
	}
	c.sendFrame(newFrame(FrameMessagesLoaded, messagesLoadedPayload{
		ConversationID: p.ConversationID,
		Messages:       messages,
	}))
	return nil
}

func (s *Server) handleSendMessage(c *Client, f *Frame) *Error {
	var p sendMessagePayload
	if e := decodePayload(f, &p); e != nil {
		return e
	}
	if p.Kind == "" {
		p.Kind = models.KindText
	}
	if p.Kind.Structured() {
		// Structured payloads travel through their dedicated frames so the
		// shape of each message kind is checked on receipt.
		return errf(CodeInvalidPayload, "kind %q requires its dedicated frame", p.Kind)
	}
	return s.router.HandleSend(c, p.ConversationID, p.Content, p.Kind)
}

func (s *Server) handleTyping(c *Client, f *Frame, start bool) *Error {
	var p conversationPayload
	if e := decodePayload(f, &p); e != nil {
		return e
	}
	if start {
		return s.typing.Start(c, p.ConversationID)
	}
	return s.typing.Stop(c, p.ConversationID)
}

// onDisconnect runs exactly once per connection, from Client.Close.
func (s *Server) onDisconnect(c *Client, wasAuthenticated bool) {
	if !wasAuthenticated {
		return
	}
	if convID := c.JoinedConversation(); convID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.notifyLeft(ctx, c, convID)
		cancel()
	}
	s.hub.Unregister(c)
	s.registry.Disconnect(c.UserID(), c.ID)
	s.log.Info("connection closed", "connection_id", c.ID, "user_id", c.UserID(),
		"remaining_connections", s.hub.ConnectionCount(c.UserID()))
}

// notifyLeft tells the other participants that a connection stopped viewing a
// conversation, either by switching away or by disconnecting.
func (s *Server) notifyLeft(ctx context.Context, c *Client, conversationID string) {
	conv, err := s.dir.Resolve(ctx, conversationID)
	if err != nil {
		return
	}
	s.hub.SendToOthers(conv, c.UserID(), newFrame(FrameUserLeft, conversationPresencePayload{
		UserEmail:      c.User().Email,
		ConversationID: conversationID,
	}))
}

// asWsError maps collaborator errors onto the frame error taxonomy.
func asWsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, directory.ErrForbidden):
		return errf(CodeForbidden, "not a participant of this conversation")
	case errors.Is(err, directory.ErrNotFound):
		return errf(CodeNotFound, "conversation not found")
	default:
		return errf(CodePersistenceFailed, "storage unavailable")
	}
}
