package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/store"
)

// Events hosts the structured-event handlers: narrow state machines riding on
// the router's persist+fan-out primitive. Every transition is a new message
// referencing the originating one; history is never rewritten.
type Events struct {
	router    *Router
	store     Store
	proposals ProposalClient
	hub       *Hub
	log       *logging.Logger
}

func NewEvents(router *Router, st Store, proposals ProposalClient, hub *Hub, log *logging.Logger) *Events {
	return &Events{
		router:    router,
		store:     st,
		proposals: proposals,
		hub:       hub,
		log:       log.With("component", "events"),
	}
}

// InvitationSent emits a fresh interview invitation in the pending state. The
// message's own id becomes the logical interview identity that later status
// transitions reference.
func (e *Events) InvitationSent(c *Client, f *Frame, kind models.MessageKind) *Error {
	var p interviewInvitationSentPayload
	if err := decodePayload(f, &p); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	user := c.User()
	conv, err := e.router.dir.AssertParticipant(ctx, p.ConversationID, user.UserID)
	if err != nil {
		return asWsError(err)
	}

	payload := p.InvitationData
	payload.Status = models.InterviewPending
	if verr := payload.Validate(); verr != nil {
		return errf(CodeInvalidPayload, "%v", verr)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       user.UserID,
		SenderEmail:    user.Email,
		SenderName:     user.Name,
		Kind:           kind,
	}
	payload.OriginMessageID = msg.ID
	msg.Payload = mustMarshalPayload(payload)

	return e.router.Publish(ctx, conv, msg, func(ctx context.Context, m *models.Message) error {
		return e.store.AppendInterviewMessage(ctx, m, m.ID, models.InterviewPending)
	})
}

// InterviewStatusUpdated drives pending -> accepted/declined/withdrawn. The
// invitee accepts or declines; the inviter withdraws. Anything else fails
// validation and produces no new message.
func (e *Events) InterviewStatusUpdated(c *Client, f *Frame) *Error {
	var p statusUpdatePayload
	if err := decodePayload(f, &p); err != nil {
		return err
	}
	status := models.InterviewStatus(p.Status)
	switch status {
	case models.InterviewAccepted, models.InterviewDeclined, models.InterviewWithdrawn:
	default:
		return errf(CodeInvalidPayload, "status %q is not a valid transition", p.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	origin, originPayload, wserr := e.resolveInterviewOrigin(ctx, p.MessageID)
	if wserr != nil {
		return wserr
	}

	user := c.User()
	conv, err := e.router.dir.AssertParticipant(ctx, origin.ConversationID, user.UserID)
	if err != nil {
		return asWsError(err)
	}

	current, err := e.store.InterviewStatus(ctx, origin.ID)
	if err != nil {
		return asStoreError(err, "interview")
	}
	if current != models.InterviewPending {
		return errf(CodeInvalidPayload, "interview is %s, only pending interviews can be updated", current)
	}

	inviter := origin.SenderID
	if status == models.InterviewWithdrawn && user.UserID != inviter {
		return errf(CodeForbidden, "only the inviter may withdraw")
	}
	if status != models.InterviewWithdrawn && user.UserID == inviter {
		return errf(CodeForbidden, "only the invitee may accept or decline")
	}

	next := *originPayload
	next.Status = status
	next.OriginMessageID = origin.ID

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       user.UserID,
		SenderEmail:    user.Email,
		SenderName:     user.Name,
		Kind:           origin.Kind,
		Payload:        mustMarshalPayload(next),
	}
	return e.router.Publish(ctx, conv, msg, func(ctx context.Context, m *models.Message) error {
		return e.store.AppendInterviewMessage(ctx, m, origin.ID, status)
	})
}

// InterviewRescheduled re-invites after a decline or withdrawal: a new
// pending interview message opens a fresh logical thread that supersedes the
// prior one for display purposes.
func (e *Events) InterviewRescheduled(c *Client, f *Frame) *Error {
	var p interviewRescheduledPayload
	if err := decodePayload(f, &p); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	origin, _, wserr := e.resolveInterviewOrigin(ctx, p.MessageID)
	if wserr != nil {
		return wserr
	}

	user := c.User()
	conv, err := e.router.dir.AssertParticipant(ctx, origin.ConversationID, user.UserID)
	if err != nil {
		return asWsError(err)
	}
	if user.UserID != origin.SenderID {
		return errf(CodeForbidden, "only the inviter may reschedule")
	}

	current, err := e.store.InterviewStatus(ctx, origin.ID)
	if err != nil {
		return asStoreError(err, "interview")
	}
	if current != models.InterviewDeclined && current != models.InterviewWithdrawn {
		return errf(CodeInvalidPayload, "interview is %s, only declined or withdrawn interviews can be rescheduled", current)
	}

	payload := p.InterviewData
	payload.Status = models.InterviewPending
	if verr := payload.Validate(); verr != nil {
		return errf(CodeInvalidPayload, "%v", verr)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       user.UserID,
		SenderEmail:    user.Email,
		SenderName:     user.Name,
		Kind:           origin.Kind,
	}
	payload.OriginMessageID = msg.ID
	payload.PreviousMessageID = origin.ID
	payload.ProposalID = p.ProposalID
	msg.Payload = mustMarshalPayload(payload)

	return e.router.Publish(ctx, conv, msg, func(ctx context.Context, m *models.Message) error {
		return e.store.AppendInterviewMessage(ctx, m, m.ID, models.InterviewPending)
	})
}

// JobInvitationSent emits a PENDING job invitation from the client side.
func (e *Events) JobInvitationSent(c *Client, f *Frame) *Error {
	var p jobInvitationSentPayload
	if err := decodePayload(f, &p); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	user := c.User()
	conv, err := e.router.dir.AssertParticipant(ctx, p.ConversationID, user.UserID)
	if err != nil {
		return asWsError(err)
	}
	if conv.RoleOf(user.UserID) != models.RoleClient {
		return errf(CodeForbidden, "only the client may send job invitations")
	}

	payload := p.InvitationData
	payload.Status = models.JobInvitationPending
	if verr := payload.Validate(); verr != nil {
		return errf(CodeInvalidPayload, "%v", verr)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       user.UserID,
		SenderEmail:    user.Email,
		SenderName:     user.Name,
		Kind:           models.KindJobInvitation,
	}
	payload.OriginMessageID = msg.ID
	msg.Payload = mustMarshalPayload(payload)

	return e.router.Publish(ctx, conv, msg, func(ctx context.Context, m *models.Message) error {
		return e.store.AppendJobInvitationMessage(ctx, m, m.ID, models.JobInvitationPending)
	})
}

// JobInvitationStatusUpdated drives PENDING -> ACCEPTED/REJECTED. Acceptance
// triggers the proposal-creation side effect at-least-once: if it fails after
// the status was durably recorded, the sender gets a SideEffectFailed error
// it can resolve with a retry_proposal frame, without re-accepting.
func (e *Events) JobInvitationStatusUpdated(c *Client, f *Frame) *Error {
	var p statusUpdatePayload
	if err := decodePayload(f, &p); err != nil {
		return err
	}
	status := models.JobInvitationStatus(p.Status)
	if status != models.JobInvitationAccepted && status != models.JobInvitationRejected {
		return errf(CodeInvalidPayload, "status %q is not a valid transition", p.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	origin, originPayload, wserr := e.resolveJobInvitationOrigin(ctx, p.MessageID)
	if wserr != nil {
		return wserr
	}

	user := c.User()
	conv, err := e.router.dir.AssertParticipant(ctx, origin.ConversationID, user.UserID)
	if err != nil {
		return asWsError(err)
	}
	if user.UserID == origin.SenderID {
		return errf(CodeForbidden, "only the invitee may respond to a job invitation")
	}

	current, _, err := e.store.JobInvitationStatus(ctx, origin.ID)
	if err != nil {
		return asStoreError(err, "job invitation")
	}
	if current != models.JobInvitationPending {
		return errf(CodeInvalidPayload, "job invitation is already %s", current)
	}

	next := *originPayload
	next.Status = status
	next.OriginMessageID = origin.ID

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       user.UserID,
		SenderEmail:    user.Email,
		SenderName:     user.Name,
		Kind:           models.KindJobInvitation,
		Payload:        mustMarshalPayload(next),
	}
	if wserr := e.router.Publish(ctx, conv, msg, func(ctx context.Context, m *models.Message) error {
		return e.store.AppendJobInvitationMessage(ctx, m, origin.ID, status)
	}); wserr != nil {
		return wserr
	}

	if status != models.JobInvitationAccepted {
		return nil
	}
	return e.createProposal(ctx, conv, origin.ID)
}

// RetryProposal re-runs the acceptance side effect after a SideEffectFailed.
func (e *Events) RetryProposal(c *Client, f *Frame) *Error {
	var p retryProposalPayload
	if err := decodePayload(f, &p); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	origin, _, wserr := e.resolveJobInvitationOrigin(ctx, p.MessageID)
	if wserr != nil {
		return wserr
	}

	user := c.User()
	conv, err := e.router.dir.AssertParticipant(ctx, origin.ConversationID, user.UserID)
	if err != nil {
		return asWsError(err)
	}

	current, proposalID, err := e.store.JobInvitationStatus(ctx, origin.ID)
	if err != nil {
		return asStoreError(err, "job invitation")
	}
	if current != models.JobInvitationAccepted {
		return errf(CodeInvalidPayload, "job invitation is %s, nothing to retry", current)
	}
	if proposalID != "" {
		// Side effect already completed; re-announce instead of duplicating.
		e.hub.SendToConversation(conv, newFrame(FrameProposalCreated, proposalCreatedPayload{
			InvitationMessageID: origin.ID,
			ProposalID:          proposalID,
		}))
		return nil
	}
	return e.createProposal(ctx, conv, origin.ID)
}

func (e *Events) createProposal(ctx context.Context, conv *models.Conversation, originID string) *Error {
	proposalID, err := e.proposals.CreateProposalFromInvitation(ctx, originID)
	if err != nil {
		e.log.Error("proposal creation failed", "invitation_id", originID, "error", err)
		return errf(CodeSideEffectFailed, "acceptance was recorded but proposal creation failed; send retry_proposal")
	}
	if err := e.store.SetJobInvitationProposal(ctx, originID, proposalID); err != nil {
		e.log.Error("recording proposal id failed", "invitation_id", originID, "error", err)
	}
	e.hub.SendToConversation(conv, newFrame(FrameProposalCreated, proposalCreatedPayload{
		InvitationMessageID: originID,
		ProposalID:          proposalID,
	}))
	return nil
}

// resolveInterviewOrigin follows a referenced message back to the originating
// invitation of its logical interview.
func (e *Events) resolveInterviewOrigin(ctx context.Context, messageID string) (*models.Message, *models.InterviewPayload, *Error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, asStoreError(err, "message")
	}
	if msg.Kind != models.KindInterview && msg.Kind != models.KindInterviewInvitation {
		return nil, nil, errf(CodeInvalidPayload, "message %s is not an interview message", messageID)
	}
	var payload models.InterviewPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, nil, errf(CodePersistenceFailed, "stored payload is unreadable")
	}
	if payload.OriginMessageID != "" && payload.OriginMessageID != msg.ID {
		origin, err := e.store.GetMessage(ctx, payload.OriginMessageID)
		if err != nil {
			return nil, nil, asStoreError(err, "origin message")
		}
		var originPayload models.InterviewPayload
		if err := json.Unmarshal(origin.Payload, &originPayload); err != nil {
			return nil, nil, errf(CodePersistenceFailed, "stored payload is unreadable")
		}
		return origin, &originPayload, nil
	}
	return msg, &payload, nil
}

func (e *Events) resolveJobInvitationOrigin(ctx context.Context, messageID string) (*models.Message, *models.JobInvitationPayload, *Error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, asStoreError(err, "message")
	}
	if msg.Kind != models.KindJobInvitation {
		return nil, nil, errf(CodeInvalidPayload, "message %s is not a job invitation", messageID)
	}
	var payload models.JobInvitationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, nil, errf(CodePersistenceFailed, "stored payload is unreadable")
	}
	if payload.OriginMessageID != "" && payload.OriginMessageID != msg.ID {
		origin, err := e.store.GetMessage(ctx, payload.OriginMessageID)
		if err != nil {
			return nil, nil, asStoreError(err, "origin message")
		}
		var originPayload models.JobInvitationPayload
		if err := json.Unmarshal(origin.Payload, &originPayload); err != nil {
			return nil, nil, errf(CodePersistenceFailed, "stored payload is unreadable")
		}
		return origin, &originPayload, nil
	}
	return msg, &payload, nil
}

func asStoreError(err error, what string) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return errf(CodeNotFound, "%s not found", what)
	}
	return errf(CodePersistenceFailed, "storage unavailable")
}

func mustMarshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
