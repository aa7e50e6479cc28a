package ws

import (
	"encoding/json"
	"errors"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
)

// Frame is one discrete typed message on the duplex channel, both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound frame types (client -> server).
const (
	FrameAuthenticate               = "authenticate"
	FrameHeartbeat                  = "heartbeat"
	FrameJoinConversation           = "join_conversation"
	FrameSendMessage                = "send_message"
	FrameTyping                     = "typing"
	FrameStopTyping                 = "stop_typing"
	FrameInterviewInvitationSent    = "interview_invitation_sent"
	FrameInterviewInvitationStatus  = "interview_invitation_status_updated"
	FrameInterviewStatusUpdated     = "interview_status_updated"
	FrameInterviewRescheduled       = "interview_rescheduled"
	FrameJobInvitationSent          = "job_invitation_sent"
	FrameJobInvitationStatusUpdated = "job_invitation_status_updated"
	FrameRetryProposal              = "retry_proposal"
)

// Outbound frame types (server -> client).
const (
	FrameConnectionEstablished = "connection_established"
	FrameAuthenticationSuccess = "authentication_success"
	FrameOnlineUsersList       = "online_users_list"
	FrameMessagesLoaded        = "messages_loaded"
	FrameNewMessage            = "new_message"
	FrameUserTyping            = "user_typing"
	FrameUserStopTyping        = "user_stop_typing"
	FrameUserOnline            = "user_online"
	FrameUserOffline           = "user_offline"
	FrameUserJoined            = "user_joined"
	FrameUserLeft              = "user_left"
	FrameProposalCreated       = "proposal_created"
	FrameError                 = "error"
)

type authenticatePayload struct {
	Token string `json:"token"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type sendMessagePayload struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Kind           models.MessageKind `json:"type"`
}

type interviewInvitationSentPayload struct {
	ConversationID string                  `json:"conversationId"`
	InvitationData models.InterviewPayload `json:"invitationData"`
}

type statusUpdatePayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type interviewRescheduledPayload struct {
	MessageID     string                  `json:"messageId"`
	InterviewData models.InterviewPayload `json:"interviewData"`
	ProposalID    string                  `json:"proposalId,omitempty"`
}

type jobInvitationSentPayload struct {
	ConversationID string                      `json:"conversationId"`
	InvitationData models.JobInvitationPayload `json:"invitationData"`
}

type retryProposalPayload struct {
	MessageID string `json:"messageId"`
}

// Outbound payload shapes.

type userPayload struct {
	User any `json:"user"`
}

type onlineUsersPayload struct {
	Users []string `json:"users"`
}

type messagesLoadedPayload struct {
	ConversationID string           `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
}

type newMessagePayload struct {
	Message *models.Message `json:"message"`
}

type typingEventPayload struct {
	UserEmail      string `json:"userEmail"`
	UserName       string `json:"userName,omitempty"`
	ConversationID string `json:"conversationId"`
}

type presenceEventPayload struct {
	UserEmail string `json:"userEmail"`
}

type conversationPresencePayload struct {
	UserEmail      string `json:"userEmail"`
	ConversationID string `json:"conversationId"`
}

type proposalCreatedPayload struct {
	InvitationMessageID string `json:"invitationMessageId"`
	ProposalID          string `json:"proposalId"`
}

func newFrame(frameType string, payload any) Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload shapes are our own types; a marshal failure is a programming error.
		panic(err)
	}
	return Frame{Type: frameType, Payload: data}
}

func errorFrame(e *Error) Frame { return newFrame(FrameError, e) }

func decodeEnvelope(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, errors.New("frame type is required")
	}
	return &f, nil
}

func decodePayload(f *Frame, into any) *Error {
	if len(f.Payload) == 0 {
		return errf(CodeInvalidPayload, "%s: payload is required", f.Type)
	}
	if err := json.Unmarshal(f.Payload, into); err != nil {
		return errf(CodeInvalidPayload, "%s: %v", f.Type, err)
	}
	return nil
}
