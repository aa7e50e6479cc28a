package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type MessageKind string

const (
	KindText                MessageKind = "text"
	KindInterview           MessageKind = "interview"
	KindInterviewInvitation MessageKind = "interview_invitation"
	KindJobInvitation       MessageKind = "job_invitation"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindInterview, KindInterviewInvitation, KindJobInvitation:
		return true
	}
	return false
}

// Structured kinds carry a schema-validated payload instead of free text.
func (k MessageKind) Structured() bool {
	return k != KindText && k.Valid()
}

// Message is append-only: status transitions are new messages referencing the
// originating one, never in-place edits.
type Message struct {
	ID             string          `db:"id" json:"id"`
	ConversationID string          `db:"conversation_id" json:"conversation_id"`
	SenderID       string          `db:"sender_id" json:"sender_id"`
	SenderEmail    string          `db:"sender_email" json:"sender_email"`
	SenderName     string          `db:"sender_name" json:"sender_name"`
	Kind           MessageKind     `db:"kind" json:"type"`
	Content        string          `db:"content" json:"content"`
	Payload        json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"timestamp"`
	ReadAt         *time.Time      `db:"read_at" json:"read_at,omitempty"`
}

type InterviewStatus string

const (
	InterviewPending   InterviewStatus = "pending"
	InterviewAccepted  InterviewStatus = "accepted"
	InterviewDeclined  InterviewStatus = "declined"
	InterviewWithdrawn InterviewStatus = "withdrawn"
)

func (s InterviewStatus) Valid() bool {
	switch s {
	case InterviewPending, InterviewAccepted, InterviewDeclined, InterviewWithdrawn:
		return true
	}
	return false
}

// InterviewPayload is the body of interview and interview_invitation messages.
// OriginMessageID ties a status transition back to the invitation it updates;
// for a fresh invitation it equals the message's own id.
type InterviewPayload struct {
	Date              string          `json:"date"`
	Time              string          `json:"time"`
	Duration          int             `json:"duration,omitempty"` // minutes
	MeetingLink       string          `json:"meetingLink,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	Status            InterviewStatus `json:"status"`
	OriginMessageID   string          `json:"originMessageId,omitempty"`
	PreviousMessageID string          `json:"previousMessageId,omitempty"` // set on reschedules
	ProposalID        string          `json:"proposalId,omitempty"`
}

func (p *InterviewPayload) Validate() error {
	if strings.TrimSpace(p.Date) == "" {
		return errors.New("interview date is required")
	}
	if strings.TrimSpace(p.Time) == "" {
		return errors.New("interview time is required")
	}
	if p.Duration < 0 {
		return errors.New("interview duration must be positive")
	}
	if !p.Status.Valid() {
		return errors.New("unknown interview status")
	}
	return nil
}

type JobInvitationStatus string

const (
	JobInvitationPending  JobInvitationStatus = "PENDING"
	JobInvitationAccepted JobInvitationStatus = "ACCEPTED"
	JobInvitationRejected JobInvitationStatus = "REJECTED"
)

func (s JobInvitationStatus) Valid() bool {
	switch s {
	case JobInvitationPending, JobInvitationAccepted, JobInvitationRejected:
		return true
	}
	return false
}

// JobInvitationPayload is the body of job_invitation messages.
type JobInvitationPayload struct {
	JobID           string              `json:"jobId"`
	JobTitle        string              `json:"jobTitle"`
	Message         string              `json:"message,omitempty"`
	Status          JobInvitationStatus `json:"status"`
	OriginMessageID string              `json:"originMessageId,omitempty"`
	ProposalID      string              `json:"proposalId,omitempty"`
}

func (p *JobInvitationPayload) Validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(p.JobTitle) == "" {
		return errors.New("job title is required")
	}
	if !p.Status.Valid() {
		return errors.New("unknown invitation status")
	}
	return nil
}
