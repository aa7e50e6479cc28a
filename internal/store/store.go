package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct{ DB *sqlx.DB }

func New(db *sqlx.DB) *Store { return &Store{DB: db} }

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.DB.GetContext(ctx, &u, `SELECT id, email, name, role, password_hash, created_at FROM users WHERE id=$1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.DB.GetContext(ctx, &u, `SELECT id, email, name, role, password_hash, created_at FROM users WHERE email=$1`, strings.ToLower(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

const conversationColumns = `id, client_id, freelancer_id, job_id, project_name, last_message, last_message_at, created_at`

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.DB.GetContext(ctx, &c, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CreateConversation is idempotent with respect to (client, freelancer, job):
// when the pair already shares a conversation for the job the existing row is
// returned instead of an error.
func (s *Store) CreateConversation(ctx context.Context, clientID, freelancerID string, jobID, projectName *string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.DB.GetContext(ctx, &c, `INSERT INTO conversations(id, client_id, freelancer_id, job_id, project_name, created_at)
		VALUES(gen_random_uuid(), $1, $2, $3, $4, $5)
		ON CONFLICT (client_id, freelancer_id, COALESCE(job_id, '')) DO NOTHING
		RETURNING `+conversationColumns,
		clientID, freelancerID, jobID, projectName, time.Now().UTC())
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Conflict path: fetch the existing conversation for the pair+job.
	err = s.DB.GetContext(ctx, &c, `SELECT `+conversationColumns+` FROM conversations
		WHERE client_id=$1 AND freelancer_id=$2 AND COALESCE(job_id,'')=COALESCE($3,'') LIMIT 1`,
		clientID, freelancerID, jobID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var out []models.Conversation
	err := s.DB.SelectContext(ctx, &out, `SELECT `+conversationColumns+` FROM conversations
		WHERE client_id=$1 OR freelancer_id=$1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC`, userID)
	return out, err
}

const messageColumns = `id, conversation_id, sender_id, sender_email, sender_name, kind, content, payload, created_at, read_at`

// AppendMessage persists a plain message, assigning the server identifier and
// timestamp, and bumps the conversation's last-message columns in the same
// transaction. The caller's msg is updated in place.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.appendTx(ctx, msg, nil)
}

// AppendInterviewMessage persists an interview message and updates the derived
// current-status row for the logical interview transactionally, so readers do
// not reconstruct state by scanning history.
func (s *Store) AppendInterviewMessage(ctx context.Context, msg *models.Message, originID string, status models.InterviewStatus) error {
	return s.appendTx(ctx, msg, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO interview_status(origin_message_id, conversation_id, status, updated_at)
			VALUES($1,$2,$3,$4)
			ON CONFLICT (origin_message_id) DO UPDATE SET status=EXCLUDED.status, updated_at=EXCLUDED.updated_at`,
			originID, msg.ConversationID, status, msg.CreatedAt)
		return err
	})
}

// AppendJobInvitationMessage is the job-invitation counterpart of
// AppendInterviewMessage.
func (s *Store) AppendJobInvitationMessage(ctx context.Context, msg *models.Message, originID string, status models.JobInvitationStatus) error {
	return s.appendTx(ctx, msg, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO job_invitation_status(origin_message_id, conversation_id, status, updated_at)
			VALUES($1,$2,$3,$4)
			ON CONFLICT (origin_message_id) DO UPDATE SET status=EXCLUDED.status, updated_at=EXCLUDED.updated_at`,
			originID, msg.ConversationID, status, msg.CreatedAt)
		return err
	})
}

func (s *Store) appendTx(ctx context.Context, msg *models.Message, extra func(tx *sqlx.Tx) error) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now().UTC()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO messages(id, conversation_id, sender_id, sender_email, sender_name, kind, content, payload, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderEmail, msg.SenderName, msg.Kind, msg.Content, msg.Payload, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	preview := msg.Content
	if msg.Kind.Structured() {
		preview = string(msg.Kind)
	}
	_, err = tx.ExecContext(ctx, `UPDATE conversations SET last_message=$1, last_message_at=$2 WHERE id=$3`,
		preview, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if extra != nil {
		if err := extra(tx); err != nil {
			return fmt.Errorf("update derived status: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := s.DB.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var out []models.Message
	err := s.DB.SelectContext(ctx, &out, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id=$1 ORDER BY created_at ASC LIMIT $2`, conversationID, limit)
	return out, err
}

func (s *Store) InterviewStatus(ctx context.Context, originID string) (models.InterviewStatus, error) {
	var status models.InterviewStatus
	err := s.DB.GetContext(ctx, &status, `SELECT status FROM interview_status WHERE origin_message_id=$1`, originID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return status, nil
}

func (s *Store) JobInvitationStatus(ctx context.Context, originID string) (models.JobInvitationStatus, string, error) {
	var row struct {
		Status     models.JobInvitationStatus `db:"status"`
		ProposalID *string                    `db:"proposal_id"`
	}
	err := s.DB.GetContext(ctx, &row, `SELECT status, proposal_id FROM job_invitation_status WHERE origin_message_id=$1`, originID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrNotFound
		}
		return "", "", err
	}
	proposalID := ""
	if row.ProposalID != nil {
		proposalID = *row.ProposalID
	}
	return row.Status, proposalID, nil
}

// SetJobInvitationProposal records the proposal created by the acceptance side
// effect so a retry can tell "already done" from "still missing".
func (s *Store) SetJobInvitationProposal(ctx context.Context, originID, proposalID string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE job_invitation_status SET proposal_id=$1, updated_at=$2 WHERE origin_message_id=$3`,
		proposalID, time.Now().UTC(), originID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
