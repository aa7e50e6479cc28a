package models

import "time"

type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	Role         Role      `db:"role" json:"role"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Conversation is a persistent thread between a client and a freelancer,
// optionally tied to a job. The participant pair is immutable after creation.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	ClientID      string     `db:"client_id" json:"client_id"`
	FreelancerID  string     `db:"freelancer_id" json:"freelancer_id"`
	JobID         *string    `db:"job_id" json:"job_id,omitempty"`
	ProjectName   *string    `db:"project_name" json:"project_name,omitempty"`
	LastMessage   *string    `db:"last_message" json:"last_message,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

func (c *Conversation) IsParticipant(userID string) bool {
	return c.ClientID == userID || c.FreelancerID == userID
}

// Participants returns the user ids a fan-out for this conversation targets.
func (c *Conversation) Participants() []string {
	return []string{c.ClientID, c.FreelancerID}
}

// RoleOf reports which side of the conversation a participant is on.
func (c *Conversation) RoleOf(userID string) Role {
	if c.ClientID == userID {
		return RoleClient
	}
	return RoleFreelancer
}
