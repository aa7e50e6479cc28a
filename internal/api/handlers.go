// Package api holds the synchronous REST edges of the conversation core:
// conversation creation/listing and message history. Everything real-time
// happens on the websocket endpoint.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/auth"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/directory"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/models"
	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/store"
)

type createConversationReq struct {
	ParticipantID string  `json:"participant_id"` // the other side of the pair
	JobID         *string `json:"job_id,omitempty"`
	ProjectName   *string `json:"project_name,omitempty"`
}

func HandleCreateConversation(d *directory.Directory, w http.ResponseWriter, r *http.Request) error {
	u := r.Context().Value(auth.UserContextKey).(*auth.Claims)
	var req createConversationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return err
	}
	if req.ParticipantID == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return nil
	}

	clientID, freelancerID := u.UserID, req.ParticipantID
	if u.Role == models.RoleFreelancer {
		clientID, freelancerID = req.ParticipantID, u.UserID
	}
	conv, err := d.Create(r.Context(), clientID, freelancerID, req.JobID, req.ProjectName)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return json.NewEncoder(w).Encode(conv)
}

func HandleListConversations(d *directory.Directory, w http.ResponseWriter, r *http.Request) error {
	u := r.Context().Value(auth.UserContextKey).(*auth.Claims)
	items, err := d.ListForUser(r.Context(), u.UserID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []models.Conversation{}
	}
	return json.NewEncoder(w).Encode(items)
}

// HandleInvalidateConversation lets the offer and payment services, which
// write message rows through their own path, drop this process's cached view
// of a conversation so the next read reflects their update.
func HandleInvalidateConversation(d *directory.Directory, w http.ResponseWriter, r *http.Request) error {
	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return nil
	}
	d.Invalidate(convID)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func HandleListMessages(d *directory.Directory, st *store.Store, w http.ResponseWriter, r *http.Request) error {
	u := r.Context().Value(auth.UserContextKey).(*auth.Claims)
	convID := r.URL.Query().Get("conversation_id")

	if _, err := d.AssertParticipant(r.Context(), convID, u.UserID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return nil
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := st.ListMessages(r.Context(), convID, limit)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return json.NewEncoder(w).Encode(messages)
}
