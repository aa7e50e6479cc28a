package proposals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/logging"
)

// Client calls the marketplace's proposal service to turn an accepted job
// invitation into a proposal record.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logging.Logger
}

func NewClient(baseURL string, log *logging.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.With("component", "proposals"),
	}
}

type createReq struct {
	InvitationID string `json:"invitation_id"`
}

type createResp struct {
	ID string `json:"id"`
}

func (c *Client) CreateProposalFromInvitation(ctx context.Context, invitationMessageID string) (string, error) {
	if c.baseURL == "" {
		// Standalone mode: no proposal service configured, mint an id locally
		// so acceptance flows stay exercisable end to end.
		id := uuid.NewString()
		c.log.Warn("no proposal service configured, generated local proposal id", "proposal_id", id)
		return id, nil
	}

	body, err := json.Marshal(createReq{InvitationID: invitationMessageID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/proposals/from-invitation", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("proposal service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("proposal service returned %d", resp.StatusCode)
	}

	var out createResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("proposal service response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("proposal service returned empty id")
	}
	return out.ID, nil
}
