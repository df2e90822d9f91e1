// Package identity resolves participant ids into display identities.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain"
)

var _ contract.IIdentityResolver = (*HTTPResolver)(nil)

// HTTPResolver asks the identity service for a batch of participants.
//
//	POST {baseURL}/participants/resolve
//	Authorization: Bearer <credential>
//	{"ids": ["A", "B"]}
//
// answers {"participants": [{"id": "A", "role": "requester", "displayName": "...", "contact": "..."}]}.
// Ids absent from the answer are unresolved.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
}

func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		endpoint: strings.TrimRight(baseURL, "/") + "/participants/resolve",
		client:   &http.Client{Timeout: timeout},
	}
}

type resolveRequest struct {
	IDs []string `json:"ids"`
}

type resolvedParticipant struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
	Contact     string `json:"contact,omitempty"`
}

type resolveResponse struct {
	Participants []resolvedParticipant `json:"participants"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, credential string, ids []string) (map[string]domain.Participant, error) {
	body, err := json.Marshal(resolveRequest{IDs: ids})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("identity service: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded resolveResponse
	if err = json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("identity service: decode: %w", err)
	}

	participants := make(map[string]domain.Participant, len(decoded.Participants))
	for _, p := range decoded.Participants {
		role, err := domain.ParseRole(p.Role)
		if err != nil {
			continue
		}
		participants[p.ID] = domain.Participant{
			ID:          p.ID,
			Role:        role,
			DisplayName: p.DisplayName,
			Contact:     p.Contact,
		}
	}
	return participants, nil
}
