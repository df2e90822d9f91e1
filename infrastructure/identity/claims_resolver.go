package identity

import (
	"context"

	"negotiation-hub/auth"
	"negotiation-hub/contract"
	"negotiation-hub/domain"
)

var _ contract.IIdentityResolver = (*ClaimsResolver)(nil)

// ClaimsResolver is used when no identity service is configured: the caller's own
// token is the only source of identity, so only the caller's id can be resolved.
type ClaimsResolver struct {
	signer *auth.Signer
}

func NewClaimsResolver(signer *auth.Signer) *ClaimsResolver {
	return &ClaimsResolver{signer: signer}
}

func (r *ClaimsResolver) Resolve(_ context.Context, credential string, ids []string) (map[string]domain.Participant, error) {
	participants := make(map[string]domain.Participant)
	claims, err := r.signer.ValidateToken(credential)
	if err != nil {
		return participants, nil
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return participants, nil
	}

	for _, id := range ids {
		if id != claims.UserID {
			continue
		}
		name := claims.Name
		if name == "" {
			name = claims.UserID
		}
		participants[id] = domain.Participant{ID: id, Role: role, DisplayName: name}
	}
	return participants, nil
}
