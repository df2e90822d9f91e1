package services

import (
	"context"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain"
	"negotiation-hub/domain/event"

	"github.com/samber/lo"
)

// Presence describes one live session of a participant.
type Presence struct {
	ParticipantID string
	Role          domain.Role
	DisplayName   string
	ConnectionID  string
	RegisteredAt  time.Time
}

type ConnectionStatus struct {
	ParticipantID string
	Connected     bool
	Sessions      []Presence
}

type DisconnectResult struct {
	Disconnected bool
	Reason       string
	Roles        []domain.Role
}

// ConnectionService is the operator facing view of presence.
type ConnectionService struct {
	registry contract.IRegistry
	presence *PresenceService
	engine   contract.IDeliveryEngine
}

func NewConnectionService(registry contract.IRegistry, presence *PresenceService, engine contract.IDeliveryEngine) *ConnectionService {
	return &ConnectionService{registry: registry, presence: presence, engine: engine}
}

// Status reports every namespace in which participantID is connected.
func (s *ConnectionService) Status(participantID string) ConnectionStatus {
	status := ConnectionStatus{ParticipantID: participantID}
	for _, role := range domain.Roles {
		if record, ok := s.registry.Lookup(participantID, role); ok {
			status.Sessions = append(status.Sessions, toPresence(record))
		}
	}
	status.Connected = len(status.Sessions) > 0
	return status
}

func (s *ConnectionService) Stats() contract.PresenceStats {
	return s.registry.Stats()
}

// List returns the connected participants of role, or of every role when role is nil.
func (s *ConnectionService) List(role *domain.Role) []contract.ConnectionRecord {
	return s.registry.List(role)
}

// Disconnect closes the sessions of participantID, limited to role when given.
func (s *ConnectionService) Disconnect(participantID string, role *domain.Role) DisconnectResult {
	roles := domain.Roles
	if role != nil {
		roles = []domain.Role{*role}
	}

	var result DisconnectResult
	for _, r := range roles {
		record, ok := s.registry.Lookup(participantID, r)
		if !ok {
			continue
		}
		if s.presence.Unregister(record.Handle) {
			record.Handle.Close("disconnected by operator")
			result.Roles = append(result.Roles, r)
		}
	}
	result.Disconnected = len(result.Roles) > 0
	if !result.Disconnected {
		result.Reason = "not connected"
	}
	return result
}

// SendTest pushes payload to participantID to check the connection end to end.
func (s *ConnectionService) SendTest(ctx context.Context, participantID string, role *domain.Role, payload any) contract.DeliveryResult {
	return s.engine.Deliver(ctx, event.TestDelivery{ParticipantID: participantID, Role: role, Payload: payload})
}

func toPresence(record contract.ConnectionRecord) Presence {
	return Presence{
		ParticipantID: record.ParticipantID,
		Role:          record.Role,
		DisplayName:   record.DisplayName,
		ConnectionID:  record.Handle.ID(),
		RegisteredAt:  record.RegisteredAt,
	}
}

// Presences flattens records for listing.
func Presences(records []contract.ConnectionRecord) []Presence {
	return lo.Map(records, func(r contract.ConnectionRecord, _ int) Presence { return toPresence(r) })
}
