package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"negotiation-hub/contract"
	"negotiation-hub/domain"
	"negotiation-hub/domain/event"
	"negotiation-hub/errors"
	"negotiation-hub/observability"

	"github.com/google/uuid"
)

// ReplayQueue schedules the redelivery of a participant's outbox.
type ReplayQueue interface {
	Enqueue(participantID string)
}

type Registration struct {
	ParticipantID string
	Role          domain.Role
	DisplayName   string
	RegisteredAt  time.Time
}

// PresenceService binds authenticated connections to the presence registry.
type PresenceService struct {
	registry contract.IRegistry
	resolver contract.IIdentityResolver
	replay   ReplayQueue
	metrics  *observability.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewPresenceService(
	registry contract.IRegistry,
	resolver contract.IIdentityResolver,
	replay ReplayQueue,
	metrics *observability.Metrics,
	log *slog.Logger,
) *PresenceService {
	return &PresenceService{
		registry: registry,
		resolver: resolver,
		replay:   replay,
		metrics:  metrics,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register resolves the participant behind credential and makes handle the way to
// reach them in role's namespace. A previous session of the same participant and role
// is closed. The handle receives a registered frame first, then the messages queued
// while the participant was away are scheduled for replay.
func (s *PresenceService) Register(ctx context.Context, credential, participantID string, role domain.Role, handle contract.ConnectionHandle) (Registration, error) {
	participants, err := s.resolver.Resolve(ctx, credential, []string{participantID})
	if err != nil {
		return Registration{}, fmt.Errorf("%w: %v", errors.ErrIdentityUnresolved, err)
	}
	participant, ok := participants[participantID]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", errors.ErrIdentityUnresolved, participantID)
	}

	registration := Registration{
		ParticipantID: participantID,
		Role:          role,
		DisplayName:   participant.DisplayName,
		RegisteredAt:  s.now(),
	}
	replaced := s.registry.Register(contract.ConnectionRecord{
		ParticipantID: participantID,
		Role:          role,
		DisplayName:   participant.DisplayName,
		Handle:        handle,
		RegisteredAt:  registration.RegisteredAt,
	})
	if replaced != nil {
		s.log.Info("Session replaced", "participant_id", participantID, "role", role, "previous", replaced.ID())
		replaced.Close("session replaced")
	}
	s.observe()

	if _, err = handle.Push(ctx, event.Frame{
		ID:   uuid.NewString(),
		Type: event.RegisteredType,
		Data: event.RegisteredPayload{
			ParticipantID: participantID,
			Role:          string(role),
			DisplayName:   participant.DisplayName,
		},
	}); err != nil {
		s.log.Debug("Unable to confirm registration", "participant_id", participantID, "connection_id", handle.ID(), "error", err)
	}
	if s.replay != nil {
		s.replay.Enqueue(participantID)
	}
	s.log.Debug("Participant registered", "participant_id", participantID, "role", role, "connection_id", handle.ID())
	return registration, nil
}

// Unregister drops handle if it still owns a presence entry.
func (s *PresenceService) Unregister(handle contract.ConnectionHandle) bool {
	removed := s.registry.Unregister(handle)
	if removed {
		s.observe()
		s.log.Debug("Participant unregistered", "connection_id", handle.ID())
	}
	return removed
}

func (s *PresenceService) observe() {
	stats := s.registry.Stats()
	s.metrics.Connections.WithLabelValues(string(domain.RoleRequester)).Set(float64(stats.Requesters))
	s.metrics.Connections.WithLabelValues(string(domain.RoleWorker)).Set(float64(stats.Workers))
}
